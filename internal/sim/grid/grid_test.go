package grid

import (
	"math/rand"
	"testing"
)

func TestDefaultLayout(t *testing.T) {
	g := New(20, 20, rand.New(rand.NewSource(42)))

	if home, ok := g.StartingStation(); !ok || home != (Pos{X: 10, Y: 10}) {
		t.Fatalf("starting station = %v ok=%v, want (10,10)", home, ok)
	}
	if got := len(g.ChargingStations()); got != 4 {
		t.Fatalf("charging stations = %d, want 4", got)
	}
	if got := len(g.PickupZones()); got != 4 {
		t.Fatalf("pickup zones = %d, want 4", got)
	}
	if got := len(g.DeliveryZones()); got != 4 {
		t.Fatalf("delivery zones = %d, want 4", got)
	}
	if got := len(g.Obstacles()); got == 0 || got > 20 {
		t.Fatalf("obstacles = %d, want 1..20 (5%% of 400)", got)
	}
	for _, p := range g.Obstacles() {
		if abs(p.X-10) <= 2 && abs(p.Y-10) <= 2 {
			t.Fatalf("obstacle %v inside the keep-clear zone around the start", p)
		}
	}
}

func TestObstaclePlacementIsDeterministic(t *testing.T) {
	a := New(20, 20, rand.New(rand.NewSource(7)))
	b := New(20, 20, rand.New(rand.NewSource(7)))
	oa, ob := a.Obstacles(), b.Obstacles()
	if len(oa) != len(ob) {
		t.Fatalf("obstacle counts differ: %d vs %d", len(oa), len(ob))
	}
	for i := range oa {
		if oa[i] != ob[i] {
			t.Fatalf("obstacle %d differs: %v vs %v", i, oa[i], ob[i])
		}
	}
}

func TestSetCellKeepsRegistriesInSync(t *testing.T) {
	g := NewEmpty(5, 5)
	if !g.SetCell(2, 3, CellChargingStation) {
		t.Fatalf("set cell failed")
	}
	if got := g.ChargingStations(); len(got) != 1 || got[0] != (Pos{X: 2, Y: 3}) {
		t.Fatalf("registry = %v", got)
	}
	g.SetCell(2, 3, CellObstacle)
	if len(g.ChargingStations()) != 0 {
		t.Fatalf("stale charging station after overwrite")
	}
	if got := g.Obstacles(); len(got) != 1 || got[0] != (Pos{X: 2, Y: 3}) {
		t.Fatalf("obstacle registry = %v", got)
	}
	if g.SetCell(9, 9, CellObstacle) {
		t.Fatalf("out-of-bounds set must fail")
	}
}

func TestAddFeatureRequiresEmptyCell(t *testing.T) {
	g := NewEmpty(4, 4)
	if !g.AddFeature(CellPickupZone, 1, 1) {
		t.Fatalf("add to empty cell failed")
	}
	if g.AddFeature(CellObstacle, 1, 1) {
		t.Fatalf("add to occupied cell must fail")
	}
	if g.AddFeature(CellEmpty, 2, 2) {
		t.Fatalf("adding the empty type must fail")
	}
}

func TestRemoveFeatureRequiresMatchingType(t *testing.T) {
	g := NewEmpty(4, 4)
	g.AddFeature(CellObstacle, 1, 1)
	if g.RemoveFeature(CellPickupZone, 1, 1) {
		t.Fatalf("type mismatch must fail")
	}
	if !g.RemoveFeature(CellObstacle, 1, 1) {
		t.Fatalf("matching remove failed")
	}
	if g.CellAt(1, 1) != CellEmpty {
		t.Fatalf("cell not cleared: %s", g.CellAt(1, 1))
	}
	if len(g.Obstacles()) != 0 {
		t.Fatalf("registry not cleared")
	}
}

func TestWalkabilityAndNeighbors(t *testing.T) {
	g := NewEmpty(3, 3)
	g.AddFeature(CellObstacle, 1, 0)

	if g.IsWalkable(1, 0) {
		t.Fatalf("obstacle must not be walkable")
	}
	if g.IsWalkable(-1, 0) || g.IsWalkable(3, 3) {
		t.Fatalf("out of bounds must not be walkable")
	}
	if !g.IsWalkable(0, 0) {
		t.Fatalf("empty cell must be walkable")
	}

	n := g.Neighbors4(1, 1)
	want := []Pos{{X: 1, Y: 2}, {X: 0, Y: 1}, {X: 2, Y: 1}}
	if len(n) != len(want) {
		t.Fatalf("neighbors = %v, want %v", n, want)
	}
	for i := range want {
		if n[i] != want[i] {
			t.Fatalf("neighbor order: got %v, want %v", n, want)
		}
	}
}

func TestNearestFeatureTieBreak(t *testing.T) {
	g := NewEmpty(7, 7)
	g.AddFeature(CellChargingStation, 0, 3) // registered first
	g.AddFeature(CellChargingStation, 6, 3) // same distance from center
	got, ok := g.NearestChargingStation(3, 3)
	if !ok || got != (Pos{X: 0, Y: 3}) {
		t.Fatalf("tie should resolve to first registered, got %v", got)
	}
}

func TestManhattan(t *testing.T) {
	if d := Manhattan(Pos{X: 1, Y: 2}, Pos{X: 4, Y: 0}); d != 5 {
		t.Fatalf("distance = %d, want 5", d)
	}
	if d := Manhattan(Pos{X: 3, Y: 3}, Pos{X: 3, Y: 3}); d != 0 {
		t.Fatalf("distance = %d, want 0", d)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	g := NewEmpty(3, 3)
	g.AddFeature(CellObstacle, 2, 2)
	snap := g.Snapshot()
	snap.Grid[2][2] = CellEmpty
	if g.CellAt(2, 2) != CellObstacle {
		t.Fatalf("snapshot mutation leaked into the grid")
	}
	if snap.Width != 3 || snap.Height != 3 || len(snap.Obstacles) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
