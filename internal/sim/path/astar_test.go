package path

import (
	"math/rand"
	"testing"

	"warefleet.io/internal/sim/grid"
)

func TestFindPathStraightLine(t *testing.T) {
	g := grid.NewEmpty(10, 10)
	p := NewPlanner(g).FindPath(grid.Pos{X: 0, Y: 0}, grid.Pos{X: 4, Y: 0}, nil)
	if len(p) != 4 {
		t.Fatalf("path length = %d, want 4: %v", len(p), p)
	}
	if p[len(p)-1] != (grid.Pos{X: 4, Y: 0}) {
		t.Fatalf("path does not end at goal: %v", p)
	}
	for i, step := range p {
		want := grid.Pos{X: i + 1, Y: 0}
		if step != want {
			t.Fatalf("step %d = %v, want %v", i, step, want)
		}
	}
}

func TestFindPathSameStartAndGoal(t *testing.T) {
	g := grid.NewEmpty(5, 5)
	p := NewPlanner(g).FindPath(grid.Pos{X: 2, Y: 2}, grid.Pos{X: 2, Y: 2}, nil)
	if p == nil {
		t.Fatalf("same-cell path must be empty, not nil")
	}
	if len(p) != 0 {
		t.Fatalf("same-cell path length = %d, want 0", len(p))
	}
}

func TestFindPathAroundWall(t *testing.T) {
	// Vertical wall at x=2 with a gap at y=4.
	g := grid.NewEmpty(5, 5)
	for y := 0; y < 4; y++ {
		g.AddFeature(grid.CellObstacle, 2, y)
	}
	p := NewPlanner(g).FindPath(grid.Pos{X: 0, Y: 0}, grid.Pos{X: 4, Y: 0}, nil)
	if p == nil {
		t.Fatalf("no path found around wall")
	}
	if len(p) != 12 {
		t.Fatalf("detour length = %d, want 12: %v", len(p), p)
	}
	for _, step := range p {
		if !g.IsWalkable(step.X, step.Y) {
			t.Fatalf("path crosses obstacle at %v", step)
		}
	}
}

func TestFindPathUnreachableGoal(t *testing.T) {
	g := grid.NewEmpty(5, 5)
	// Box in the goal completely.
	for _, p := range []grid.Pos{{X: 3, Y: 3}, {X: 3, Y: 4}, {X: 4, Y: 3}} {
		g.AddFeature(grid.CellObstacle, p.X, p.Y)
	}
	if p := NewPlanner(g).FindPath(grid.Pos{X: 0, Y: 0}, grid.Pos{X: 4, Y: 4}, nil); p != nil {
		t.Fatalf("expected nil for unreachable goal, got %v", p)
	}
}

func TestFindPathGoalInvalid(t *testing.T) {
	g := grid.NewEmpty(5, 5)
	g.AddFeature(grid.CellObstacle, 3, 3)
	pl := NewPlanner(g)
	if p := pl.FindPath(grid.Pos{X: 0, Y: 0}, grid.Pos{X: 3, Y: 3}, nil); p != nil {
		t.Fatalf("obstacle goal must yield nil, got %v", p)
	}
	if p := pl.FindPath(grid.Pos{X: 0, Y: 0}, grid.Pos{X: 9, Y: 9}, nil); p != nil {
		t.Fatalf("out-of-bounds goal must yield nil, got %v", p)
	}
}

func TestFindPathRespectsOccupied(t *testing.T) {
	g := grid.NewEmpty(5, 1)
	occ := map[grid.Pos]bool{{X: 2, Y: 0}: true}
	if p := NewPlanner(g).FindPath(grid.Pos{X: 0, Y: 0}, grid.Pos{X: 4, Y: 0}, occ); p != nil {
		t.Fatalf("occupied cell blocks the only corridor, got %v", p)
	}
	// Same corridor, no occupancy: passes through.
	if p := NewPlanner(g).FindPath(grid.Pos{X: 0, Y: 0}, grid.Pos{X: 4, Y: 0}, nil); len(p) != 4 {
		t.Fatalf("open corridor length = %d, want 4", len(p))
	}
}

func TestFindPathDeterministic(t *testing.T) {
	g := grid.New(20, 20, rand.New(rand.NewSource(3)))
	pl := NewPlanner(g)
	start, goal := grid.Pos{X: 1, Y: 1}, grid.Pos{X: 18, Y: 18}
	first := pl.FindPath(start, goal, nil)
	for i := 0; i < 5; i++ {
		again := pl.FindPath(start, goal, nil)
		if len(again) != len(first) {
			t.Fatalf("run %d length %d != %d", i, len(again), len(first))
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d diverges at step %d: %v != %v", i, j, again[j], first[j])
			}
		}
	}
}

// bfsDistance is an independent shortest-path oracle.
func bfsDistance(g *grid.Grid, start, goal grid.Pos) int {
	if start == goal {
		return 0
	}
	dist := map[grid.Pos]int{start: 0}
	queue := []grid.Pos{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g.Neighbors4(cur.X, cur.Y) {
			if _, seen := dist[n]; seen {
				continue
			}
			dist[n] = dist[cur] + 1
			if n == goal {
				return dist[n]
			}
			queue = append(queue, n)
		}
	}
	return -1
}

func TestFindPathOptimalAgainstBFS(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	g := grid.New(16, 16, rng)
	pl := NewPlanner(g)

	for i := 0; i < 200; i++ {
		start := grid.Pos{X: rng.Intn(16), Y: rng.Intn(16)}
		goal := grid.Pos{X: rng.Intn(16), Y: rng.Intn(16)}
		if !g.IsWalkable(start.X, start.Y) || !g.IsWalkable(goal.X, goal.Y) {
			continue
		}
		want := bfsDistance(g, start, goal)
		got := pl.FindPath(start, goal, nil)
		if want == -1 {
			if got != nil {
				t.Fatalf("%v->%v: BFS says unreachable, A* found %v", start, goal, got)
			}
			continue
		}
		if got == nil {
			t.Fatalf("%v->%v: BFS found distance %d, A* found nothing", start, goal, want)
		}
		if len(got) != want {
			t.Fatalf("%v->%v: A* length %d, BFS length %d", start, goal, len(got), want)
		}
	}
}
