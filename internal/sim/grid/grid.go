// Package grid models the warehouse floor: a fixed-size 2D field of typed
// cells plus per-type position registries for nearest-feature queries.
//
// A Grid is not safe for concurrent use; the fleet manager serializes all
// access to it.
package grid

import "math/rand"

type CellType string

const (
	CellEmpty           CellType = "empty"
	CellObstacle        CellType = "obstacle"
	CellChargingStation CellType = "charging_station"
	CellPickupZone      CellType = "pickup_zone"
	CellDeliveryZone    CellType = "delivery_zone"
	CellStartingStation CellType = "starting_station"
)

// ValidCellType reports whether t names one of the closed cell types.
func ValidCellType(t CellType) bool {
	switch t {
	case CellEmpty, CellObstacle, CellChargingStation, CellPickupZone, CellDeliveryZone, CellStartingStation:
		return true
	}
	return false
}

type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Manhattan returns the L1 distance between two positions.
func Manhattan(a, b Pos) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

// Grid is the warehouse layout. cells[y][x] holds the cell type; every
// non-empty type is additionally indexed in the matching position list.
// List membership always matches the cell array: SetCell is the single
// mutator and updates both together.
type Grid struct {
	width  int
	height int
	cells  [][]CellType

	chargingStations []Pos
	pickupZones      []Pos
	deliveryZones    []Pos
	startingStations []Pos
	obstacles        []Pos
}

const obstacleRatio = 0.05

// New builds a grid with the default layout: a starting station at the
// center, charging stations near the four corners, pickup zones flanking
// the center on the left/top, delivery zones on the right/bottom, and
// roughly 5% of the interior filled with obstacles placed by rejection
// sampling away from the starting station. The rng only influences
// obstacle placement.
func New(width, height int, rng *rand.Rand) *Grid {
	g := NewEmpty(width, height)

	cx, cy := width/2, height/2
	g.SetCell(cx, cy, CellStartingStation)

	for _, p := range []Pos{
		{X: 1, Y: 1},
		{X: 1, Y: height - 2},
		{X: width - 2, Y: 1},
		{X: width - 2, Y: height - 2},
	} {
		g.SetCell(p.X, p.Y, CellChargingStation)
	}

	for _, p := range []Pos{
		{X: 3, Y: cy - 2},
		{X: 3, Y: cy + 2},
		{X: cx - 2, Y: 3},
		{X: cx + 2, Y: 3},
	} {
		if g.CellAt(p.X, p.Y) == CellEmpty {
			g.SetCell(p.X, p.Y, CellPickupZone)
		}
	}

	for _, p := range []Pos{
		{X: width - 4, Y: cy - 2},
		{X: width - 4, Y: cy + 2},
		{X: cx - 2, Y: height - 4},
		{X: cx + 2, Y: height - 4},
	} {
		if g.CellAt(p.X, p.Y) == CellEmpty {
			g.SetCell(p.X, p.Y, CellDeliveryZone)
		}
	}

	want := int(float64(width*height) * obstacleRatio)
	added := 0
	// Bounded rejection sampling; hitting the cap just leaves fewer obstacles.
	for attempts := 0; added < want && attempts < want*10; attempts++ {
		x := 2 + rng.Intn(width-4)
		y := 2 + rng.Intn(height-4)
		if g.CellAt(x, y) != CellEmpty {
			continue
		}
		if abs(x-cx) <= 2 && abs(y-cy) <= 2 {
			continue
		}
		g.SetCell(x, y, CellObstacle)
		added++
	}
	return g
}

// NewEmpty builds a grid with every cell empty. Callers place features with
// AddFeature or SetCell.
func NewEmpty(width, height int) *Grid {
	g := &Grid{width: width, height: height}
	g.cells = make([][]CellType, height)
	for y := range g.cells {
		g.cells[y] = make([]CellType, width)
		for x := range g.cells[y] {
			g.cells[y][x] = CellEmpty
		}
	}
	return g
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (g *Grid) Width() int  { return g.width }
func (g *Grid) Height() int { return g.height }

func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && x < g.width && y >= 0 && y < g.height
}

// CellAt returns the cell type at (x,y), or "" when out of bounds.
func (g *Grid) CellAt(x, y int) CellType {
	if !g.InBounds(x, y) {
		return ""
	}
	return g.cells[y][x]
}

// SetCell sets the cell type at (x,y), keeping the per-type registries in
// sync. Returns false (and changes nothing) when out of bounds.
func (g *Grid) SetCell(x, y int, t CellType) bool {
	if !g.InBounds(x, y) {
		return false
	}
	old := g.cells[y][x]
	g.cells[y][x] = t

	p := Pos{X: x, Y: y}
	if lst := g.listFor(old); lst != nil {
		*lst = removePos(*lst, p)
	}
	if lst := g.listFor(t); lst != nil {
		if !containsPos(*lst, p) {
			*lst = append(*lst, p)
		}
	}
	return true
}

func (g *Grid) listFor(t CellType) *[]Pos {
	switch t {
	case CellChargingStation:
		return &g.chargingStations
	case CellPickupZone:
		return &g.pickupZones
	case CellDeliveryZone:
		return &g.deliveryZones
	case CellStartingStation:
		return &g.startingStations
	case CellObstacle:
		return &g.obstacles
	}
	return nil
}

func removePos(lst []Pos, p Pos) []Pos {
	for i, q := range lst {
		if q == p {
			return append(lst[:i], lst[i+1:]...)
		}
	}
	return lst
}

func containsPos(lst []Pos, p Pos) bool {
	for _, q := range lst {
		if q == p {
			return true
		}
	}
	return false
}

// IsWalkable reports whether a robot may occupy (x,y): any in-bounds cell
// that is not an obstacle.
func (g *Grid) IsWalkable(x, y int) bool {
	switch g.CellAt(x, y) {
	case CellEmpty, CellChargingStation, CellPickupZone, CellDeliveryZone, CellStartingStation:
		return true
	}
	return false
}

// Neighbors4 returns the walkable axis-aligned neighbors of (x,y) in fixed
// up/down/left/right order.
func (g *Grid) Neighbors4(x, y int) []Pos {
	dirs := [4]Pos{{X: 0, Y: -1}, {X: 0, Y: 1}, {X: -1, Y: 0}, {X: 1, Y: 0}}
	out := make([]Pos, 0, 4)
	for _, d := range dirs {
		nx, ny := x+d.X, y+d.Y
		if g.IsWalkable(nx, ny) {
			out = append(out, Pos{X: nx, Y: ny})
		}
	}
	return out
}

// nearest picks the list entry with minimum Manhattan distance to (x,y).
// Ties resolve to the first minimum in list order, which is stable for a
// given construction sequence.
func nearest(lst []Pos, x, y int) (Pos, bool) {
	if len(lst) == 0 {
		return Pos{}, false
	}
	from := Pos{X: x, Y: y}
	best := lst[0]
	bestD := Manhattan(from, best)
	for _, p := range lst[1:] {
		if d := Manhattan(from, p); d < bestD {
			best, bestD = p, d
		}
	}
	return best, true
}

func (g *Grid) NearestChargingStation(x, y int) (Pos, bool) { return nearest(g.chargingStations, x, y) }
func (g *Grid) NearestPickupZone(x, y int) (Pos, bool)      { return nearest(g.pickupZones, x, y) }
func (g *Grid) NearestDeliveryZone(x, y int) (Pos, bool)    { return nearest(g.deliveryZones, x, y) }

// StartingStation returns the first registered starting station.
func (g *Grid) StartingStation() (Pos, bool) {
	if len(g.startingStations) == 0 {
		return Pos{}, false
	}
	return g.startingStations[0], true
}

func (g *Grid) ChargingStations() []Pos { return append([]Pos(nil), g.chargingStations...) }
func (g *Grid) PickupZones() []Pos      { return append([]Pos(nil), g.pickupZones...) }
func (g *Grid) DeliveryZones() []Pos    { return append([]Pos(nil), g.deliveryZones...) }
func (g *Grid) Obstacles() []Pos        { return append([]Pos(nil), g.obstacles...) }

// AddFeature places a non-empty feature on an empty cell. Obstacles,
// zones and stations all require the target cell to be empty first.
func (g *Grid) AddFeature(t CellType, x, y int) bool {
	if t == CellEmpty || !ValidCellType(t) {
		return false
	}
	if g.CellAt(x, y) != CellEmpty {
		return false
	}
	return g.SetCell(x, y, t)
}

// RemoveFeature clears (x,y) back to empty, but only when the cell
// currently holds the named type.
func (g *Grid) RemoveFeature(t CellType, x, y int) bool {
	if t == CellEmpty || !ValidCellType(t) {
		return false
	}
	if g.CellAt(x, y) != t {
		return false
	}
	return g.SetCell(x, y, CellEmpty)
}

// Layout is the JSON view of the whole environment.
type Layout struct {
	Width            int          `json:"width"`
	Height           int          `json:"height"`
	Grid             [][]CellType `json:"grid"`
	ChargingStations []Pos        `json:"charging_stations"`
	DeliveryZones    []Pos        `json:"delivery_zones"`
	PickupZones      []Pos        `json:"pickup_zones"`
	StartingStations []Pos        `json:"starting_stations"`
	Obstacles        []Pos        `json:"obstacles"`
}

// Snapshot copies the full layout for serialization.
func (g *Grid) Snapshot() Layout {
	rows := make([][]CellType, g.height)
	for y := range rows {
		rows[y] = append([]CellType(nil), g.cells[y]...)
	}
	return Layout{
		Width:            g.width,
		Height:           g.height,
		Grid:             rows,
		ChargingStations: g.ChargingStations(),
		DeliveryZones:    g.DeliveryZones(),
		PickupZones:      g.PickupZones(),
		StartingStations: append([]Pos(nil), g.startingStations...),
		Obstacles:        g.Obstacles(),
	}
}
