// Package path plans minimum-step routes over the warehouse grid with A*.
//
// The planner treats static obstacles (via the grid's walkability) and a
// caller-supplied occupancy set as impassable. It holds no state between
// calls beyond the grid reference, never mutates its inputs, and is
// deterministic: equal-f frontier entries pop in insertion order, so
// identical inputs always yield identical routes.
package path

import (
	"container/heap"

	"warefleet.io/internal/sim/grid"
)

type Planner struct {
	grid *grid.Grid
}

func NewPlanner(g *grid.Grid) *Planner {
	return &Planner{grid: g}
}

// FindPath returns the 4-connected shortest route from start (exclusive) to
// goal (inclusive). It returns a non-nil empty slice when start == goal and
// nil when the goal is blocked or unreachable. Cells in occupied are
// impassable for this call only; callers exclude their own position.
func (p *Planner) FindPath(start, goal grid.Pos, occupied map[grid.Pos]bool) []grid.Pos {
	if start == goal {
		return []grid.Pos{}
	}
	if !p.valid(goal, occupied) {
		return nil
	}

	open := &frontier{}
	heap.Init(open)

	gScore := map[grid.Pos]int{start: 0}
	cameFrom := map[grid.Pos]grid.Pos{}
	closed := map[grid.Pos]bool{}

	seq := 0
	heap.Push(open, node{pos: start, f: grid.Manhattan(start, goal), seq: seq})

	for open.Len() > 0 {
		cur := heap.Pop(open).(node)
		if cur.pos == goal {
			return reconstruct(cameFrom, cur.pos)
		}
		if closed[cur.pos] {
			continue
		}
		closed[cur.pos] = true

		for _, nb := range p.grid.Neighbors4(cur.pos.X, cur.pos.Y) {
			if closed[nb] || (occupied != nil && occupied[nb]) {
				continue
			}
			tentative := gScore[cur.pos] + 1
			if best, seen := gScore[nb]; seen && tentative >= best {
				continue
			}
			cameFrom[nb] = cur.pos
			gScore[nb] = tentative
			seq++
			heap.Push(open, node{pos: nb, f: tentative + grid.Manhattan(nb, goal), seq: seq})
		}
	}
	return nil
}

func (p *Planner) valid(pos grid.Pos, occupied map[grid.Pos]bool) bool {
	if !p.grid.IsWalkable(pos.X, pos.Y) {
		return false
	}
	return occupied == nil || !occupied[pos]
}

func reconstruct(cameFrom map[grid.Pos]grid.Pos, cur grid.Pos) []grid.Pos {
	var rev []grid.Pos
	for {
		prev, ok := cameFrom[cur]
		if !ok {
			break
		}
		rev = append(rev, cur)
		cur = prev
	}
	out := make([]grid.Pos, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, rev[i])
	}
	return out
}

type node struct {
	pos grid.Pos
	f   int
	seq int
}

type frontier []node

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].f != f[j].f {
		return f[i].f < f[j].f
	}
	return f[i].seq < f[j].seq
}
func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)   { *f = append(*f, x.(node)) }
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	it := old[n-1]
	*f = old[:n-1]
	return it
}
