package opt

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

// MoveKind identifies a local search operator.
type MoveKind int

const (
	MoveRelocate MoveKind = iota
	MoveSwap
	MoveTwoOpt
	numMoveKinds
)

func (k MoveKind) String() string {
	switch k {
	case MoveRelocate:
		return "relocate"
	case MoveSwap:
		return "swap"
	case MoveTwoOpt:
		return "two_opt"
	default:
		return "unknown"
	}
}

// move is one candidate of the neighborhood.
//
//	relocate: visit a goes to position pos of vehicle v
//	swap:     visits a and b exchange positions
//	two_opt:  route of vehicle v reversed between positions i and j
type move struct {
	kind MoveKind
	a, b int
	v    int
	pos  int
	i, j int
}

// neighborhood enumerates every move in a fixed order: relocate, swap,
// 2-opt; slots, vehicles and positions increasing.
func neighborhood(sol *Solution) iter.Seq[move] {
	topo := sol.Topology()
	return func(yield func(move) bool) {
		for a := 0; a < topo.NumVisits(); a++ {
			u := sol.VehicleOf(a)
			if u == unrouted {
				continue
			}
			from := indexOf(sol.Route(u), a)
			for v := 0; v < topo.NumVehicles(); v++ {
				n := len(sol.Route(v))
				if v == u {
					// positions in the route with a removed
					for pos := 0; pos < n; pos++ {
						if pos == from {
							continue
						}
						if !yield(move{kind: MoveRelocate, a: a, v: v, pos: pos}) {
							return
						}
					}
					continue
				}
				for pos := 0; pos <= n; pos++ {
					if !yield(move{kind: MoveRelocate, a: a, v: v, pos: pos}) {
						return
					}
				}
			}
		}
		for a := 0; a < topo.NumVisits(); a++ {
			if sol.VehicleOf(a) == unrouted {
				continue
			}
			for b := a + 1; b < topo.NumVisits(); b++ {
				if sol.VehicleOf(b) == unrouted {
					continue
				}
				if !yield(move{kind: MoveSwap, a: a, b: b}) {
					return
				}
			}
		}
		for v := 0; v < topo.NumVehicles(); v++ {
			n := len(sol.Route(v))
			for i := 0; i < n-1; i++ {
				for j := i + 1; j < n; j++ {
					if !yield(move{kind: MoveTwoOpt, v: v, i: i, j: j}) {
						return
					}
				}
			}
		}
	}
}

// changes returns the rewritten routes a move produces. sol is not modified.
func (mv move) changes(sol *Solution) []routeChange {
	switch mv.kind {
	case MoveRelocate:
		u := sol.VehicleOf(mv.a)
		src := sol.Route(u)
		from := indexOf(src, mv.a)
		rest := make([]int, 0, len(src))
		rest = append(rest, src[:from]...)
		rest = append(rest, src[from+1:]...)
		if u == mv.v {
			return []routeChange{{vehicle: u, visits: insertAt(rest, mv.pos, mv.a)}}
		}
		dst := sol.Route(mv.v)
		return []routeChange{
			{vehicle: u, visits: rest},
			{vehicle: mv.v, visits: insertAt(dst, mv.pos, mv.a)},
		}
	case MoveSwap:
		u, w := sol.VehicleOf(mv.a), sol.VehicleOf(mv.b)
		ra := append([]int(nil), sol.Route(u)...)
		ia := indexOf(ra, mv.a)
		if u == w {
			ib := indexOf(ra, mv.b)
			ra[ia], ra[ib] = ra[ib], ra[ia]
			return []routeChange{{vehicle: u, visits: ra}}
		}
		rb := append([]int(nil), sol.Route(w)...)
		ib := indexOf(rb, mv.b)
		ra[ia], rb[ib] = rb[ib], ra[ia]
		return []routeChange{{vehicle: u, visits: ra}, {vehicle: w, visits: rb}}
	case MoveTwoOpt:
		return []routeChange{{vehicle: mv.v, visits: twoOptSwap(sol.Route(mv.v), mv.i, mv.j)}}
	}
	invariant("unknown move kind %d", mv.kind)
	return nil
}

// twoOptSwap returns a copy of ord with ord[i..k] reversed.
func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

func insertAt(s []int, pos, x int) []int {
	out := make([]int, 0, len(s)+1)
	out = append(out, s[:pos]...)
	out = append(out, x)
	return append(out, s[pos:]...)
}

func indexOf(s []int, x int) int {
	for i, y := range s {
		if y == x {
			return i
		}
	}
	invariant("slot %d missing from its route", x)
	return -1
}

// evaluation is the outcome of checking one move against the current state.
type evaluation struct {
	changes []routeChange
	costs   []int64
	delta   int64
}

// evaluate accepts a move only if it strictly lowers cost and every changed
// route stays feasible for every dimension.
func (ls *localSearch) evaluate(mv move) (evaluation, bool) {
	changes := mv.changes(ls.sol)
	if len(changes) == 0 {
		return evaluation{}, false
	}
	ev := evaluation{changes: changes, costs: make([]int64, len(changes))}
	for i, c := range changes {
		ev.costs[i] = ls.model.RouteCost(c.vehicle, c.visits)
		ev.delta += ev.costs[i] - ls.routeCost[c.vehicle]
	}
	if ev.delta >= 0 {
		return ev, false
	}
	for _, c := range changes {
		if !ls.model.dims.routeFeasible(c.vehicle, c.visits) {
			return ev, false
		}
	}
	return ev, true
}

// firstImproving evaluates a batch concurrently and returns the index of the
// earliest improving move, or -1. Workers only read the solution.
func (ls *localSearch) firstImproving(ctx context.Context, batch []move) (int, evaluation, error) {
	chunk := (len(batch) + ls.workers - 1) / ls.workers
	found := make([]int, ls.workers)
	for w := range found {
		found[w] = -1
	}
	evals := make([]evaluation, ls.workers)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ls.workers)
	for w := 0; w < ls.workers; w++ {
		lo := w * chunk
		if lo >= len(batch) {
			break
		}
		hi := min(lo+chunk, len(batch))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if ev, ok := ls.evaluate(batch[i]); ok {
					found[w], evals[w] = i, ev
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return -1, evaluation{}, err
	}
	for w := range found {
		if found[w] >= 0 {
			return found[w], evals[w], nil
		}
	}
	return -1, evaluation{}, nil
}
