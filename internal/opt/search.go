package opt

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// StopReason says why local search returned.
type StopReason string

const (
	StopLocalOptimum   StopReason = "local_optimum"
	StopIterationLimit StopReason = "iteration_limit"
	StopTimeLimit      StopReason = "time_limit"
	StopCanceled       StopReason = "canceled"
	StopSkipped        StopReason = "skipped"
)

// Progress is reported to Options.OnImprove after every accepted move.
type Progress struct {
	Iteration int
	Move      MoveKind
	Cost      int64
	Delta     int64
	Elapsed   time.Duration
}

// ctxCheckEvery bounds how many sequential evaluations run between budget checks.
const ctxCheckEvery = 64

type localSearch struct {
	model     *Model
	sol       *Solution
	routeCost []int64
	total     int64

	workers   int
	batchSize int
	onImprove func(Progress)
	log       logrus.FieldLogger
	stats     *Stats
	started   time.Time
}

func newLocalSearch(m *Model, sol *Solution, opts Options, stats *Stats) *localSearch {
	ls := &localSearch{
		model:     m,
		sol:       sol,
		routeCost: make([]int64, m.topo.NumVehicles()),
		workers:   opts.Workers,
		batchSize: opts.BatchSize,
		onImprove: opts.OnImprove,
		log:       opts.Logger,
		stats:     stats,
		started:   time.Now(),
	}
	for v := range ls.routeCost {
		ls.routeCost[v] = m.RouteCost(v, sol.Route(v))
		ls.total += ls.routeCost[v]
	}
	return ls
}

// run applies first-improvement moves until none improves or a budget runs
// out. Each accepted move strictly lowers total cost, so the loop cannot
// cycle. A move is applied whole or not at all.
func (ls *localSearch) run(ctx context.Context, maxIterations int) StopReason {
	for {
		if maxIterations > 0 && ls.stats.Iterations >= maxIterations {
			return StopIterationLimit
		}
		var (
			mv    move
			ev    evaluation
			found bool
			err   error
		)
		if ls.workers > 1 {
			mv, ev, found, err = ls.scanParallel(ctx)
		} else {
			mv, ev, found, err = ls.scan(ctx)
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return StopTimeLimit
			}
			return StopCanceled
		}
		if !found {
			return StopLocalOptimum
		}
		ls.apply(mv, ev)
	}
}

func (ls *localSearch) scan(ctx context.Context) (move, evaluation, bool, error) {
	n := 0
	for mv := range neighborhood(ls.sol) {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return move{}, evaluation{}, false, err
			}
		}
		n++
		ls.stats.Evaluated++
		if ev, ok := ls.evaluate(mv); ok {
			return mv, ev, true, nil
		}
	}
	return move{}, evaluation{}, false, nil
}

func (ls *localSearch) scanParallel(ctx context.Context) (move, evaluation, bool, error) {
	batch := make([]move, 0, ls.batchSize)
	flush := func() (move, evaluation, bool, error) {
		idx, ev, err := ls.firstImproving(ctx, batch)
		if err != nil {
			return move{}, evaluation{}, false, err
		}
		if idx < 0 {
			ls.stats.Evaluated += len(batch)
			batch = batch[:0]
			return move{}, evaluation{}, false, nil
		}
		ls.stats.Evaluated += idx + 1
		return batch[idx], ev, true, nil
	}
	for mv := range neighborhood(ls.sol) {
		batch = append(batch, mv)
		if len(batch) < ls.batchSize {
			continue
		}
		if mv, ev, found, err := flush(); found || err != nil {
			return mv, ev, found, err
		}
	}
	if len(batch) == 0 {
		return move{}, evaluation{}, false, ctx.Err()
	}
	return flush()
}

func (ls *localSearch) apply(mv move, ev evaluation) {
	if len(ev.changes) == 0 || ev.delta >= 0 {
		invariant("applying non-improving %s move (delta %d)", mv.kind, ev.delta)
	}
	ls.sol.setRoutes(ev.changes)
	for i, c := range ev.changes {
		ls.routeCost[c.vehicle] = ev.costs[i]
	}
	ls.total += ev.delta
	ls.stats.Iterations++
	ls.stats.Accepted[mv.kind.String()]++

	p := Progress{
		Iteration: ls.stats.Iterations,
		Move:      mv.kind,
		Cost:      ls.total,
		Delta:     ev.delta,
		Elapsed:   time.Since(ls.started),
	}
	ls.log.WithFields(logrus.Fields{
		"iteration": p.Iteration,
		"move":      p.Move.String(),
		"cost":      p.Cost,
		"delta":     p.Delta,
	}).Debug("[SEARCH] move accepted")
	if ls.onImprove != nil {
		ls.onImprove(p)
	}
}
