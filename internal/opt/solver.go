package opt

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Status is the outcome of a solve.
type Status int

const (
	StatusSolved Status = iota
	StatusInfeasible
)

func (s Status) String() string {
	if s == StatusInfeasible {
		return "infeasible"
	}
	return "solved"
}

// Options tune a solve. The zero value runs construction and local search to
// a local optimum, sequentially, with no time budget.
type Options struct {
	// TimeLimit bounds local search. Zero means no limit beyond ctx.
	TimeLimit time.Duration
	// MaxIterations caps the number of accepted moves. Zero means no cap.
	MaxIterations int
	// Workers > 1 evaluates neighborhood batches concurrently. Results are
	// identical to sequential evaluation.
	Workers int
	// BatchSize is the number of moves per concurrent batch.
	BatchSize int
	// AllowPartial returns a solution even if some nodes could not be routed.
	AllowPartial bool
	// SkipLocalSearch returns the first solution as is.
	SkipLocalSearch bool
	// OnImprove is called synchronously after every accepted move.
	OnImprove func(Progress)
	Logger    logrus.FieldLogger
}

const defaultBatchSize = 256

func (o Options) withDefaults() (Options, error) {
	if o.TimeLimit < 0 {
		return o, configErr("options", "time limit %s is negative", o.TimeLimit)
	}
	if o.MaxIterations < 0 {
		return o, configErr("options", "max iterations %d is negative", o.MaxIterations)
	}
	if o.Workers < 0 {
		return o, configErr("options", "workers %d is negative", o.Workers)
	}
	if o.BatchSize < 0 {
		return o, configErr("options", "batch size %d is negative", o.BatchSize)
	}
	if o.Workers == 0 {
		o.Workers = 1
	}
	if o.BatchSize == 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o, nil
}

// Stats describes what the solve did.
type Stats struct {
	InitialCost       int64          `json:"initialCost"`
	FinalCost         int64          `json:"finalCost"`
	Iterations        int            `json:"iterations"`
	Evaluated         int            `json:"evaluated"`
	Accepted          map[string]int `json:"accepted"`
	Stop              StopReason     `json:"stop"`
	ConstructDuration time.Duration  `json:"constructDurationNs"`
	SearchDuration    time.Duration  `json:"searchDurationNs"`
}

// Result is what Solve returns. When Status is StatusInfeasible, Solution
// holds the best partial assignment found and Unrouted the nodes left over.
type Result struct {
	Status   Status
	Solution *Solution
	Unrouted []int
	Stats    Stats

	model *Model
}

// Cost is the total arc cost of the returned solution.
func (r *Result) Cost() int64 { return r.model.Cost(r.Solution) }

// Solve builds a first solution with the path-cheapest-arc rule and improves
// it by first-improvement local search (relocate, swap, 2-opt).
//
// The search is a heuristic. StatusInfeasible means the construction could
// not place every node under the dimension constraints; a feasible routing
// may still exist. Solve is deterministic: identical inputs give identical
// results, whatever Workers is set to. Hitting the time or iteration budget,
// or ctx being done, returns the best solution so far rather than an error.
func Solve(ctx context.Context, m *Model, opts Options) (*Result, error) {
	if m == nil {
		return nil, configErr("model", "model is nil")
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	res := &Result{model: m, Stats: Stats{Accepted: map[string]int{}}}

	t0 := time.Now()
	sol := m.construct(log)
	res.Stats.ConstructDuration = time.Since(t0)
	res.Stats.InitialCost = m.Cost(sol)
	res.Solution = sol
	for _, slot := range sol.Unrouted() {
		res.Unrouted = append(res.Unrouted, m.topo.NodeOf(slot))
	}
	log.WithFields(logrus.Fields{
		"routed":   sol.NumRouted(),
		"unrouted": len(res.Unrouted),
		"cost":     res.Stats.InitialCost,
		"elapsed":  res.Stats.ConstructDuration,
	}).Debug("[TIMING] construction")

	if !m.dims.IsFeasible(sol) || (len(res.Unrouted) > 0 && !opts.AllowPartial) {
		res.Status = StatusInfeasible
		res.Stats.Stop = StopSkipped
		res.Stats.FinalCost = res.Stats.InitialCost
		return res, nil
	}
	if opts.SkipLocalSearch {
		res.Stats.Stop = StopSkipped
		res.Stats.FinalCost = res.Stats.InitialCost
		return res, nil
	}

	if opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TimeLimit)
		defer cancel()
	}
	t1 := time.Now()
	ls := newLocalSearch(m, sol, opts, &res.Stats)
	res.Stats.Stop = ls.run(ctx, opts.MaxIterations)
	res.Stats.SearchDuration = time.Since(t1)
	res.Stats.FinalCost = ls.total

	log.WithFields(logrus.Fields{
		"iterations": res.Stats.Iterations,
		"evaluated":  res.Stats.Evaluated,
		"cost":       res.Stats.FinalCost,
		"stop":       res.Stats.Stop,
		"elapsed":    res.Stats.SearchDuration,
	}).Debug("[TIMING] local search")
	return res, nil
}
