package api

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"fleetroute/internal/metrics"
	"fleetroute/internal/model"
	"fleetroute/internal/opt"
	"fleetroute/internal/store"
)

// serverDefaults are the configured solver defaults as request options.
func (s *Server) serverDefaults() model.SolveOptions {
	return model.SolveOptions{
		TimeLimitMs:   int(s.Config.Solver.TimeLimit.Milliseconds()),
		MaxIterations: s.Config.Solver.MaxIterations,
		Workers:       s.Config.Solver.Workers,
	}
}

func overlay(base, top model.SolveOptions) model.SolveOptions {
	if top.TimeLimitMs > 0 {
		base.TimeLimitMs = top.TimeLimitMs
	}
	if top.MaxIterations > 0 {
		base.MaxIterations = top.MaxIterations
	}
	if top.Workers > 0 {
		base.Workers = top.Workers
	}
	base.AllowPartial = base.AllowPartial || top.AllowPartial
	base.SkipLocalSearch = base.SkipLocalSearch || top.SkipLocalSearch
	return base
}

// tenantDefaults returns server defaults overlaid with the tenant's stored
// solver config, if any.
func (s *Server) tenantDefaults(ctx context.Context, tenant string) model.SolveOptions {
	eff := s.serverDefaults()
	cfg, err := s.Store.GetSolverConfig(ctx, tenant)
	switch {
	case err == nil:
		eff = overlay(eff, cfg.Defaults)
	case !errors.Is(err, store.ErrNotFound):
		s.log.WithError(err).WithField("tenant", tenant).Warn("loading solver config")
	}
	return eff
}

// resolveOptions layers request options over tenant and server defaults and
// clamps the time limit to the configured maximum.
func (s *Server) resolveOptions(ctx context.Context, tenant string, req model.SolveOptions) (model.SolveOptions, opt.Options) {
	eff := overlay(s.tenantDefaults(ctx, tenant), req)
	if ceiling := s.Config.Solver.MaxTimeLimit; ceiling > 0 {
		if eff.TimeLimitMs == 0 || time.Duration(eff.TimeLimitMs)*time.Millisecond > ceiling {
			eff.TimeLimitMs = int(ceiling.Milliseconds())
		}
	}
	return eff, opt.Options{
		TimeLimit:       time.Duration(eff.TimeLimitMs) * time.Millisecond,
		MaxIterations:   eff.MaxIterations,
		Workers:         eff.Workers,
		BatchSize:       s.Config.Solver.BatchSize,
		AllowPartial:    eff.AllowPartial,
		SkipLocalSearch: eff.SkipLocalSearch,
	}
}

func (s *Server) publish(ctx context.Context, evt model.RunEvent) {
	evt.TS = time.Now().UTC().Format(time.RFC3339Nano)
	s.Broker.Publish(ctx, evt)
}

func completedEvent(run model.SolveRun) model.RunEvent {
	evt := model.RunEvent{
		Type:     model.EventSolveCompleted,
		RunID:    run.ID,
		TenantID: run.TenantID,
		Status:   run.Status,
		Report:   run.Report,
	}
	if run.Report != nil {
		evt.Cost = run.Report.TotalCost
	}
	if run.CompletedAt != nil {
		evt.TS = run.CompletedAt.Format(time.RFC3339Nano)
	}
	return evt
}

// execute runs a queued solve to completion and records its outcome. The
// outcome is stored even when ctx is canceled mid-search.
func (s *Server) execute(ctx context.Context, run model.SolveRun, m *opt.Model, opts opt.Options) (model.SolveRun, error) {
	log := s.log.WithFields(logrus.Fields{"run": run.ID, "tenant": run.TenantID})
	persist, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var out model.RunOutcome
	select {
	case s.slots <- struct{}{}:
		out = s.solve(ctx, run, m, opts, log)
		<-s.slots
	case <-ctx.Done():
		out = model.RunOutcome{Status: model.RunFailed, Error: "canceled before start: " + ctx.Err().Error()}
	}
	metrics.SolveRuns.WithLabelValues(out.Status).Inc()

	done, err := s.Store.CompleteRun(persist, run.TenantID, run.ID, out)
	if err != nil {
		log.WithError(err).Error("recording run outcome")
		return run, err
	}
	s.publish(persist, completedEvent(done))
	if _, err := s.Notifier.RunCompleted(persist, done); err != nil {
		log.WithError(err).Warn("enqueueing completion callback")
	}
	fields := logrus.Fields{"status": done.Status}
	if done.Stats != nil {
		fields["cost"] = done.Stats.FinalCost
		fields["iterations"] = done.Stats.Iterations
		fields["stop"] = done.Stats.Stop
	}
	log.WithFields(fields).Info("solve finished")
	return done, nil
}

func (s *Server) solve(ctx context.Context, run model.SolveRun, m *opt.Model, opts opt.Options, log *logrus.Entry) model.RunOutcome {
	metrics.RunningSolves.Inc()
	defer metrics.RunningSolves.Dec()
	if err := s.Store.StartRun(ctx, run.TenantID, run.ID); err != nil {
		log.WithError(err).Warn("marking run started")
	}
	s.publish(ctx, model.RunEvent{Type: model.EventSolveStarted, RunID: run.ID, TenantID: run.TenantID, Status: model.RunRunning})

	opts.Logger = log
	opts.OnImprove = func(p opt.Progress) {
		metrics.AcceptedMoves.WithLabelValues(p.Move.String()).Inc()
		s.publish(ctx, model.RunEvent{
			Type:      model.EventSolveImproved,
			RunID:     run.ID,
			TenantID:  run.TenantID,
			Iteration: p.Iteration,
			Move:      p.Move.String(),
			Cost:      p.Cost,
			Delta:     p.Delta,
		})
	}
	start := time.Now()
	res, err := opt.Solve(ctx, m, opts)
	metrics.SolveDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	if err != nil {
		return model.RunOutcome{Status: model.RunFailed, Error: err.Error()}
	}
	metrics.SolveDuration.WithLabelValues("construct").Observe(res.Stats.ConstructDuration.Seconds())
	metrics.SolveDuration.WithLabelValues("search").Observe(res.Stats.SearchDuration.Seconds())
	metrics.SearchIterations.Observe(float64(res.Stats.Iterations))

	rep := res.Report()
	stats := res.Stats
	status := model.RunSolved
	if res.Status == opt.StatusInfeasible {
		status = model.RunInfeasible
	}
	return model.RunOutcome{Status: status, Report: &rep, Stats: &stats}
}
