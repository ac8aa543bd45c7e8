package model

import (
	"time"

	"fleetroute/internal/opt"
)

// Run statuses. A run moves queued -> running -> one of the final states.
const (
	RunQueued     = "queued"
	RunRunning    = "running"
	RunSolved     = "solved"
	RunInfeasible = "infeasible"
	RunFailed     = "failed"
)

// Event types published while a run progresses.
const (
	EventSolveStarted   = "solve.started"
	EventSolveImproved  = "solve.improved"
	EventSolveCompleted = "solve.completed"
)

// SolveOptions are per-request solver knobs. Zero fields fall back to the
// tenant's solver config, then to server defaults.
type SolveOptions struct {
	TimeLimitMs     int  `json:"timeLimitMs,omitempty" yaml:"timeLimitMs,omitempty"`
	MaxIterations   int  `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty"`
	Workers         int  `json:"workers,omitempty" yaml:"workers,omitempty"`
	AllowPartial    bool `json:"allowPartial,omitempty" yaml:"allowPartial,omitempty"`
	SkipLocalSearch bool `json:"skipLocalSearch,omitempty" yaml:"skipLocalSearch,omitempty"`
}

type SolveRequest struct {
	TenantID       string       `json:"tenantId"`
	Problem        opt.Problem  `json:"problem"`
	Options        SolveOptions `json:"options,omitempty"`
	Async          bool         `json:"async,omitempty"`
	CallbackURL    string       `json:"callbackUrl,omitempty"`
	CallbackSecret string       `json:"callbackSecret,omitempty"`
}

// SolveRun is a persisted solve and, once finished, its outcome.
type SolveRun struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenantId"`
	Status         string       `json:"status"`
	Problem        *opt.Problem `json:"problem,omitempty"`
	Options        SolveOptions `json:"options"`
	Report         *opt.Report  `json:"report,omitempty"`
	Stats          *opt.Stats   `json:"stats,omitempty"`
	Error          string       `json:"error,omitempty"`
	CallbackURL    string       `json:"callbackUrl,omitempty"`
	CallbackSecret string       `json:"-"`
	CreatedAt      time.Time    `json:"createdAt"`
	StartedAt      *time.Time   `json:"startedAt,omitempty"`
	CompletedAt    *time.Time   `json:"completedAt,omitempty"`
}

// Finished reports whether the run reached a final state.
func (r SolveRun) Finished() bool {
	switch r.Status {
	case RunSolved, RunInfeasible, RunFailed:
		return true
	}
	return false
}

// RunOutcome is what a finished solve writes back to its run.
type RunOutcome struct {
	Status string
	Report *opt.Report
	Stats  *opt.Stats
	Error  string
}

// SolverConfig holds a tenant's solver defaults.
type SolverConfig struct {
	TenantID  string       `json:"tenantId"`
	Defaults  SolveOptions `json:"defaults"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// RunEvent is streamed over SSE, WebSocket and Redis.
type RunEvent struct {
	Type      string      `json:"type"`
	RunID     string      `json:"runId"`
	TenantID  string      `json:"tenantId"`
	TS        string      `json:"ts"`
	Status    string      `json:"status,omitempty"`
	Iteration int         `json:"iteration,omitempty"`
	Move      string      `json:"move,omitempty"`
	Cost      int64       `json:"cost"`
	Delta     int64       `json:"delta,omitempty"`
	Report    *opt.Report `json:"report,omitempty"`
}

type ListResponse[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}
