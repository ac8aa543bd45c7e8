package store

import (
	"context"
	"errors"
	"time"

	"fleetroute/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Solve runs
	CreateRun(ctx context.Context, run model.SolveRun) (model.SolveRun, error)
	StartRun(ctx context.Context, tenantID, id string) error
	CompleteRun(ctx context.Context, tenantID, id string, out model.RunOutcome) (model.SolveRun, error)
	GetRun(ctx context.Context, tenantID, id string) (model.SolveRun, error)
	ListRuns(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.SolveRun, string, error)

	// Solver defaults per tenant
	GetSolverConfig(ctx context.Context, tenantID string) (model.SolverConfig, error)
	SaveSolverConfig(ctx context.Context, cfg model.SolverConfig) (model.SolverConfig, error)

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error)

	Ping(ctx context.Context) error
}

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidCursor = errors.New("invalid cursor")
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return defaultListLimit
	}
	return limit
}

// pageStart returns the index just past cursor in ids.
func pageStart(ids []string, cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	for i, id := range ids {
		if id == cursor {
			return i + 1, nil
		}
	}
	return 0, ErrInvalidCursor
}
