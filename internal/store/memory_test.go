package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/model"
	"fleetroute/internal/opt"
)

func TestMemory_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	run, err := m.CreateRun(ctx, model.SolveRun{TenantID: "t1", Problem: &opt.Problem{NumVehicles: 1}})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunQueued, run.Status)
	assert.False(t, run.CreatedAt.IsZero())
	assert.False(t, run.Finished())

	require.NoError(t, m.StartRun(ctx, "t1", run.ID))
	got, err := m.GetRun(ctx, "t1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	done, err := m.CompleteRun(ctx, "t1", run.ID, model.RunOutcome{Status: model.RunInfeasible, Report: &opt.Report{Status: "infeasible"}})
	require.NoError(t, err)
	assert.True(t, done.Finished())
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, "infeasible", done.Report.Status)

	_, err = m.GetRun(ctx, "t2", run.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.StartRun(ctx, "t1", "missing"), ErrNotFound)
	_, err = m.CompleteRun(ctx, "t1", "missing", model.RunOutcome{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ListRunsPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for i := 0; i < 5; i++ {
		r, err := m.CreateRun(ctx, model.SolveRun{TenantID: "t1"})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	_, err := m.CreateRun(ctx, model.SolveRun{TenantID: "t2"})
	require.NoError(t, err)
	_, err = m.CompleteRun(ctx, "t1", ids[1], model.RunOutcome{Status: model.RunSolved})
	require.NoError(t, err)

	page, next, err := m.ListRuns(ctx, "t1", "", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[0], page[0].ID)
	assert.Equal(t, ids[1], next)

	page, next, err = m.ListRuns(ctx, "t1", "", next, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[3]}, []string{page[0].ID, page[1].ID})

	page, next, err = m.ListRuns(ctx, "t1", "", next, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Empty(t, next)

	page, _, err = m.ListRuns(ctx, "t1", model.RunSolved, "", 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)
}

func TestMemory_SolverConfig(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.GetSolverConfig(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	saved, err := m.SaveSolverConfig(ctx, model.SolverConfig{TenantID: "t1", Defaults: model.SolveOptions{TimeLimitMs: 500}})
	require.NoError(t, err)
	assert.False(t, saved.UpdatedAt.IsZero())

	cfg, err := m.GetSolverConfig(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Defaults.TimeLimitMs)
}

func TestMemory_WebhookQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.EnqueueWebhook(ctx, "t1", model.EventSolveCompleted, "http://x", "s", []byte(`{"id":"run1"}`))
	require.NoError(t, err)
	dup, err := m.EnqueueWebhook(ctx, "t1", model.EventSolveCompleted, "http://x", "s", []byte(`{"id":"run1"}`))
	require.NoError(t, err)
	assert.Equal(t, id, dup)

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "s", due[0].Secret)

	later := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, m.FailWebhookDelivery(ctx, id, "boom", 500, 3))
	list, _, err := m.ListWebhookDeliveries(ctx, "t1", DeliveryFailed, "", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Attempts)
	assert.Equal(t, "boom", list[0].LastError)

	assert.ErrorIs(t, m.MarkWebhookDelivery(ctx, "nope", true, nil, "", 200, 1), ErrNotFound)
	assert.NoError(t, m.Ping(ctx))
}

func TestMemory_UnknownCursor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.CreateRun(ctx, model.SolveRun{TenantID: "t1"})
	require.NoError(t, err)
	_, err = m.EnqueueWebhook(ctx, "t1", model.EventSolveCompleted, "http://x", "", []byte(`{"id":"run1"}`))
	require.NoError(t, err)

	page, next, err := m.ListRuns(ctx, "t1", "", "gone", 10)
	assert.ErrorIs(t, err, ErrInvalidCursor)
	assert.Empty(t, page)
	assert.Empty(t, next)

	list, _, err := m.ListWebhookDeliveries(ctx, "t1", "", "gone", 10)
	assert.ErrorIs(t, err, ErrInvalidCursor)
	assert.Empty(t, list)
}
