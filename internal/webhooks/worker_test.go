package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/config"
	"fleetroute/internal/model"
	"fleetroute/internal/opt"
	"fleetroute/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []markRec
	fails []string
}

type markRec struct {
	ID      string
	Success bool
	Code    int
	LastErr string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, markRec{ID: id, Success: success, Code: responseCode, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}

func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, id)
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func newWorker(rs *recordStore, client *http.Client, attempts int) *Worker {
	w := NewWorker(rs, config.WebhookConfig{MaxAttempts: attempts})
	w.HTTP = client
	return w
}

func TestWorkerDeliversSigned(t *testing.T) {
	var gotSig, gotType string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotType = r.Header.Get("X-Event-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	id, err := rs.EnqueueWebhook(context.Background(), "t1", model.EventSolveCompleted, srv.URL, "secret", []byte(`{"id":"evt1"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	newWorker(rs, srv.Client(), 3).processOnce(context.Background())

	assert.Equal(t, model.EventSolveCompleted, gotType)
	assert.True(t, strings.HasPrefix(gotSig, "sha256="))
	assert.True(t, Verify("secret", body, gotSig))
	require.Len(t, rs.marks, 1)
	assert.True(t, rs.marks[0].Success)
	assert.Equal(t, http.StatusNoContent, rs.marks[0].Code)

	items, _, err := rs.ListWebhookDeliveries(context.Background(), "t1", store.DeliveryDelivered, "", 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestWorkerRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	_, err := rs.EnqueueWebhook(context.Background(), "t1", model.EventSolveCompleted, srv.URL, "", []byte(`{}`))
	require.NoError(t, err)

	w := newWorker(rs, srv.Client(), 2)
	w.processOnce(context.Background())
	require.Len(t, rs.marks, 1)
	assert.False(t, rs.marks[0].Success)
	assert.Equal(t, "unexpected status 500", rs.marks[0].LastErr)
	assert.Empty(t, rs.fails)

	// retry is scheduled in the future, so nothing is due yet
	w.processOnce(context.Background())
	assert.Len(t, rs.marks, 1)

	w2 := newWorker(rs, srv.Client(), 1)
	items, _, err := rs.ListWebhookDeliveries(context.Background(), "t1", "", "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	w2.deliver(context.Background(), items[0])
	assert.Len(t, rs.fails, 1)
}

func TestNotifierRunCompleted(t *testing.T) {
	rs := &recordStore{Memory: store.NewMemory()}
	n := NewNotifier(rs)
	n.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	ctx := context.Background()

	id, err := n.RunCompleted(ctx, model.SolveRun{ID: "r1", TenantID: "t1", Status: model.RunSolved})
	require.NoError(t, err)
	assert.Empty(t, id, "runs without callback are skipped")

	run := model.SolveRun{
		ID:          "r1",
		TenantID:    "t1",
		Status:      model.RunSolved,
		Problem:     &opt.Problem{Name: "big"},
		CallbackURL: "http://example.invalid/hook",
	}
	id, err = n.RunCompleted(ctx, run)
	require.NoError(t, err)
	again, err := n.RunCompleted(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	due, err := rs.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	var env map[string]any
	require.NoError(t, json.Unmarshal(due[0].Payload, &env))
	assert.Equal(t, "r1:solve.completed", env["id"])
	assert.Equal(t, "2024-01-02T03:04:05Z", env["ts"])
	data := env["data"].(map[string]any)
	assert.NotContains(t, data, "problem")
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(-1))
	assert.Equal(t, 8*time.Second, nextBackoff(3))
	assert.Equal(t, 1024*time.Second, nextBackoff(40))
}

func TestSignature(t *testing.T) {
	sig := Sign("k", []byte("body"))
	assert.True(t, Verify("k", []byte("body"), sig))
	assert.True(t, Verify("k", []byte("body"), strings.TrimPrefix(sig, "sha256=")))
	assert.False(t, Verify("k", []byte("other"), sig))
	assert.False(t, Verify("k", []byte("body"), "sha256=zz"))
	assert.False(t, Verify("k", []byte("body"), ""))
}
