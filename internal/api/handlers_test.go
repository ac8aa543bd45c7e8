package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/config"
	"fleetroute/internal/model"
	"fleetroute/internal/opt"
	"fleetroute/internal/store"
)

var brisbane = opt.Problem{
	Labels: []string{"Brisbane", "Gold Coast", "Tweed Heads", "Logan", "Ipswich"},
	Matrix: [][]int64{
		{0, 79, 105, 27, 40},
		{79, 0, 28, 52, 96},
		{105, 28, 0, 76, 120},
		{27, 52, 76, 0, 65},
		{40, 96, 120, 65, 0},
	},
	NumVehicles: 1,
}

func workingHours() opt.Problem {
	p := brisbane
	p.Dimensions = []opt.DimensionSpec{{
		Name:     "Time",
		Transit:  opt.TransitArc,
		Slack:    5,
		Capacity: 30,
		Windows:  [][]int64{{0, 120}, {60, 180}, {120, 240}, {0, 120}, {60, 180}},
	}}
	return p
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimit.RPS = 0
	for _, fn := range mutate {
		fn(&cfg)
	}
	s := newServer(cfg, store.NewMemory(), NewBroker())
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, s.Close())
	})
	return s, ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any, headers ...string) *http.Response {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthReady(t *testing.T) {
	_, ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/healthz", nil).StatusCode)
	assert.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/readyz", nil).StatusCode)
}

func TestSolveSync(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, ts, http.MethodPost, "/v1/solve", model.SolveRequest{Problem: brisbane})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decode[model.SolveRun](t, resp)
	assert.Equal(t, model.RunSolved, run.Status)
	assert.Equal(t, "t_demo", run.TenantID)
	assert.Nil(t, run.Problem)
	require.NotNil(t, run.Report)
	assert.Equal(t, int64(267), run.Report.TotalCost)
	assert.Equal(t, []int{0, 3, 1, 2, 4, 0}, run.Report.Routes[0].Nodes)
	require.NotNil(t, run.Stats)
	assert.Equal(t, opt.StopLocalOptimum, run.Stats.Stop)
	assert.NotNil(t, run.CompletedAt)

	got := decode[model.SolveRun](t, do(t, ts, http.MethodGet, "/v1/solves/"+run.ID, nil))
	assert.Equal(t, run.ID, got.ID)
	require.NotNil(t, got.Problem)
	assert.Equal(t, brisbane.Labels, got.Problem.Labels)

	list := decode[model.ListResponse[model.SolveRun]](t, do(t, ts, http.MethodGet, "/v1/solves?status=solved", nil))
	require.Len(t, list.Items, 1)
	assert.Nil(t, list.Items[0].Problem)

	resp = do(t, ts, http.MethodGet, "/v1/solves?cursor=gone", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// runs are tenant scoped
	resp = do(t, ts, http.MethodGet, "/v1/solves/"+run.ID, nil, "X-Tenant-Id", "other")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSolveInfeasible(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, ts, http.MethodPost, "/v1/solve", model.SolveRequest{Problem: workingHours()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decode[model.SolveRun](t, resp)
	assert.Equal(t, model.RunInfeasible, run.Status)
	require.NotNil(t, run.Report)
	assert.Equal(t, []int{1, 2, 3, 4}, run.Report.Unrouted)
}

func TestSolveRejects(t *testing.T) {
	_, ts := newTestServer(t)
	bad := brisbane
	bad.Depot = 7

	cases := []struct {
		name    string
		body    any
		headers []string
		status  int
	}{
		{"malformed", `{"problem":`, nil, http.StatusBadRequest},
		{"unknown field", `{"problem":{"matrix":[[0]]},"speed":3}`, nil, http.StatusBadRequest},
		{"empty matrix", model.SolveRequest{}, nil, http.StatusBadRequest},
		{"negative workers", model.SolveRequest{Problem: brisbane, Options: model.SolveOptions{Workers: -1}}, nil, http.StatusBadRequest},
		{"bad callback", model.SolveRequest{Problem: brisbane, CallbackURL: "ftp://x"}, nil, http.StatusBadRequest},
		{"bad depot", model.SolveRequest{Problem: bad}, nil, http.StatusBadRequest},
		{"tenant mismatch", model.SolveRequest{TenantID: "acme", Problem: brisbane}, []string{"X-Tenant-Id", "t1"}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, ts, http.MethodPost, "/v1/solve", tc.body, tc.headers...)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
			p := decode[Problem](t, resp)
			assert.Equal(t, tc.status, p.Status)
		})
	}
}

func TestSolveAsync(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, ts, http.MethodPost, "/v1/solve", model.SolveRequest{Problem: brisbane, Async: true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	run := decode[model.SolveRun](t, resp)
	assert.Equal(t, "/v1/solves/"+run.ID, resp.Header.Get("Location"))

	require.Eventually(t, func() bool {
		r := do(t, ts, http.MethodGet, "/v1/solves/"+run.ID, nil)
		got := decode[model.SolveRun](t, r)
		return got.Finished()
	}, 5*time.Second, 20*time.Millisecond)

	got := decode[model.SolveRun](t, do(t, ts, http.MethodGet, "/v1/solves/"+run.ID, nil))
	assert.Equal(t, model.RunSolved, got.Status)
	assert.Equal(t, int64(267), got.Report.TotalCost)
}

// readSSE returns the next event name and data line.
func readSSE(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return event, data
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestEventsStream(t *testing.T) {
	s, ts := newTestServer(t)
	ctx := context.Background()
	run, err := s.Store.CreateRun(ctx, model.SolveRun{TenantID: "t_demo"})
	require.NoError(t, err)

	resp := do(t, ts, http.MethodGet, "/v1/solves/"+run.ID+"/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	rd := bufio.NewReader(resp.Body)

	ev, _ := readSSE(t, rd)
	require.Equal(t, "heartbeat", ev)

	s.publish(ctx, model.RunEvent{Type: model.EventSolveImproved, RunID: run.ID, Iteration: 1, Cost: 99})
	ev, data := readSSE(t, rd)
	assert.Equal(t, model.EventSolveImproved, ev)
	var evt model.RunEvent
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	assert.Equal(t, int64(99), evt.Cost)

	s.publish(ctx, model.RunEvent{Type: model.EventSolveCompleted, RunID: run.ID, Status: model.RunSolved})
	ev, _ = readSSE(t, rd)
	assert.Equal(t, model.EventSolveCompleted, ev)
	_, err = rd.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
}

func TestEventsFinishedRun(t *testing.T) {
	_, ts := newTestServer(t)
	run := decode[model.SolveRun](t, do(t, ts, http.MethodPost, "/v1/solve", model.SolveRequest{Problem: brisbane}))

	resp := do(t, ts, http.MethodGet, "/v1/solves/"+run.ID+"/events", nil)
	ev, data := readSSE(t, bufio.NewReader(resp.Body))
	assert.Equal(t, model.EventSolveCompleted, ev)
	var evt model.RunEvent
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	assert.Equal(t, int64(267), evt.Cost)

	resp = do(t, ts, http.MethodGet, "/v1/solves/nope/events", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketStream(t *testing.T) {
	s, ts := newTestServer(t)
	ctx := context.Background()
	run, err := s.Store.CreateRun(ctx, model.SolveRun{TenantID: "t_demo"})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/solves/" + run.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "connection_ack", msg.Type)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Type)

	s.publish(ctx, model.RunEvent{Type: model.EventSolveImproved, RunID: run.ID, Cost: 12})
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "next", msg.Type)
	var evt model.RunEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &evt))
	assert.Equal(t, int64(12), evt.Cost)

	s.publish(ctx, model.RunEvent{Type: model.EventSolveCompleted, RunID: run.ID})
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "next", msg.Type)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "complete", msg.Type)
}

func TestSolverConfig(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) {
		c.Solver.TimeLimit = 2 * time.Second
		c.Solver.MaxTimeLimit = 3 * time.Second
	})

	resp := do(t, ts, http.MethodPut, "/v1/solver/config", map[string]any{"defaults": map[string]any{"maxIterations": 5}}, "X-Role", "user")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, ts, http.MethodPut, "/v1/solver/config", map[string]any{"defaults": map[string]any{"maxIterations": -1}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, ts, http.MethodPut, "/v1/solver/config", map[string]any{"defaults": map[string]any{"maxIterations": 5, "workers": 2}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cfg := decode[solverConfigResponse](t, do(t, ts, http.MethodGet, "/v1/solver/config", nil))
	assert.Equal(t, 2000, cfg.Server.TimeLimitMs)
	require.NotNil(t, cfg.Tenant)
	assert.Equal(t, 5, cfg.Tenant.Defaults.MaxIterations)
	assert.Equal(t, model.SolveOptions{TimeLimitMs: 2000, MaxIterations: 5, Workers: 2}, cfg.Effective)

	// request options win, the time limit is clamped
	run := decode[model.SolveRun](t, do(t, ts, http.MethodPost, "/v1/solve", model.SolveRequest{
		Problem: brisbane,
		Options: model.SolveOptions{TimeLimitMs: 60000, Workers: 3},
	}))
	assert.Equal(t, model.SolveOptions{TimeLimitMs: 3000, MaxIterations: 5, Workers: 3}, run.Options)

	other := decode[solverConfigResponse](t, do(t, ts, http.MethodGet, "/v1/solver/config", nil, "X-Tenant-Id", "other"))
	assert.Nil(t, other.Tenant)
}

func TestCallbackDeliveries(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, ts, http.MethodPost, "/v1/solve", model.SolveRequest{Problem: brisbane, CallbackURL: "http://127.0.0.1:1/hook", CallbackSecret: "s"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/v1/admin/webhook-deliveries", nil, "X-Role", "user")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	list := decode[model.ListResponse[store.WebhookDelivery]](t, do(t, ts, http.MethodGet, "/v1/admin/webhook-deliveries", nil))
	require.Len(t, list.Items, 1)
	assert.Equal(t, model.EventSolveCompleted, list.Items[0].EventType)
	assert.Equal(t, store.DeliveryPending, list.Items[0].Status)

	resp = do(t, ts, http.MethodGet, "/v1/admin/webhook-deliveries?cursor=gone", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEvaluate(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, ts, http.MethodPost, "/v1/evaluate", map[string]any{"problem": brisbane, "routes": [][]int{{1, 2}}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rep := decode[opt.Report](t, resp)
	assert.Equal(t, int64(79+28+105), rep.TotalCost)
	assert.Equal(t, []int{3, 4}, rep.Unrouted)

	resp = do(t, ts, http.MethodPost, "/v1/evaluate", map[string]any{"problem": brisbane, "routes": [][]int{{1, 1}}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequiredOutsideDevMode(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) {
		c.Auth = config.AuthConfig{Mode: "hmac", HMACSecret: "k"}
	})
	resp := do(t, ts, http.MethodGet, "/v1/solves", nil, "X-Tenant-Id", "t1")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))

	resp = do(t, ts, http.MethodGet, "/v1/solves", nil, "Authorization", "Bearer not.a.jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// unauthenticated endpoints stay open
	assert.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/healthz", nil).StatusCode)
}

func TestRateLimit(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{RPS: 0.5, Burst: 1}
	})
	assert.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/healthz", nil, "X-Tenant-Id", "a").StatusCode)
	resp := do(t, ts, http.MethodGet, "/healthz", nil, "X-Tenant-Id", "a")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("Retry-After"))
	// separate bucket per client
	assert.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/healthz", nil, "X-Tenant-Id", "b").StatusCode)
}

func TestDocsAndMetrics(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, ts, http.MethodGet, "/openapi.json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[map[string]any](t, resp)
	assert.Contains(t, doc["paths"], "/v1/solve")

	assert.Equal(t, "application/yaml", do(t, ts, http.MethodGet, "/openapi.yaml", nil).Header.Get("Content-Type"))

	do(t, ts, http.MethodPost, "/v1/solve", model.SolveRequest{Problem: brisbane})
	body, err := io.ReadAll(do(t, ts, http.MethodGet, "/metrics", nil).Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "solve_runs_total")
	assert.Contains(t, string(body), `http_requests_total{method="POST",path="POST /v1/solve"`)

	info := decode[map[string]any](t, do(t, ts, http.MethodGet, "/debug/info", nil))
	assert.Contains(t, info, "build")
}

func TestResolveOptions(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.Solver = config.SolverConfig{TimeLimit: 0, MaxTimeLimit: time.Second, Workers: 1, BatchSize: 32, MaxConcurrent: 1}
	})
	eff, opts := s.resolveOptions(context.Background(), "t", model.SolveOptions{AllowPartial: true})
	assert.Equal(t, 1000, eff.TimeLimitMs, "unbounded defaults take the ceiling")
	assert.Equal(t, time.Second, opts.TimeLimit)
	assert.Equal(t, 32, opts.BatchSize)
	assert.True(t, opts.AllowPartial)
}
