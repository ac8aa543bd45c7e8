package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetroute/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu     sync.Mutex
	runs   map[string]*model.SolveRun    // id -> run
	byTen  map[string][]string           // tenant -> run ids, creation order
	solCfg map[string]model.SolverConfig // tenant -> config
	// Webhooks queue state
	deliveries         map[string]*WebhookDelivery // id -> delivery state
	deliveryOrder      []string
	deliveriesByTenant map[string][]string // tenant -> delivery ids
	dedup              map[string]string   // tenant|event|url|key -> delivery id
}

func NewMemory() *Memory {
	return &Memory{
		runs:               map[string]*model.SolveRun{},
		byTen:              map[string][]string{},
		solCfg:             map[string]model.SolverConfig{},
		deliveries:         map[string]*WebhookDelivery{},
		deliveriesByTenant: map[string][]string{},
		dedup:              map[string]string{},
	}
}

func (m *Memory) CreateRun(ctx context.Context, run model.SolveRun) (model.SolveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	r := run
	m.runs[run.ID] = &r
	m.byTen[run.TenantID] = append(m.byTen[run.TenantID], run.ID)
	return run, nil
}

func (m *Memory) lookup(tenantID, id string) (*model.SolveRun, error) {
	r, ok := m.runs[id]
	if !ok || r.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *Memory) StartRun(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(tenantID, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	r.Status = model.RunRunning
	r.StartedAt = &now
	return nil
}

func (m *Memory) CompleteRun(ctx context.Context, tenantID, id string, out model.RunOutcome) (model.SolveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(tenantID, id)
	if err != nil {
		return model.SolveRun{}, err
	}
	now := time.Now().UTC()
	r.Status = out.Status
	r.Report = out.Report
	r.Stats = out.Stats
	r.Error = out.Error
	r.CompletedAt = &now
	return *r, nil
}

func (m *Memory) GetRun(ctx context.Context, tenantID, id string) (model.SolveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(tenantID, id)
	if err != nil {
		return model.SolveRun{}, err
	}
	return *r, nil
}

// ListRuns pages through a tenant's runs in creation order. The cursor is
// the id of the last run of the previous page.
func (m *Memory) ListRuns(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.SolveRun, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	ids := m.byTen[tenantID]
	start, err := pageStart(ids, cursor)
	if err != nil {
		return nil, "", err
	}
	out := []model.SolveRun{}
	for _, id := range ids[start:] {
		r := m.runs[id]
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, *r)
		if len(out) == limit {
			break
		}
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) GetSolverConfig(ctx context.Context, tenantID string) (model.SolverConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.solCfg[tenantID]
	if !ok {
		return model.SolverConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (m *Memory) SaveSolverConfig(ctx context.Context, cfg model.SolverConfig) (model.SolverConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.UpdatedAt = time.Now().UTC()
	m.solCfg[cfg.TenantID] = cfg
	return cfg, nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "|" + eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[key]; ok {
		return id, nil
	}
	id := uuid.New().String()
	m.deliveries[id] = &WebhookDelivery{
		ID:          id,
		TenantID:    tenantID,
		EventType:   eventType,
		URL:         url,
		Secret:      secret,
		Payload:     payload,
		Status:      DeliveryPending,
		NextAttempt: time.Now(),
	}
	m.deliveryOrder = append(m.deliveryOrder, id)
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	m.dedup[key] = id
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryOrder {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttempt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttempt = *nextAttemptAt
	} else {
		d.NextAttempt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	ids := m.deliveriesByTenant[tenantID]
	start, err := pageStart(ids, cursor)
	if err != nil {
		return nil, "", err
	}
	out := []WebhookDelivery{}
	for _, id := range ids[start:] {
		d := m.deliveries[id]
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, *d)
		if len(out) == limit {
			break
		}
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
