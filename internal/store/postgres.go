package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fleetroute/internal/model"
	"fleetroute/internal/opt"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every *.sql file of dir in name order. Migrations are
// written to be re-runnable.
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(body)); err != nil {
			return fmt.Errorf("migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

const runColumns = `id::text, tenant_id, status, problem, options, report, stats, COALESCE(error,''), COALESCE(callback_url,''), COALESCE(callback_secret,''), created_at, started_at, completed_at`

func (p *Postgres) CreateRun(ctx context.Context, run model.SolveRun) (model.SolveRun, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	problem, err := toJSON(run.Problem)
	if err != nil {
		return model.SolveRun{}, err
	}
	options, err := toJSON(run.Options)
	if err != nil {
		return model.SolveRun{}, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO solve_runs (id, tenant_id, status, problem, options, callback_url, callback_secret, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		run.ID, run.TenantID, run.Status, problem, options, nullIfEmpty(run.CallbackURL), nullIfEmpty(run.CallbackSecret), run.CreatedAt)
	if err != nil {
		return model.SolveRun{}, err
	}
	return run, nil
}

func (p *Postgres) StartRun(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE solve_runs SET status=$3, started_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id, model.RunRunning)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (p *Postgres) CompleteRun(ctx context.Context, tenantID, id string, out model.RunOutcome) (model.SolveRun, error) {
	report, err := toJSON(out.Report)
	if err != nil {
		return model.SolveRun{}, err
	}
	stats, err := toJSON(out.Stats)
	if err != nil {
		return model.SolveRun{}, err
	}
	row := p.db.QueryRowContext(ctx, `UPDATE solve_runs SET status=$3, report=$4, stats=$5, error=$6, completed_at=now()
        WHERE tenant_id=$1 AND id=$2 RETURNING `+runColumns,
		tenantID, id, out.Status, report, stats, nullIfEmpty(out.Error))
	return scanRun(row)
}

func (p *Postgres) GetRun(ctx context.Context, tenantID, id string) (model.SolveRun, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.SolveRun{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM solve_runs WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return scanRun(row)
}

// ListRuns pages by id. The cursor is the last id of the previous page.
func (p *Postgres) ListRuns(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.SolveRun, string, error) {
	limit = clampLimit(limit)
	q := `SELECT ` + runColumns + ` FROM solve_runs WHERE tenant_id=$1`
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		q += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if cursor != "" {
		if _, err := uuid.Parse(cursor); err != nil {
			return nil, "", ErrInvalidCursor
		}
		args = append(args, cursor)
		q += fmt.Sprintf(" AND id::text > $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.SolveRun{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (model.SolveRun, error) {
	var (
		r                      model.SolveRun
		problem, options       []byte
		report, stats          []byte
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.Status, &problem, &options, &report, &stats,
		&r.Error, &r.CallbackURL, &r.CallbackSecret, &r.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, ErrNotFound
		}
		return r, err
	}
	if len(problem) > 0 {
		r.Problem = &opt.Problem{}
		if err := json.Unmarshal(problem, r.Problem); err != nil {
			return r, fmt.Errorf("decode problem: %w", err)
		}
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &r.Options); err != nil {
			return r, fmt.Errorf("decode options: %w", err)
		}
	}
	if len(report) > 0 {
		r.Report = &opt.Report{}
		if err := json.Unmarshal(report, r.Report); err != nil {
			return r, fmt.Errorf("decode report: %w", err)
		}
	}
	if len(stats) > 0 {
		r.Stats = &opt.Stats{}
		if err := json.Unmarshal(stats, r.Stats); err != nil {
			return r, fmt.Errorf("decode stats: %w", err)
		}
	}
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return r, nil
}

func (p *Postgres) GetSolverConfig(ctx context.Context, tenantID string) (model.SolverConfig, error) {
	cfg := model.SolverConfig{TenantID: tenantID}
	var js []byte
	row := p.db.QueryRowContext(ctx, `SELECT config, updated_at FROM solver_config WHERE tenant_id=$1`, tenantID)
	if err := row.Scan(&js, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cfg, ErrNotFound
		}
		return cfg, err
	}
	if err := json.Unmarshal(js, &cfg.Defaults); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (p *Postgres) SaveSolverConfig(ctx context.Context, cfg model.SolverConfig) (model.SolverConfig, error) {
	js, err := toJSON(cfg.Defaults)
	if err != nil {
		return cfg, err
	}
	row := p.db.QueryRowContext(ctx, `INSERT INTO solver_config (tenant_id, config, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (tenant_id) DO UPDATE SET config=$2, updated_at=now() RETURNING updated_at`, cfg.TenantID, js)
	err = row.Scan(&cfg.UpdatedAt)
	return cfg, err
}

// EnqueueWebhook is idempotent per (tenant, event type, url, payload id).
func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, eventType, url, secret string, payload []byte) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO UPDATE SET updated_at=now()
        RETURNING id::text`,
		uuid.New(), tenantID, eventType, url, nullIfEmpty(secret), string(payload), computeDedupKey(payload)).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

const deliveryColumns = `id::text, tenant_id, event_type, url, COALESCE(secret,''), payload, status, attempts, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0), next_attempt_at, delivered_at`

func scanDelivery(row rowScanner) (WebhookDelivery, error) {
	var (
		d         WebhookDelivery
		delivered sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.TenantID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts,
		&d.LastError, &d.ResponseCode, &d.LatencyMs, &d.NextAttempt, &delivered); err != nil {
		return d, err
	}
	if delivered.Valid {
		d.DeliveredAt = &delivered.Time
	}
	return d, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+deliveryColumns+`
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`,
		id, responseCode, latencyMs)
	return err
}

// FailWebhookDelivery marks a delivery failed and copies it to the DLQ.
func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO webhook_dlq (id, tenant_id, delivery_id, event_type, url, payload, attempts, last_error)
        SELECT gen_random_uuid(), tenant_id, id, event_type, url, payload, attempts, $2 FROM webhook_deliveries WHERE id=$1`,
		id, nullIfEmpty(lastError))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	limit = clampLimit(limit)
	q := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE tenant_id=$1`
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		q += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if cursor != "" {
		if _, err := uuid.Parse(cursor); err != nil {
			return nil, "", ErrInvalidCursor
		}
		args = append(args, cursor)
		q += fmt.Sprintf(" AND id::text > $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// toJSON encodes v for a jsonb column; nil pointers become SQL NULL.
func toJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return string(b), nil
}
