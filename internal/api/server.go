// Package api implements the HTTP surface of the routing service.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"fleetroute/internal/auth"
	"fleetroute/internal/config"
	"fleetroute/internal/metrics"
	"fleetroute/internal/store"
	"fleetroute/internal/webhooks"
)

type Server struct {
	Store    store.Store
	Broker   EventBroker
	Auth     *auth.Verifier
	Notifier *webhooks.Notifier
	Config   config.Config

	log     *logrus.Entry
	limiter *RateLimiter
	slots   chan struct{} // running solves

	// async solves run under ctx and are awaited by Close
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer wires a server from cfg. An empty database URL selects the
// in-memory store; an empty or unreachable Redis URL the in-process broker.
func NewServer(cfg config.Config) (*Server, error) {
	log := logrus.WithField("component", "api")
	var st store.Store
	if cfg.Database.URL == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := pg.MigrateDir(cfg.Database.MigrationsDir); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		st = pg
	}

	var broker EventBroker = NewBroker()
	if cfg.Redis.URL != "" {
		rb, err := NewRedisBroker(cfg.Redis.URL, cfg.Redis.ChannelPrefix)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, using in-process broker")
		} else {
			broker = rb
		}
	}
	return newServer(cfg, st, broker), nil
}

func newServer(cfg config.Config, st store.Store, broker EventBroker) *Server {
	metrics.RegisterDefault()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Store:    st,
		Broker:   broker,
		Auth:     auth.NewVerifier(cfg.Auth),
		Notifier: webhooks.NewNotifier(st),
		Config:   cfg,
		log:      logrus.WithField("component", "api"),
		slots:    make(chan struct{}, max(cfg.Solver.MaxConcurrent, 1)),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.RateLimit.RPS > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	return s
}

// NewWebhookWorker creates the background worker delivering run callbacks.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Config.Webhooks)
}

// Routes returns the full handler tree with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/solve", s.withPrincipal(s.SolveHandler))
	mux.HandleFunc("GET /v1/solves", s.withPrincipal(s.ListSolvesHandler))
	mux.HandleFunc("GET /v1/solves/{id}", s.withPrincipal(s.GetSolveHandler))
	mux.HandleFunc("GET /v1/solves/{id}/events", s.withPrincipal(s.EventsHandler))
	mux.HandleFunc("GET /v1/solves/{id}/ws", s.withPrincipal(s.WSHandler))
	mux.HandleFunc("POST /v1/evaluate", s.withPrincipal(s.EvaluateHandler))

	mux.HandleFunc("GET /v1/solver/config", s.withPrincipal(s.GetSolverConfigHandler))
	mux.HandleFunc("PUT /v1/solver/config", s.withPrincipal(s.PutSolverConfigHandler))
	mux.HandleFunc("GET /v1/admin/webhook-deliveries", s.withPrincipal(s.WebhookDeliveriesHandler))

	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.HandleFunc("GET /debug/info", s.DebugJSON)
	mux.HandleFunc("GET /openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("GET /openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("GET /docs", s.DocsHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return instrument(h)
}

// Close cancels in-flight async solves, waits for them to record their
// outcome, then releases the broker and store.
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	var errs []error
	errs = append(errs, s.Broker.Close())
	if c, ok := s.Store.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
