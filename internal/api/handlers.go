package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fleetroute/internal/auth"
	"fleetroute/internal/model"
	"fleetroute/internal/opt"
	"fleetroute/internal/store"
)

// SolveHandler handles POST /v1/solve. Synchronous solves answer with the
// finished run; async ones answer 202 with the queued run.
func (s *Server) SolveHandler(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req model.SolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateSolveRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid solve request", err.Error(), r.URL.Path)
		return
	}
	if req.TenantID == "" {
		req.TenantID = p.Tenant
	}
	if req.TenantID != p.Tenant {
		writeProblem(w, http.StatusForbidden, "Forbidden", "tenantId does not match credentials", r.URL.Path)
		return
	}
	m, err := req.Problem.Build()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, opt.ErrConfiguration) {
			status = http.StatusBadRequest
		}
		writeProblem(w, status, "Invalid problem", err.Error(), r.URL.Path)
		return
	}
	eff, opts := s.resolveOptions(r.Context(), req.TenantID, req.Options)
	run, err := s.Store.CreateRun(r.Context(), model.SolveRun{
		TenantID:       req.TenantID,
		Status:         model.RunQueued,
		Problem:        &req.Problem,
		Options:        eff,
		CallbackURL:    req.CallbackURL,
		CallbackSecret: req.CallbackSecret,
	})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create run failed", err.Error(), r.URL.Path)
		return
	}

	if req.Async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.execute(s.ctx, run, m, opts); err != nil {
				s.log.WithError(err).WithField("run", run.ID).Error("async solve")
			}
		}()
		w.Header().Set("Location", "/v1/solves/"+run.ID)
		writeJSON(w, http.StatusAccepted, withoutProblem(run))
		return
	}

	done, err := s.execute(r.Context(), run, m, opts)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Solve failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, withoutProblem(done))
}

func withoutProblem(run model.SolveRun) model.SolveRun {
	run.Problem = nil
	return run
}

// ListSolvesHandler handles GET /v1/solves?status=&cursor=&limit=
func (s *Server) ListSolvesHandler(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	q := r.URL.Query()
	items, next, err := s.Store.ListRuns(r.Context(), p.Tenant, q.Get("status"), q.Get("cursor"), queryLimit(r))
	if errors.Is(err, store.ErrInvalidCursor) {
		writeProblem(w, http.StatusBadRequest, "Invalid cursor", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List solves failed", err.Error(), r.URL.Path)
		return
	}
	for i := range items {
		items[i] = withoutProblem(items[i])
	}
	writeJSON(w, http.StatusOK, model.ListResponse[model.SolveRun]{Items: items, NextCursor: next})
}

// GetSolveHandler handles GET /v1/solves/{id}
func (s *Server) GetSolveHandler(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	run, ok := s.lookupRun(w, r, p)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request, p auth.Principal) (model.SolveRun, bool) {
	run, err := s.Store.GetRun(r.Context(), p.Tenant, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Solve not found", "", r.URL.Path)
		return run, false
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get solve failed", err.Error(), r.URL.Path)
		return run, false
	}
	return run, true
}

type evaluateRequest struct {
	Problem opt.Problem `json:"problem"`
	Routes  [][]int     `json:"routes"`
}

// EvaluateHandler handles POST /v1/evaluate: it scores caller-supplied
// routes against a problem without searching.
func (s *Server) EvaluateHandler(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	var req evaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	m, err := req.Problem.Build()
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid problem", err.Error(), r.URL.Path)
		return
	}
	rep, err := m.EvaluateRoutes(req.Routes)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid routes", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type solverConfigResponse struct {
	Server    model.SolveOptions  `json:"server"`
	Tenant    *model.SolverConfig `json:"tenant"`
	Effective model.SolveOptions  `json:"effective"`
}

// GetSolverConfigHandler handles GET /v1/solver/config
func (s *Server) GetSolverConfigHandler(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	resp := solverConfigResponse{Server: s.serverDefaults()}
	cfg, err := s.Store.GetSolverConfig(r.Context(), p.Tenant)
	switch {
	case err == nil:
		resp.Tenant = &cfg
	case !errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusInternalServerError, "Get solver config failed", err.Error(), r.URL.Path)
		return
	}
	resp.Effective = s.tenantDefaults(r.Context(), p.Tenant)
	writeJSON(w, http.StatusOK, resp)
}

// PutSolverConfigHandler handles PUT /v1/solver/config (admin only)
func (s *Server) PutSolverConfigHandler(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	var body struct {
		Defaults model.SolveOptions `json:"defaults"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptions(body.Defaults); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid solver config", err.Error(), r.URL.Path)
		return
	}
	saved, err := s.Store.SaveSolverConfig(r.Context(), model.SolverConfig{TenantID: p.Tenant, Defaults: body.Defaults})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries (admin only)
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	q := r.URL.Query()
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, q.Get("status"), q.Get("cursor"), queryLimit(r))
	if errors.Is(err, store.ErrInvalidCursor) {
		writeProblem(w, http.StatusBadRequest, "Invalid cursor", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse[store.WebhookDelivery]{Items: items, NextCursor: next})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler checks the store and, when it supports it, the broker.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "store: "+err.Error(), r.URL.Path)
		return
	}
	type pinger interface{ Ping(ctx context.Context) error }
	if b, ok := s.Broker.(pinger); ok {
		if err := b.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "broker: "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
