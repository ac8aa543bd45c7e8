package api

import (
	"net/http"
	"time"

	"fleetroute/internal/buildinfo"
)

// DebugJSON reports build info and a secret-free view of the configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":               cfg.Server.Port,
			"authMode":           s.Auth.Mode(),
			"rateRps":            cfg.RateLimit.RPS,
			"rateBurst":          cfg.RateLimit.Burst,
			"webhookMaxAttempts": cfg.Webhooks.MaxAttempts,
			"hasDatabaseUrl":     cfg.Database.URL != "",
			"hasRedisUrl":        cfg.Redis.URL != "",
			"solverDefaults":     s.serverDefaults(),
			"maxTimeLimitMs":     cfg.Solver.MaxTimeLimit.Milliseconds(),
			"maxConcurrent":      cap(s.slots),
		},
	})
}
