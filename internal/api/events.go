package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fleetroute/internal/auth"
	"fleetroute/internal/model"
)

const heartbeatInterval = 15 * time.Second

// EventsHandler streams a run's events as Server-Sent Events until the run
// completes or the client goes away.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id := r.PathValue("id")
	// subscribe before reading the run so no completion slips between
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	run, ok := s.lookupRun(w, r, p)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(evt model.RunEvent) {
		b, _ := json.Marshal(evt)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"runId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}

	if run.Finished() {
		send(completedEvent(run))
		return
	}
	heartbeat()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			send(evt)
			if evt.Type == model.EventSolveCompleted {
				return
			}
		case <-ticker.C:
			if run, err := s.Store.GetRun(r.Context(), p.Tenant, id); err == nil && run.Finished() {
				send(completedEvent(run))
				return
			}
			heartbeat()
		}
	}
}
