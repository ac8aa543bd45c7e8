package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleetroute/internal/auth"
	"fleetroute/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// wsMessage is the envelope exchanged on /v1/solves/{id}/ws. The server
// sends connection_ack, next (payload is a RunEvent), ping and complete; the
// client may send ping and complete.
type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 20 * time.Second
)

// WSHandler streams a run's events over a WebSocket.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id := r.PathValue("id")
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	run, ok := s.lookupRun(w, r, p)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var mu sync.Mutex
	write := func(msg wsMessage) error {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(msg)
	}
	next := func(evt model.RunEvent) error {
		payload, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		return write(wsMessage{Type: "next", ID: id, Payload: payload})
	}

	// read loop: answers pings and notices client completion or disconnect
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(1 << 16)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			switch msg.Type {
			case "ping":
				_ = write(wsMessage{Type: "pong"})
			case "complete":
				return
			}
		}
	}()

	if err := write(wsMessage{Type: "connection_ack", ID: id}); err != nil {
		return
	}
	if run.Finished() {
		_ = next(completedEvent(run))
		_ = write(wsMessage{Type: "complete", ID: id})
		return
	}
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			// completion may have been missed; the store is authoritative
			if run, err := s.Store.GetRun(r.Context(), p.Tenant, id); err == nil && run.Finished() {
				_ = next(completedEvent(run))
				_ = write(wsMessage{Type: "complete", ID: id})
				return
			}
			if err := write(wsMessage{Type: "ping"}); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := next(evt); err != nil {
				return
			}
			if evt.Type == model.EventSolveCompleted {
				_ = write(wsMessage{Type: "complete", ID: id})
				return
			}
		}
	}
}
