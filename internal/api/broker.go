package api

import (
	"context"
	"sync"

	"fleetroute/internal/model"
)

// EventBroker fans run events out to SSE and WebSocket subscribers.
type EventBroker interface {
	Subscribe(runID string) chan model.RunEvent
	Unsubscribe(runID string, ch chan model.RunEvent)
	Publish(ctx context.Context, evt model.RunEvent)
	Close() error
}

// deliver sends evt without blocking. On a full buffer progress events are
// dropped, while solve.completed evicts the oldest buffered event so the
// terminal event always arrives. Each channel has a single sender.
func deliver(ch chan model.RunEvent, evt model.RunEvent) {
	for {
		select {
		case ch <- evt:
			return
		default:
		}
		if evt.Type != model.EventSolveCompleted {
			return
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Broker is the in-process EventBroker. Slow subscribers lose progress
// events rather than block the solver.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.RunEvent]struct{} // runID -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.RunEvent]struct{}{}}
}

func (b *Broker) Subscribe(runID string) chan model.RunEvent {
	ch := make(chan model.RunEvent, 16)
	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = map[chan model.RunEvent]struct{}{}
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(runID string, ch chan model.RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[runID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, runID)
	}
	close(ch)
}

func (b *Broker) Publish(_ context.Context, evt model.RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[evt.RunID] {
		deliver(ch, evt)
	}
}

func (b *Broker) Close() error { return nil }
