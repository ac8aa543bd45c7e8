package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"fleetroute/internal/model"
	"fleetroute/internal/store"
)

// Notifier enqueues run callbacks for the Worker to deliver.
type Notifier struct {
	Store store.Store
	now   func() time.Time
}

func NewNotifier(s store.Store) *Notifier {
	return &Notifier{Store: s, now: time.Now}
}

type envelope struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	TenantID string         `json:"tenantId"`
	TS       string         `json:"ts"`
	Data     model.SolveRun `json:"data"`
}

// RunCompleted enqueues a solve.completed callback for run. Runs without a
// callback URL are ignored. The envelope id is derived from the run so a
// repeated notification is deduplicated by the store.
func (n *Notifier) RunCompleted(ctx context.Context, run model.SolveRun) (string, error) {
	if run.CallbackURL == "" {
		return "", nil
	}
	data := run
	data.Problem = nil
	body, err := json.Marshal(envelope{
		ID:       run.ID + ":" + model.EventSolveCompleted,
		Type:     model.EventSolveCompleted,
		TenantID: run.TenantID,
		TS:       n.now().UTC().Format(time.RFC3339),
		Data:     data,
	})
	if err != nil {
		return "", err
	}
	return n.Store.EnqueueWebhook(ctx, run.TenantID, model.EventSolveCompleted, run.CallbackURL, run.CallbackSecret, body)
}
