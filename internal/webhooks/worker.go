package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"fleetroute/internal/config"
	"fleetroute/internal/metrics"
	"fleetroute/internal/store"
)

// Worker polls the store for due deliveries and POSTs them with retries.
type Worker struct {
	Store        store.Store
	HTTP         *http.Client
	MaxAttempts  int
	PollInterval time.Duration
	BatchSize    int
	log          *logrus.Entry
}

func NewWorker(s store.Store, cfg config.WebhookConfig) *Worker {
	w := &Worker{
		Store:        s,
		HTTP:         &http.Client{Timeout: cfg.Timeout},
		MaxAttempts:  cfg.MaxAttempts,
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		log:          logrus.WithField("component", "webhooks"),
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = 10
	}
	if w.PollInterval <= 0 {
		w.PollInterval = time.Second
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 50
	}
	return w
}

// Run polls until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

func (w *Worker) logger() *logrus.Entry {
	if w.log == nil {
		return logrus.WithField("component", "webhooks")
	}
	return w.log
}

func (w *Worker) processOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, w.BatchSize)
	if err != nil {
		w.logger().WithError(err).Warn("fetching due deliveries")
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	log := w.logger().WithFields(logrus.Fields{"delivery": it.ID, "event": it.EventType, "attempt": it.Attempts + 1})
	code, latency, err := w.post(ctx, it)
	success := err == nil
	status := store.DeliveryDelivered
	lastErr := ""
	if !success {
		lastErr = err.Error()
		status = store.DeliveryRetry
		if it.Attempts+1 >= w.MaxAttempts {
			status = store.DeliveryFailed
		}
	}
	metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))

	switch status {
	case store.DeliveryFailed:
		log.WithError(err).Warn("delivery failed permanently")
		if ferr := w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency); ferr != nil {
			log.WithError(ferr).Error("recording failed delivery")
		}
	default:
		next := time.Now().Add(nextBackoff(it.Attempts))
		if !success {
			log.WithError(err).WithField("next", next).Debug("delivery will be retried")
		}
		if merr := w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency); merr != nil {
			log.WithError(merr).Error("recording delivery")
		}
	}
}

func (w *Worker) post(ctx context.Context, it store.WebhookDelivery) (int, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	req.Header.Set("X-Delivery-Id", it.ID)
	if it.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(it.Secret, it.Payload))
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		return 0, latency, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, latency, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, latency, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
