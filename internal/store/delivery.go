package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Delivery statuses.
const (
	DeliveryPending   = "pending"
	DeliveryRetry     = "retry"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

type WebhookDelivery struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenantId"`
	EventType    string     `json:"eventType"`
	URL          string     `json:"url"`
	Secret       string     `json:"-"`
	Payload      []byte     `json:"-"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"lastError,omitempty"`
	ResponseCode int        `json:"responseCode,omitempty"`
	LatencyMs    int        `json:"latencyMs,omitempty"`
	NextAttempt  time.Time  `json:"nextAttemptAt"`
	DeliveredAt  *time.Time `json:"deliveredAt,omitempty"`
}

// computeDedupKey uses the payload's "id" when present, otherwise a short
// content hash.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}
