package domain

import "time"

// WebhookEventRecord marks a provider event as processed. OrderID is empty when the
// event did not create an order.
type WebhookEventRecord struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	OrderID     string    `json:"order_id,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}
