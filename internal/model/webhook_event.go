package model

import "time"

// WebhookEvent is an append-only audit record of every Stripe event
// delivered to the webhook endpoint. StripeEventID is unique and doubles as
// the dedup key for at-least-once delivery.
type WebhookEvent struct {
	ID            int64     `db:"id" json:"id"`
	StripeEventID string    `db:"stripe_event_id" json:"stripe_event_id"`
	EventType     string    `db:"event_type" json:"event_type"`
	Payload       []byte    `db:"payload" json:"payload"`
	ReceivedAt    time.Time `db:"received_at" json:"received_at"`
}
