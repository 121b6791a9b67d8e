package model

import "time"

// Checkout completion states. Pending is the only non-terminal state.
const (
	CheckoutStatusPending   = "pending"
	CheckoutStatusCompleted = "completed"
	CheckoutStatusAbandoned = "abandoned"
)

// Checkout records an attempt to establish a subscription. For hosted flows
// StripeSessionID holds the checkout session ID; for direct subscription
// creation it holds the new subscription ID as a bookkeeping reference.
type Checkout struct {
	ID              int64     `db:"id" json:"id"`
	UserID          string    `db:"user_id" json:"user_id"`
	Plan            string    `db:"plan" json:"plan"`
	StripePriceID   string    `db:"stripe_price_id" json:"stripe_price_id"`
	StripeSessionID string    `db:"stripe_session_id" json:"stripe_session_id"`
	Status          string    `db:"status" json:"status"`
	FailureReason   *string   `db:"failure_reason" json:"failure_reason,omitempty"`
	Metadata        []byte    `db:"metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// CheckoutPatch enumerates the mutable checkout fields.
type CheckoutPatch struct {
	Status        *string
	FailureReason *string
	Metadata      []byte
}
