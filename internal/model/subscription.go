package model

import "time"

// Subscription status values mirrored from Stripe.
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusTrialing = "trialing"
)

// Subscription is the local record of a Stripe subscription. One row per
// Stripe subscription ID; status converges to Stripe's via webhooks.
type Subscription struct {
	ID                   int64      `db:"id" json:"id"`
	UserID               string     `db:"user_id" json:"user_id"`
	StripeSubscriptionID string     `db:"stripe_subscription_id" json:"stripe_subscription_id"`
	Plan                 string     `db:"plan" json:"plan"`
	Status               string     `db:"status" json:"status"`
	StartsAt             time.Time  `db:"starts_at" json:"starts_at"`
	EndsAt               *time.Time `db:"ends_at" json:"ends_at,omitempty"`
	NextBillingAt        *time.Time `db:"next_billing_at" json:"next_billing_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// SubscriptionPatch enumerates the mutable subscription fields. Nil fields
// are left untouched.
type SubscriptionPatch struct {
	Plan          *string
	Status        *string
	EndsAt        *time.Time
	NextBillingAt *time.Time
}
