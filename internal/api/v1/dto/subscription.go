package dto

import "time"

// SubscribeRequest is used for incoming subscribe requests
type SubscribeRequest struct {
	Plan string `json:"plan" validate:"required"`
}

// CancelRequest asks for a subscription cancellation. AtPeriodEnd defaults
// to true when omitted.
type CancelRequest struct {
	SubscriptionID string `json:"subscription_id" validate:"required"`
	AtPeriodEnd    *bool  `json:"at_period_end"`
}

// SubscriptionResponseDTO is returned in API responses
type SubscriptionResponseDTO struct {
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	Plan                 string     `json:"plan"`
	Status               string     `json:"status"`
	StartsAt             time.Time  `json:"starts_at"`
	EndsAt               *time.Time `json:"ends_at,omitempty"`
	NextBillingAt        *time.Time `json:"next_billing_at,omitempty"`
}
