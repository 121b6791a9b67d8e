package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"app/internal/billing"
	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
)

// eventKind is the closed set of webhook event types this service reacts
// to. Dispatch goes through this enum rather than raw type strings so every
// kind has exactly one handler.
type eventKind int

const (
	kindUnknown eventKind = iota
	kindCheckoutCompleted
	kindCheckoutExpired
	kindSubscriptionCreated
	kindSubscriptionUpdated
	kindSubscriptionDeleted
	kindInvoicePaid
	kindPaymentIntentSucceeded
	kindPaymentMethodAttached
)

func classifyEvent(t stripe.EventType) eventKind {
	switch t {
	case "checkout.session.completed":
		return kindCheckoutCompleted
	case "checkout.session.expired":
		return kindCheckoutExpired
	case "customer.subscription.created":
		return kindSubscriptionCreated
	case "customer.subscription.updated":
		return kindSubscriptionUpdated
	case "customer.subscription.deleted":
		return kindSubscriptionDeleted
	case "invoice.payment_succeeded":
		return kindInvoicePaid
	case "payment_intent.succeeded":
		return kindPaymentIntentSucceeded
	case "payment_method.attached":
		return kindPaymentMethodAttached
	default:
		return kindUnknown
	}
}

// WebhookService reconciles local subscription state with verified Stripe
// events.
type WebhookService interface {
	// Process takes the parsed event and the raw delivery body; the body is
	// what lands in the audit log so replays see the complete envelope.
	Process(ctx context.Context, event stripe.Event, payload []byte) error
}

type webhookService struct {
	provider     billing.Provider
	userRepo     repository.UserRepository
	subRepo      repository.SubscriptionRepository
	checkoutRepo repository.CheckoutRepository
	eventRepo    repository.WebhookEventRepository
	logger       zerolog.Logger
}

// NewWebhookService creates a new WebhookService with a scoped logger.
func NewWebhookService(provider billing.Provider, userRepo repository.UserRepository, subRepo repository.SubscriptionRepository, checkoutRepo repository.CheckoutRepository, eventRepo repository.WebhookEventRepository, logger zerolog.Logger) WebhookService {
	return &webhookService{
		provider:     provider,
		userRepo:     userRepo,
		subRepo:      subRepo,
		checkoutRepo: checkoutRepo,
		eventRepo:    eventRepo,
		logger:       logger.With().Str("service", "WebhookService").Logger(),
	}
}

// Process appends the event to the audit log and dispatches it by kind.
// The audit insert is also the dedup gate: a redelivered event id short
// circuits before any handler runs, so at-least-once delivery from Stripe
// is idempotent at this layer.
func (s *webhookService) Process(ctx context.Context, event stripe.Event, payload []byte) error {
	record := &model.WebhookEvent{
		StripeEventID: event.ID,
		EventType:     string(event.Type),
		Payload:       payload,
	}
	inserted, err := s.eventRepo.Insert(ctx, record)
	if err != nil {
		return err
	}
	if !inserted {
		s.logger.Info().Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("Duplicate webhook event, skipping")
		return nil
	}
	s.logger.Info().Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("Stripe webhook received")

	switch classifyEvent(event.Type) {
	case kindCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case kindCheckoutExpired:
		return s.handleCheckoutExpired(ctx, event)
	case kindSubscriptionCreated:
		return s.handleSubscriptionCreated(ctx, event)
	case kindSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, event)
	case kindSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event)
	case kindInvoicePaid:
		return s.handleInvoicePaid(ctx, event)
	case kindPaymentIntentSucceeded, kindPaymentMethodAttached:
		s.logger.Debug().Str("event_type", string(event.Type)).Msg("Payment event logged")
		return nil
	case kindUnknown:
		s.logger.Warn().Str("event_type", string(event.Type)).Msg("Unhandled Stripe webhook event")
		return nil
	}
	return nil
}

func (s *webhookService) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return fmt.Errorf("invalid checkout.session payload: %w", err)
	}
	if cs.Subscription == nil || cs.Subscription.ID == "" {
		s.logger.Info().Str("session_id", cs.ID).Msg("Checkout session carries no subscription, skipping")
		return nil
	}

	// The session payload carries only the subscription id; fetch the full
	// object for status, period and price details.
	sub, err := s.provider.GetSubscription(ctx, cs.Subscription.ID)
	if err != nil {
		return err
	}

	customerID := ""
	if cs.Customer != nil {
		customerID = cs.Customer.ID
	}
	userID, err := s.resolveUserID(ctx, cs.Metadata, customerID)
	if err != nil {
		return fmt.Errorf("resolve user for checkout session %s: %w", cs.ID, err)
	}

	if err := s.upsertFromSubscription(ctx, userID, sub); err != nil {
		return err
	}

	completed := model.CheckoutStatusCompleted
	err = s.checkoutRepo.Update(ctx, cs.ID, model.CheckoutPatch{Status: &completed, Metadata: event.Data.Raw})
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn().Str("session_id", cs.ID).Msg("No local checkout row for completed session")
		return nil
	}
	return err
}

func (s *webhookService) handleCheckoutExpired(ctx context.Context, event stripe.Event) error {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return fmt.Errorf("invalid checkout.session payload: %w", err)
	}
	abandoned := model.CheckoutStatusAbandoned
	reason := "checkout session expired"
	err := s.checkoutRepo.Update(ctx, cs.ID, model.CheckoutPatch{Status: &abandoned, FailureReason: &reason})
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn().Str("session_id", cs.ID).Msg("No local checkout row for expired session")
		return nil
	}
	return err
}

func (s *webhookService) handleSubscriptionCreated(ctx context.Context, event stripe.Event) error {
	ss, userID, err := s.subscriptionFromEvent(ctx, event)
	if err != nil {
		return err
	}
	return s.upsertFromSubscription(ctx, userID, ss)
}

func (s *webhookService) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	ss, userID, err := s.subscriptionFromEvent(ctx, event)
	if err != nil {
		return err
	}
	if err := s.upsertFromSubscription(ctx, userID, ss); err != nil {
		return err
	}

	// Scheduled cancellation: mirror the end date onto the local row, same
	// bookkeeping as an explicit cancel call.
	if ss.CancelAtPeriodEnd && ss.CancelAt > 0 {
		endsAt := time.Unix(ss.CancelAt, 0)
		err := s.subRepo.Update(ctx, ss.ID, model.SubscriptionPatch{EndsAt: &endsAt})
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn().Str("subscription_id", ss.ID).Msg("No local subscription row to set end date on")
			return nil
		}
		return err
	}
	return nil
}

func (s *webhookService) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var ss stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
		return fmt.Errorf("invalid subscription payload: %w", err)
	}
	if !ss.CancelAtPeriodEnd {
		// An immediate deletion was already reconciled by the preceding
		// update event; the audit log entry is all that is needed here.
		s.logger.Info().Str("subscription_id", ss.ID).Msg("Subscription deleted without scheduled cancellation, audit only")
		return nil
	}

	canceled := model.SubscriptionStatusCanceled
	endsAt := time.Now()
	if ss.CancelAt > 0 {
		endsAt = time.Unix(ss.CancelAt, 0)
	}
	err := s.subRepo.Update(ctx, ss.ID, model.SubscriptionPatch{Status: &canceled, EndsAt: &endsAt})
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn().Str("subscription_id", ss.ID).Msg("No local subscription row for deleted subscription")
		return nil
	}
	return err
}

// handleInvoicePaid refreshes status and next billing date for the
// subscription referenced by the invoice. An invoice alone never creates a
// local subscription row.
func (s *webhookService) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("invalid invoice payload: %w", err)
	}

	var subID string
	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			if line.Subscription != nil && line.Subscription.ID != "" {
				subID = line.Subscription.ID
				break
			}
		}
	}
	if subID == "" {
		s.logger.Info().Str("invoice_id", invoice.ID).Msg("Invoice has no subscription, skipping")
		return nil
	}

	local, err := s.subRepo.GetByStripeID(ctx, subID)
	if err != nil {
		return err
	}
	if local == nil {
		s.logger.Warn().Str("invoice_id", invoice.ID).Str("subscription_id", subID).Msg("Invoice references unknown subscription, dropping")
		return nil
	}

	sub, err := s.provider.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	status := string(sub.Status)
	patch := model.SubscriptionPatch{Status: &status}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		next := time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0)
		patch.NextBillingAt = &next
	}
	err = s.subRepo.Update(ctx, subID, patch)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn().Str("subscription_id", subID).Msg("Subscription row vanished during invoice reconciliation")
		return nil
	}
	return err
}

// subscriptionFromEvent unmarshals a subscription event and resolves the
// owning local user.
func (s *webhookService) subscriptionFromEvent(ctx context.Context, event stripe.Event) (*stripe.Subscription, string, error) {
	var ss stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
		return nil, "", fmt.Errorf("invalid subscription payload: %w", err)
	}
	customerID := ""
	if ss.Customer != nil {
		customerID = ss.Customer.ID
	}
	userID, err := s.resolveUserID(ctx, ss.Metadata, customerID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve user for subscription %s: %w", ss.ID, err)
	}
	return &ss, userID, nil
}

// resolveUserID resolves the local user from event metadata, falling back
// to the stored Stripe customer id.
func (s *webhookService) resolveUserID(ctx context.Context, metadata map[string]string, customerID string) (string, error) {
	if userID, ok := metadata["user_id"]; ok && userID != "" {
		return userID, nil
	}
	if customerID == "" {
		return "", errors.New("cannot determine user: missing metadata and customer id")
	}
	s.logger.Warn().Str("stripe_customer_id", customerID).Msg("Missing user_id metadata; looking up user by customer ID")
	u, err := s.userRepo.GetUserByStripeCustomerID(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("lookup user by stripe customer id: %w", err)
	}
	if u == nil {
		return "", fmt.Errorf("no user found for customer id: %s", customerID)
	}
	return u.UserID, nil
}

// upsertFromSubscription maps a Stripe subscription onto the local row.
// Created and updated events share this path, so replays and out-of-order
// delivery converge to the provider's last state.
func (s *webhookService) upsertFromSubscription(ctx context.Context, userID string, sub *stripe.Subscription) error {
	planName := derivePlanName(ctx, s.provider, sub)
	local := localSubscription(userID, planName, sub)
	if err := s.subRepo.Upsert(ctx, local); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", userID).Str("subscription_id", sub.ID).Str("plan", planName).Str("status", local.Status).Msg("Reconciled subscription")
	return nil
}
