package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"app/internal/billing"
	"app/internal/config"
	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
)

var (
	ErrInvalidPlan          = errors.New("invalid plan")
	ErrUserNotFound         = errors.New("user not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNotSubscriptionOwner = errors.New("subscription does not belong to the user")
	// ErrAlreadySubscribed carries the exact message surfaced to API callers.
	ErrAlreadySubscribed = errors.New("Subscription already exists.")
)

// SubscribeResult is the outcome of a subscribe call. Exactly one of
// CheckoutURL or Confirmation is set: CheckoutURL when the user must go
// through hosted checkout, Confirmation when the subscription was created
// directly against a stored card.
type SubscribeResult struct {
	CheckoutURL    string `json:"checkout_url,omitempty"`
	Confirmation   string `json:"confirmation,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// SubscriptionService defines business logic methods for subscriptions.
type SubscriptionService interface {
	Subscribe(ctx context.Context, userID, plan string) (*SubscribeResult, error)
	Cancel(ctx context.Context, userID, stripeSubscriptionID string, atPeriodEnd bool) error
	GetActiveForUser(ctx context.Context, userID string) (*model.Subscription, error)
	ListForUser(ctx context.Context, userID string) ([]model.Subscription, error)
}

type subscriptionService struct {
	cfg          *config.Config
	provider     billing.Provider
	userRepo     repository.UserRepository
	subRepo      repository.SubscriptionRepository
	checkoutRepo repository.CheckoutRepository
	logger       zerolog.Logger
}

// NewSubscriptionService creates a new SubscriptionService with a scoped logger.
func NewSubscriptionService(cfg *config.Config, provider billing.Provider, userRepo repository.UserRepository, subRepo repository.SubscriptionRepository, checkoutRepo repository.CheckoutRepository, logger zerolog.Logger) SubscriptionService {
	return &subscriptionService{
		cfg:          cfg,
		provider:     provider,
		userRepo:     userRepo,
		subRepo:      subRepo,
		checkoutRepo: checkoutRepo,
		logger:       logger.With().Str("service", "SubscriptionService").Logger(),
	}
}

// Subscribe creates a subscription on the requested plan, or switches the
// user onto it when a different plan is already active. Existing
// subscriptions on other plans are scheduled to cancel at period end, never
// cut off immediately. With a stored card the subscription is created right
// away; without one the caller gets a hosted checkout URL. There is no
// transaction across the Stripe calls and the local writes; webhooks
// reconcile any gap.
func (s *subscriptionService) Subscribe(ctx context.Context, userID, plan string) (*SubscribeResult, error) {
	priceID, err := s.cfg.PriceIDForPlan(plan)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPlan, plan)
	}

	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	customerID, err := s.resolveCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	subs, err := s.provider.ListActiveSubscriptions(ctx, customerID)
	if err != nil {
		return nil, err
	}
	// The already-subscribed check must complete over every active
	// subscription before any cancellation is scheduled; a rejected call
	// must leave the provider untouched.
	for _, existing := range subs {
		if subscriptionPriceID(existing) == priceID {
			return nil, ErrAlreadySubscribed
		}
	}
	switching := false
	for _, existing := range subs {
		if subscriptionPriceID(existing) == "" {
			continue
		}
		if _, err := s.provider.CancelSubscription(ctx, existing.ID, true); err != nil {
			return nil, err
		}
		s.logger.Info().Str("user_id", userID).Str("subscription_id", existing.ID).Msg("Scheduled period-end cancellation for plan switch")
		switching = true
	}

	card, err := s.provider.DefaultCard(ctx, customerID)
	if err != nil {
		return nil, err
	}

	if card != nil {
		return s.subscribeWithCard(ctx, user, customerID, plan, priceID, card.ID, switching)
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, customerID, priceID, map[string]string{"user_id": userID, "plan": plan})
	if err != nil {
		return nil, err
	}
	checkout := &model.Checkout{
		UserID:          userID,
		Plan:            plan,
		StripePriceID:   priceID,
		StripeSessionID: sess.ID,
		Status:          model.CheckoutStatusPending,
	}
	if err := s.checkoutRepo.Create(ctx, checkout); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", userID).Str("plan", plan).Str("session_id", sess.ID).Msg("Created checkout session")
	return &SubscribeResult{CheckoutURL: sess.URL}, nil
}

func (s *subscriptionService) subscribeWithCard(ctx context.Context, user *model.User, customerID, plan, priceID, paymentMethodID string, switching bool) (*SubscribeResult, error) {
	sub, err := s.provider.CreateSubscription(ctx, customerID, priceID, paymentMethodID, map[string]string{"user_id": user.UserID})
	if err != nil {
		return nil, err
	}

	planName := derivePlanName(ctx, s.provider, sub)
	local := localSubscription(user.UserID, planName, sub)
	if err := s.subRepo.Upsert(ctx, local); err != nil {
		return nil, err
	}

	// Bookkeeping row referencing the new subscription id; hosted checkout
	// was skipped, so there is no session id to record.
	checkout := &model.Checkout{
		UserID:          user.UserID,
		Plan:            plan,
		StripePriceID:   priceID,
		StripeSessionID: sub.ID,
		Status:          model.CheckoutStatusPending,
	}
	if err := s.checkoutRepo.Create(ctx, checkout); err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Subscription %s created on plan %s.", sub.ID, planName)
	if switching {
		msg = fmt.Sprintf("Plan switched: subscription %s created on plan %s.", sub.ID, planName)
	}
	s.logger.Info().Str("user_id", user.UserID).Str("subscription_id", sub.ID).Str("plan", planName).Msg("Created subscription against stored card")
	return &SubscribeResult{Confirmation: msg, SubscriptionID: sub.ID}, nil
}

// Cancel verifies the caller owns the subscription, sets (or clears)
// at-period-end cancellation on the Stripe side, then mirrors the returned
// status and end date onto the local row. Ownership is checked against the
// local row before Stripe is touched: an unknown subscription id or one
// belonging to another user is rejected outright.
func (s *subscriptionService) Cancel(ctx context.Context, userID, stripeSubscriptionID string, atPeriodEnd bool) error {
	local, err := s.subRepo.GetByStripeID(ctx, stripeSubscriptionID)
	if err != nil {
		return err
	}
	if local == nil {
		return ErrSubscriptionNotFound
	}
	if local.UserID != userID {
		return ErrNotSubscriptionOwner
	}

	sub, err := s.provider.CancelSubscription(ctx, stripeSubscriptionID, atPeriodEnd)
	if err != nil {
		return err
	}

	status := string(sub.Status)
	endsAt := time.Now()
	if atPeriodEnd && sub.Items != nil && len(sub.Items.Data) > 0 {
		endsAt = time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0)
	} else if !atPeriodEnd && sub.CanceledAt > 0 {
		endsAt = time.Unix(sub.CanceledAt, 0)
	}

	err = s.subRepo.Update(ctx, stripeSubscriptionID, model.SubscriptionPatch{Status: &status, EndsAt: &endsAt})
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn().Str("subscription_id", stripeSubscriptionID).Msg("No local subscription row to update after cancellation")
		return nil
	}
	if err != nil {
		s.logger.Error().Err(err).Str("subscription_id", stripeSubscriptionID).Msg("Failed to update local subscription after cancellation")
		return err
	}
	return nil
}

func (s *subscriptionService) GetActiveForUser(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.subRepo.GetActiveByUserID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch active subscription")
		return nil, err
	}
	return sub, nil
}

func (s *subscriptionService) ListForUser(ctx context.Context, userID string) ([]model.Subscription, error) {
	subs, err := s.subRepo.ListByUserID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list subscriptions")
		return nil, err
	}
	return subs, nil
}

// resolveCustomer finds or creates the Stripe customer for a user. A stored
// customer id is refetched in case the customer was deleted on the Stripe
// side; the fallback chain is stored id, then email search, then create.
// The fallback fires only when Stripe says the customer is gone; any other
// provider error propagates. The resolved id is stored so future calls skip
// the lookup.
func (s *subscriptionService) resolveCustomer(ctx context.Context, user *model.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		cust, err := s.provider.GetCustomer(ctx, *user.StripeCustomerID)
		if err != nil && !isMissingCustomer(err) {
			return "", err
		}
		if err == nil && cust != nil && !cust.Deleted {
			return cust.ID, nil
		}
		s.logger.Warn().Str("user_id", user.UserID).Str("stripe_customer_id", *user.StripeCustomerID).Msg("Stored Stripe customer deleted or missing, falling back to email lookup")
	}

	cust, err := s.provider.FindCustomerByEmail(ctx, user.Email)
	if err != nil {
		return "", err
	}
	if cust == nil || cust.Deleted {
		cust, err = s.provider.CreateCustomer(ctx, user.Email, user.Name, map[string]string{"user_id": user.UserID})
		if err != nil {
			return "", err
		}
		s.logger.Info().Str("user_id", user.UserID).Str("stripe_customer_id", cust.ID).Msg("Created Stripe customer")
	}

	if user.StripeCustomerID == nil || *user.StripeCustomerID != cust.ID {
		if err := s.userRepo.UpdateStripeCustomerID(ctx, user.UserID, cust.ID); err != nil {
			return "", fmt.Errorf("store stripe customer id: %w", err)
		}
	}
	return cust.ID, nil
}

// isMissingCustomer reports whether the provider said the customer id no
// longer resolves, as opposed to a transport or auth failure that must
// propagate to the caller.
func isMissingCustomer(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing
}

// subscriptionPriceID returns the price id on the subscription's first
// item, or "" when the item or price is absent.
func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}

// localSubscription builds the local row for a freshly created Stripe
// subscription, reading period bounds from the first subscription item.
func localSubscription(userID, planName string, sub *stripe.Subscription) *model.Subscription {
	local := &model.Subscription{
		UserID:               userID,
		StripeSubscriptionID: sub.ID,
		Plan:                 planName,
		Status:               string(sub.Status),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		local.StartsAt = time.Unix(item.CurrentPeriodStart, 0)
		next := time.Unix(item.CurrentPeriodEnd, 0)
		local.NextBillingAt = &next
	} else if sub.StartDate > 0 {
		local.StartsAt = time.Unix(sub.StartDate, 0)
	}
	return local
}
