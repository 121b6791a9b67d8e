package billing

import (
	"context"
	"fmt"

	"app/internal/config"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	paymentmethodpkg "github.com/stripe/stripe-go/v82/paymentmethod"
	pricepkg "github.com/stripe/stripe-go/v82/price"
	productpkg "github.com/stripe/stripe-go/v82/product"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	cfg *config.Config
}

// NewStripeProvider initializes the Stripe key and returns the provider.
func NewStripeProvider(cfg *config.Config) *StripeProvider {
	stripe.Key = cfg.StripeSecretKey
	return &StripeProvider{cfg: cfg}
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Email:    stripe.String(email),
		Name:     stripe.String(name),
		Metadata: metadata,
	}
	cust, err := customerpkg.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe customer: %w", err)
	}
	return cust, nil
}

func (p *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	cust, err := customerpkg.Get(customerID, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch stripe customer %s: %w", customerID, err)
	}
	return cust, nil
}

func (p *StripeProvider) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Limit = stripe.Int64(1)
	iter := customerpkg.List(params)
	for iter.Next() {
		return iter.Customer(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("search stripe customer by email: %w", err)
	}
	return nil, nil
}

func (p *StripeProvider) DefaultCard(ctx context.Context, customerID string) (*stripe.PaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	iter := paymentmethodpkg.List(params)
	for iter.Next() {
		return iter.PaymentMethod(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list payment methods for customer %s: %w", customerID, err)
	}
	return nil, nil
}

func (p *StripeProvider) ListActiveSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	var subs []*stripe.Subscription
	iter := subscriptionpkg.List(params)
	for iter.Next() {
		subs = append(subs, iter.Subscription())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions for customer %s: %w", customerID, err)
	}
	return subs, nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string, metadata map[string]string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		DefaultPaymentMethod: stripe.String(paymentMethodID),
		Metadata:             metadata,
	}
	sub, err := subscriptionpkg.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe subscription: %w", err)
	}
	return sub, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	sub, err := subscriptionpkg.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch stripe subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*stripe.Subscription, error) {
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		sub, err := subscriptionpkg.Update(subscriptionID, params)
		if err != nil {
			return nil, fmt.Errorf("schedule cancellation for subscription %s: %w", subscriptionID, err)
		}
		return sub, nil
	}
	sub, err := subscriptionpkg.Cancel(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, customerID, priceID string, metadata map[string]string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(priceID), Quantity: stripe.Int64(1)}},
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:         stripe.String(p.cfg.CheckoutSuccessURL),
		CancelURL:          stripe.String(p.cfg.CheckoutCancelURL),
		Metadata:           metadata,
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return sess, nil
}

func (p *StripeProvider) GetPrice(ctx context.Context, priceID string) (*stripe.Price, error) {
	pr, err := pricepkg.Get(priceID, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch stripe price %s: %w", priceID, err)
	}
	return pr, nil
}

func (p *StripeProvider) GetProduct(ctx context.Context, productID string) (*stripe.Product, error) {
	prod, err := productpkg.Get(productID, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch stripe product %s: %w", productID, err)
	}
	return prod, nil
}

func (p *StripeProvider) ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, p.cfg.StripeWebhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("signature verification failed: %w", err)
	}
	return event, nil
}
