package billing

import (
	"context"

	"github.com/stripe/stripe-go/v82"
)

// Provider isolates all Stripe SDK calls behind named operations so the
// subscription and webhook services can be tested against a double. Every
// method either returns Stripe's response object or the SDK's error; no
// retries are layered on top.
type Provider interface {
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error)
	// DefaultCard returns the customer's usable stored card, or nil when the
	// customer has none. Policy: the first card in Stripe's listing, which
	// orders most recently created first. The customer's
	// invoice_settings.default_payment_method is not consulted.
	DefaultCard(ctx context.Context, customerID string) (*stripe.PaymentMethod, error)
	ListActiveSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
	CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string, metadata map[string]string) (*stripe.Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	// CancelSubscription cancels at period end when atPeriodEnd is true,
	// otherwise immediately.
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*stripe.Subscription, error)
	CreateCheckoutSession(ctx context.Context, customerID, priceID string, metadata map[string]string) (*stripe.CheckoutSession, error)
	GetPrice(ctx context.Context, priceID string) (*stripe.Price, error)
	GetProduct(ctx context.Context, productID string) (*stripe.Product, error)
	// ConstructEvent verifies the webhook signature and parses the payload.
	// An unverifiable payload is an error; it must never be dispatched.
	ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error)
}
