package service

import (
	"context"

	"app/internal/model"
	"app/internal/repository"

	"github.com/stripe/stripe-go/v82"
)

type cancelCall struct {
	subscriptionID string
	atPeriodEnd    bool
}

// fakeProvider is a configurable billing.Provider double.
type fakeProvider struct {
	customer        *stripe.Customer
	customerErr     error
	emailCustomer   *stripe.Customer
	createdCustomer *stripe.Customer
	card            *stripe.PaymentMethod
	activeSubs      []*stripe.Subscription
	createdSub      *stripe.Subscription
	createSubErr    error
	fetchedSub      *stripe.Subscription
	fetchSubErr     error
	canceledSub     *stripe.Subscription
	cancelErr       error
	session         *stripe.CheckoutSession
	sessionErr      error
	price           *stripe.Price
	priceErr        error
	product         *stripe.Product
	productErr      error
	event           stripe.Event
	eventErr        error

	createCustomerCalls int
	createSubCalls      int
	cancelCalls         []cancelCall
	sessionCalls        int
}

func (p *fakeProvider) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error) {
	p.createCustomerCalls++
	return p.createdCustomer, nil
}

func (p *fakeProvider) GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	return p.customer, p.customerErr
}

func (p *fakeProvider) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	return p.emailCustomer, nil
}

func (p *fakeProvider) DefaultCard(ctx context.Context, customerID string) (*stripe.PaymentMethod, error) {
	return p.card, nil
}

func (p *fakeProvider) ListActiveSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	return p.activeSubs, nil
}

func (p *fakeProvider) CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string, metadata map[string]string) (*stripe.Subscription, error) {
	p.createSubCalls++
	return p.createdSub, p.createSubErr
}

func (p *fakeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	return p.fetchedSub, p.fetchSubErr
}

func (p *fakeProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*stripe.Subscription, error) {
	p.cancelCalls = append(p.cancelCalls, cancelCall{subscriptionID: subscriptionID, atPeriodEnd: atPeriodEnd})
	return p.canceledSub, p.cancelErr
}

func (p *fakeProvider) CreateCheckoutSession(ctx context.Context, customerID, priceID string, metadata map[string]string) (*stripe.CheckoutSession, error) {
	p.sessionCalls++
	return p.session, p.sessionErr
}

func (p *fakeProvider) GetPrice(ctx context.Context, priceID string) (*stripe.Price, error) {
	return p.price, p.priceErr
}

func (p *fakeProvider) GetProduct(ctx context.Context, productID string) (*stripe.Product, error) {
	return p.product, p.productErr
}

func (p *fakeProvider) ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return p.event, p.eventErr
}

type fakeUserRepo struct {
	users             map[string]*model.User
	byCustomer        map[string]*model.User
	storedCustomerIDs map[string]string
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:             map[string]*model.User{},
		byCustomer:        map[string]*model.User{},
		storedCustomerIDs: map[string]string{},
	}
}

func (r *fakeUserRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return r.users[id], nil
}

func (r *fakeUserRepo) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	return r.byCustomer[customerID], nil
}

func (r *fakeUserRepo) UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error {
	r.storedCustomerIDs[userID] = customerID
	return nil
}

type fakeSubRepo struct {
	byStripeID map[string]*model.Subscription
	upserts    int
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{byStripeID: map[string]*model.Subscription{}}
}

func (r *fakeSubRepo) GetByStripeID(ctx context.Context, id string) (*model.Subscription, error) {
	return r.byStripeID[id], nil
}

func (r *fakeSubRepo) GetActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	for _, s := range r.byStripeID {
		if s.UserID == userID && (s.Status == model.SubscriptionStatusActive || s.Status == model.SubscriptionStatusTrialing) {
			return s, nil
		}
	}
	return nil, nil
}

func (r *fakeSubRepo) ListByUserID(ctx context.Context, userID string) ([]model.Subscription, error) {
	var subs []model.Subscription
	for _, s := range r.byStripeID {
		if s.UserID == userID {
			subs = append(subs, *s)
		}
	}
	return subs, nil
}

// Upsert mirrors the SQL conflict clause: plan, status and next billing
// date are overwritten, starts_at and ends_at are kept.
func (r *fakeSubRepo) Upsert(ctx context.Context, sub *model.Subscription) error {
	r.upserts++
	if existing, ok := r.byStripeID[sub.StripeSubscriptionID]; ok {
		existing.Plan = sub.Plan
		existing.Status = sub.Status
		existing.NextBillingAt = sub.NextBillingAt
		return nil
	}
	clone := *sub
	r.byStripeID[sub.StripeSubscriptionID] = &clone
	return nil
}

func (r *fakeSubRepo) Update(ctx context.Context, id string, patch model.SubscriptionPatch) error {
	existing, ok := r.byStripeID[id]
	if !ok {
		return repository.ErrNotFound
	}
	if patch.Plan != nil {
		existing.Plan = *patch.Plan
	}
	if patch.Status != nil {
		existing.Status = *patch.Status
	}
	if patch.EndsAt != nil {
		existing.EndsAt = patch.EndsAt
	}
	if patch.NextBillingAt != nil {
		existing.NextBillingAt = patch.NextBillingAt
	}
	return nil
}

type fakeCheckoutRepo struct {
	bySessionID map[string]*model.Checkout
	created     []model.Checkout
}

func newFakeCheckoutRepo() *fakeCheckoutRepo {
	return &fakeCheckoutRepo{bySessionID: map[string]*model.Checkout{}}
}

func (r *fakeCheckoutRepo) Create(ctx context.Context, c *model.Checkout) error {
	c.ID = int64(len(r.created) + 1)
	clone := *c
	r.created = append(r.created, clone)
	r.bySessionID[c.StripeSessionID] = &clone
	return nil
}

// Update mirrors the SQL pending guard: terminal transitions only apply to
// rows that are still pending.
func (r *fakeCheckoutRepo) Update(ctx context.Context, sessionID string, patch model.CheckoutPatch) error {
	existing, ok := r.bySessionID[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	if patch.Status != nil && *patch.Status != model.CheckoutStatusPending && existing.Status != model.CheckoutStatusPending {
		return repository.ErrNotFound
	}
	if patch.Status != nil {
		existing.Status = *patch.Status
	}
	if patch.FailureReason != nil {
		existing.FailureReason = patch.FailureReason
	}
	if patch.Metadata != nil {
		existing.Metadata = patch.Metadata
	}
	return nil
}

type fakeEventRepo struct {
	events map[string]*model.WebhookEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: map[string]*model.WebhookEvent{}}
}

func (r *fakeEventRepo) Insert(ctx context.Context, e *model.WebhookEvent) (bool, error) {
	if _, ok := r.events[e.StripeEventID]; ok {
		return false, nil
	}
	clone := *e
	r.events[e.StripeEventID] = &clone
	return true, nil
}
