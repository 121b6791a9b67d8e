package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"app/internal/model"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
)

func newTestWebhookService(provider *fakeProvider) (WebhookService, *fakeUserRepo, *fakeSubRepo, *fakeCheckoutRepo, *fakeEventRepo) {
	userRepo := newFakeUserRepo()
	subRepo := newFakeSubRepo()
	checkoutRepo := newFakeCheckoutRepo()
	eventRepo := newFakeEventRepo()
	userRepo.byCustomer["cus_1"] = &model.User{UserID: "u1", Email: "u1@example.com"}
	svc := NewWebhookService(provider, userRepo, subRepo, checkoutRepo, eventRepo, zerolog.Nop())
	return svc, userRepo, subRepo, checkoutRepo, eventRepo
}

func webhookEvent(id string, eventType stripe.EventType, raw string) stripe.Event {
	return stripe.Event{
		ID:   id,
		Type: eventType,
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

// deliver hands the event to Process with a marshaled envelope standing in
// for the raw request body.
func deliver(svc WebhookService, event stripe.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return svc.Process(context.Background(), event, body)
}

func subscriptionPayload(subID, status string, periodEnd int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"status": %q,
		"customer": "cus_1",
		"metadata": {"user_id": "u1"},
		"items": {"data": [{
			"current_period_start": 1700000000,
			"current_period_end": %d,
			"price": {
				"id": "price_basic_m",
				"recurring": {"interval": "month"},
				"product": "prod_1"
			}
		}]}
	}`, subID, status, periodEnd)
}

func TestWebhookDuplicateEventSkipsDispatch(t *testing.T) {
	provider := &fakeProvider{
		product: &stripe.Product{ID: "prod_1", Name: "Basic"},
	}
	svc, _, subRepo, _, eventRepo := newTestWebhookService(provider)

	event := webhookEvent("evt_1", "customer.subscription.created", subscriptionPayload("sub_1", "active", 1702592000))
	if err := deliver(svc, event); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	firstUpserts := subRepo.upserts

	if err := deliver(svc, event); err != nil {
		t.Fatalf("second delivery failed: %v", err)
	}
	if subRepo.upserts != firstUpserts {
		t.Fatalf("duplicate event id must not be dispatched: upserts went %d -> %d", firstUpserts, subRepo.upserts)
	}
	if len(eventRepo.events) != 1 {
		t.Fatalf("expected one audit row, got %d", len(eventRepo.events))
	}
}

func TestWebhookAuditRowStoresDeliveryBody(t *testing.T) {
	provider := &fakeProvider{
		product: &stripe.Product{ID: "prod_1", Name: "Basic"},
	}
	svc, _, _, _, eventRepo := newTestWebhookService(provider)

	event := webhookEvent("evt_1", "customer.subscription.created", subscriptionPayload("sub_1", "active", 1702592000))
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := svc.Process(context.Background(), event, body); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	row := eventRepo.events["evt_1"]
	if row == nil {
		t.Fatal("expected audit row")
	}
	if string(row.Payload) != string(body) {
		t.Fatalf("audit row must hold the full delivery body, got %s", row.Payload)
	}
}

func TestWebhookCreatedThenUpdatedConverges(t *testing.T) {
	provider := &fakeProvider{
		product: &stripe.Product{ID: "prod_1", Name: "Basic"},
	}
	svc, _, subRepo, _, _ := newTestWebhookService(provider)

	created := webhookEvent("evt_1", "customer.subscription.created", subscriptionPayload("sub_1", "active", 1702592000))
	updated := webhookEvent("evt_2", "customer.subscription.updated", subscriptionPayload("sub_1", "past_due", 1705270400))

	if err := deliver(svc, created); err != nil {
		t.Fatalf("created event failed: %v", err)
	}
	if err := deliver(svc, updated); err != nil {
		t.Fatalf("updated event failed: %v", err)
	}

	if len(subRepo.byStripeID) != 1 {
		t.Fatalf("expected one subscription row, got %d", len(subRepo.byStripeID))
	}
	local := subRepo.byStripeID["sub_1"]
	if local.Status != "past_due" {
		t.Fatalf("expected last-write status past_due, got %q", local.Status)
	}
	if local.NextBillingAt == nil || !local.NextBillingAt.Equal(time.Unix(1705270400, 0)) {
		t.Fatalf("expected next billing date from last event, got %v", local.NextBillingAt)
	}
}

func TestWebhookUpdatedBeforeCreatedConverges(t *testing.T) {
	provider := &fakeProvider{
		product: &stripe.Product{ID: "prod_1", Name: "Basic"},
	}
	svc, _, subRepo, _, _ := newTestWebhookService(provider)

	updated := webhookEvent("evt_2", "customer.subscription.updated", subscriptionPayload("sub_1", "active", 1702592000))
	created := webhookEvent("evt_1", "customer.subscription.created", subscriptionPayload("sub_1", "active", 1702592000))

	if err := deliver(svc, updated); err != nil {
		t.Fatalf("updated event failed: %v", err)
	}
	if err := deliver(svc, created); err != nil {
		t.Fatalf("created event failed: %v", err)
	}

	if len(subRepo.byStripeID) != 1 {
		t.Fatalf("expected one subscription row regardless of order, got %d", len(subRepo.byStripeID))
	}
	if subRepo.byStripeID["sub_1"].Status != "active" {
		t.Fatalf("expected converged status active, got %q", subRepo.byStripeID["sub_1"].Status)
	}
}

func TestWebhookCheckoutCompletedUpsertsOnce(t *testing.T) {
	provider := &fakeProvider{
		fetchedSub: stripeSub("sub_1", "price_basic_m", "active", 1700000000, 1702592000),
	}
	svc, _, subRepo, checkoutRepo, _ := newTestWebhookService(provider)
	checkoutRepo.bySessionID["cs_1"] = &model.Checkout{
		UserID:          "u1",
		StripeSessionID: "cs_1",
		Status:          model.CheckoutStatusPending,
	}

	payload := `{"id": "cs_1", "customer": "cus_1", "subscription": "sub_1", "metadata": {"user_id": "u1"}}`
	first := webhookEvent("evt_1", "checkout.session.completed", payload)
	second := webhookEvent("evt_2", "checkout.session.completed", payload)

	if err := deliver(svc, first); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := deliver(svc, second); err != nil {
		t.Fatalf("second delivery failed: %v", err)
	}

	if len(subRepo.byStripeID) != 1 {
		t.Fatalf("redelivered completion must update, not insert: got %d rows", len(subRepo.byStripeID))
	}
	local := subRepo.byStripeID["sub_1"]
	if local.UserID != "u1" || local.Plan != "MONTHLY-Basic" {
		t.Fatalf("unexpected subscription row: %+v", local)
	}
	if checkoutRepo.bySessionID["cs_1"].Status != model.CheckoutStatusCompleted {
		t.Fatalf("expected checkout completed, got %q", checkoutRepo.bySessionID["cs_1"].Status)
	}
	if checkoutRepo.bySessionID["cs_1"].Metadata == nil {
		t.Fatal("expected raw session stashed as checkout metadata")
	}
}

func TestWebhookInvoicePaidWithoutLocalRowDropsEvent(t *testing.T) {
	provider := &fakeProvider{}
	svc, _, subRepo, _, eventRepo := newTestWebhookService(provider)

	payload := `{"id": "in_1", "customer": "cus_1", "lines": {"data": [{"subscription": "sub_unknown"}]}}`
	event := webhookEvent("evt_1", "invoice.payment_succeeded", payload)

	if err := deliver(svc, event); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(subRepo.byStripeID) != 0 {
		t.Fatalf("invoice alone must not create a subscription, got %d rows", len(subRepo.byStripeID))
	}
	if _, ok := eventRepo.events["evt_1"]; !ok {
		t.Fatal("expected event in audit log despite dropped reconciliation")
	}
}

func TestWebhookInvoicePaidRefreshesExistingRow(t *testing.T) {
	periodEnd := int64(1705270400)
	provider := &fakeProvider{
		fetchedSub: stripeSub("sub_1", "price_basic_m", "active", 1700000000, periodEnd),
	}
	svc, _, subRepo, _, _ := newTestWebhookService(provider)
	subRepo.byStripeID["sub_1"] = &model.Subscription{
		UserID:               "u1",
		StripeSubscriptionID: "sub_1",
		Status:               model.SubscriptionStatusPastDue,
	}

	payload := `{"id": "in_2", "customer": "cus_1", "lines": {"data": [{"subscription": "sub_1"}]}}`
	if err := deliver(svc, webhookEvent("evt_1", "invoice.payment_succeeded", payload)); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	local := subRepo.byStripeID["sub_1"]
	if local.Status != "active" {
		t.Fatalf("expected refreshed status active, got %q", local.Status)
	}
	if local.NextBillingAt == nil || !local.NextBillingAt.Equal(time.Unix(periodEnd, 0)) {
		t.Fatalf("expected next billing %v, got %v", time.Unix(periodEnd, 0), local.NextBillingAt)
	}
}

func TestWebhookSubscriptionDeletedAfterScheduledCancel(t *testing.T) {
	cancelAt := int64(1702592000)
	provider := &fakeProvider{}
	svc, _, subRepo, _, _ := newTestWebhookService(provider)
	subRepo.byStripeID["sub_1"] = &model.Subscription{
		UserID:               "u1",
		StripeSubscriptionID: "sub_1",
		Status:               model.SubscriptionStatusActive,
	}

	payload := fmt.Sprintf(`{"id": "sub_1", "customer": "cus_1", "cancel_at_period_end": true, "cancel_at": %d, "metadata": {"user_id": "u1"}}`, cancelAt)
	if err := deliver(svc, webhookEvent("evt_1", "customer.subscription.deleted", payload)); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	local := subRepo.byStripeID["sub_1"]
	if local.Status != model.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %q", local.Status)
	}
	if local.EndsAt == nil || !local.EndsAt.Equal(time.Unix(cancelAt, 0)) {
		t.Fatalf("expected ends_at from cancel_at, got %v", local.EndsAt)
	}
}

func TestWebhookSubscriptionDeletedImmediateIsAuditOnly(t *testing.T) {
	provider := &fakeProvider{}
	svc, _, subRepo, _, _ := newTestWebhookService(provider)
	subRepo.byStripeID["sub_1"] = &model.Subscription{
		UserID:               "u1",
		StripeSubscriptionID: "sub_1",
		Status:               model.SubscriptionStatusCanceled,
	}

	payload := `{"id": "sub_1", "customer": "cus_1", "cancel_at_period_end": false, "metadata": {"user_id": "u1"}}`
	if err := deliver(svc, webhookEvent("evt_1", "customer.subscription.deleted", payload)); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if subRepo.byStripeID["sub_1"].Status != model.SubscriptionStatusCanceled {
		t.Fatalf("expected row untouched, got %q", subRepo.byStripeID["sub_1"].Status)
	}
}

func TestWebhookCheckoutExpiredMarksAbandoned(t *testing.T) {
	provider := &fakeProvider{}
	svc, _, _, checkoutRepo, _ := newTestWebhookService(provider)
	checkoutRepo.bySessionID["cs_1"] = &model.Checkout{
		UserID:          "u1",
		StripeSessionID: "cs_1",
		Status:          model.CheckoutStatusPending,
	}

	payload := `{"id": "cs_1", "customer": "cus_1"}`
	if err := deliver(svc, webhookEvent("evt_1", "checkout.session.expired", payload)); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	row := checkoutRepo.bySessionID["cs_1"]
	if row.Status != model.CheckoutStatusAbandoned {
		t.Fatalf("expected abandoned, got %q", row.Status)
	}
	if row.FailureReason == nil {
		t.Fatal("expected failure reason recorded")
	}
}

func TestWebhookUnknownEventIsAuditOnly(t *testing.T) {
	provider := &fakeProvider{}
	svc, _, subRepo, _, eventRepo := newTestWebhookService(provider)

	if err := deliver(svc, webhookEvent("evt_1", "charge.refunded", `{"id": "ch_1"}`)); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(subRepo.byStripeID) != 0 {
		t.Fatal("unknown events must not mutate subscriptions")
	}
	if _, ok := eventRepo.events["evt_1"]; !ok {
		t.Fatal("unknown events must still be audit-logged")
	}
}

func TestWebhookResolvesUserByCustomerIDFallback(t *testing.T) {
	provider := &fakeProvider{
		product: &stripe.Product{ID: "prod_1", Name: "Basic"},
	}
	svc, _, subRepo, _, _ := newTestWebhookService(provider)

	// No user_id metadata; the stored customer id mapping must resolve it.
	payload := `{
		"id": "sub_1",
		"status": "active",
		"customer": "cus_1",
		"items": {"data": [{
			"current_period_start": 1700000000,
			"current_period_end": 1702592000,
			"price": {"id": "price_basic_m", "recurring": {"interval": "month"}, "product": "prod_1"}
		}]}
	}`
	if err := deliver(svc, webhookEvent("evt_1", "customer.subscription.created", payload)); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	local := subRepo.byStripeID["sub_1"]
	if local == nil || local.UserID != "u1" {
		t.Fatalf("expected row owned by u1, got %+v", local)
	}
}
