package repository

import (
	"context"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookEventRepository is the append-only audit log of Stripe events.
type WebhookEventRepository interface {
	// Insert records an event and reports whether the row was actually
	// inserted. A false return means the event ID was already logged, which
	// callers use as the dedup gate for redelivered events.
	Insert(ctx context.Context, e *model.WebhookEvent) (bool, error)
}

type webhookEventRepo struct {
	pool *pgxpool.Pool
}

// NewWebhookEventRepo creates a new WebhookEventRepository.
func NewWebhookEventRepo(pool *pgxpool.Pool) WebhookEventRepository {
	return &webhookEventRepo{pool: pool}
}

func (r *webhookEventRepo) Insert(ctx context.Context, e *model.WebhookEvent) (bool, error) {
	const q = `
        INSERT INTO webhook_events (stripe_event_id, event_type, payload, received_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (stripe_event_id) DO NOTHING;
    `
	tag, err := r.pool.Exec(ctx, q, e.StripeEventID, e.EventType, e.Payload)
	if err != nil {
		return false, fmt.Errorf("insert webhook event %s: %w", e.StripeEventID, err)
	}
	return tag.RowsAffected() == 1, nil
}
