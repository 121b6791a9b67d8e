package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by patch-style updates when no row matched.
var ErrNotFound = errors.New("no matching row")

// SubscriptionRepository defines methods for accessing subscription data.
type SubscriptionRepository interface {
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*model.Subscription, error)
	GetActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error)
	ListByUserID(ctx context.Context, userID string) ([]model.Subscription, error)
	// Upsert inserts a subscription keyed by its Stripe subscription ID, or
	// updates plan, status and next billing date when the row already exists.
	Upsert(ctx context.Context, sub *model.Subscription) error
	Update(ctx context.Context, stripeSubscriptionID string, patch model.SubscriptionPatch) error
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

func (r *subscriptionRepo) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*model.Subscription, error) {
	const q = `
        SELECT id, user_id, stripe_subscription_id, plan, status, starts_at, ends_at, next_billing_at, created_at, updated_at
        FROM subscriptions
        WHERE stripe_subscription_id = $1
    `
	var s model.Subscription
	err := r.pool.QueryRow(ctx, q, stripeSubscriptionID).Scan(
		&s.ID,
		&s.UserID,
		&s.StripeSubscriptionID,
		&s.Plan,
		&s.Status,
		&s.StartsAt,
		&s.EndsAt,
		&s.NextBillingAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch subscription %s: %w", stripeSubscriptionID, err)
	}
	return &s, nil
}

// GetActiveByUserID returns the user's most recent active subscription.
func (r *subscriptionRepo) GetActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	const q = `
        SELECT id, user_id, stripe_subscription_id, plan, status, starts_at, ends_at, next_billing_at, created_at, updated_at
        FROM subscriptions
        WHERE user_id = $1
          AND status IN ('active', 'trialing')
        ORDER BY starts_at DESC
        LIMIT 1
    `
	var s model.Subscription
	err := r.pool.QueryRow(ctx, q, userID).Scan(
		&s.ID,
		&s.UserID,
		&s.StripeSubscriptionID,
		&s.Plan,
		&s.Status,
		&s.StartsAt,
		&s.EndsAt,
		&s.NextBillingAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch active subscription for user %s: %w", userID, err)
	}
	return &s, nil
}

func (r *subscriptionRepo) ListByUserID(ctx context.Context, userID string) ([]model.Subscription, error) {
	const q = `
        SELECT id, user_id, stripe_subscription_id, plan, status, starts_at, ends_at, next_billing_at, created_at, updated_at
        FROM subscriptions
        WHERE user_id = $1
        ORDER BY starts_at DESC
    `
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for user %s: %w", userID, err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		var s model.Subscription
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.StripeSubscriptionID,
			&s.Plan,
			&s.Status,
			&s.StartsAt,
			&s.EndsAt,
			&s.NextBillingAt,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscription for user %s: %w", userID, err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions for user %s: %w", userID, err)
	}
	return subs, nil
}

// Upsert is a single atomic statement so concurrent webhook deliveries for
// the same subscription cannot race a check-then-insert. Last write wins on
// plan, status and next billing date; starts_at and ends_at are not
// overwritten on conflict.
func (r *subscriptionRepo) Upsert(ctx context.Context, sub *model.Subscription) error {
	const q = `
        INSERT INTO subscriptions (user_id, stripe_subscription_id, plan, status, starts_at, ends_at, next_billing_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
        ON CONFLICT (stripe_subscription_id) DO UPDATE
        SET plan = EXCLUDED.plan,
            status = EXCLUDED.status,
            next_billing_at = EXCLUDED.next_billing_at,
            updated_at = NOW();
    `
	_, err := r.pool.Exec(ctx, q, sub.UserID, sub.StripeSubscriptionID, sub.Plan, sub.Status, sub.StartsAt, sub.EndsAt, sub.NextBillingAt)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.StripeSubscriptionID, err)
	}
	return nil
}

func (r *subscriptionRepo) Update(ctx context.Context, stripeSubscriptionID string, patch model.SubscriptionPatch) error {
	set := []string{"updated_at = NOW()"}
	args := []interface{}{stripeSubscriptionID}
	if patch.Plan != nil {
		args = append(args, *patch.Plan)
		set = append(set, fmt.Sprintf("plan = $%d", len(args)))
	}
	if patch.Status != nil {
		args = append(args, *patch.Status)
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}
	if patch.EndsAt != nil {
		args = append(args, *patch.EndsAt)
		set = append(set, fmt.Sprintf("ends_at = $%d", len(args)))
	}
	if patch.NextBillingAt != nil {
		args = append(args, *patch.NextBillingAt)
		set = append(set, fmt.Sprintf("next_billing_at = $%d", len(args)))
	}

	q := "UPDATE subscriptions SET " + strings.Join(set, ", ") + " WHERE stripe_subscription_id = $1"
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", stripeSubscriptionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
