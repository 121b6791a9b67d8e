package repository

import (
	"context"
	"fmt"
	"strings"

	"app/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CheckoutRepository defines methods for accessing checkout records.
type CheckoutRepository interface {
	Create(ctx context.Context, c *model.Checkout) error
	Update(ctx context.Context, sessionID string, patch model.CheckoutPatch) error
}

type checkoutRepo struct {
	pool *pgxpool.Pool
}

// NewCheckoutRepo creates a new CheckoutRepository.
func NewCheckoutRepo(pool *pgxpool.Pool) CheckoutRepository {
	return &checkoutRepo{pool: pool}
}

func (r *checkoutRepo) Create(ctx context.Context, c *model.Checkout) error {
	const q = `
        INSERT INTO checkouts (user_id, plan, stripe_price_id, stripe_session_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
        RETURNING id, created_at, updated_at
    `
	err := r.pool.QueryRow(ctx, q, c.UserID, c.Plan, c.StripePriceID, c.StripeSessionID, c.Status).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create checkout %s for user %s: %w", c.StripeSessionID, c.UserID, err)
	}
	return nil
}

// Update applies a patch to a checkout row. Transitions out of pending are
// terminal, so any status change is guarded on the row still being pending.
func (r *checkoutRepo) Update(ctx context.Context, sessionID string, patch model.CheckoutPatch) error {
	set := []string{"updated_at = NOW()"}
	args := []interface{}{sessionID}
	guard := ""
	if patch.Status != nil {
		args = append(args, *patch.Status)
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
		if *patch.Status != model.CheckoutStatusPending {
			guard = " AND status = 'pending'"
		}
	}
	if patch.FailureReason != nil {
		args = append(args, *patch.FailureReason)
		set = append(set, fmt.Sprintf("failure_reason = $%d", len(args)))
	}
	if patch.Metadata != nil {
		args = append(args, patch.Metadata)
		set = append(set, fmt.Sprintf("metadata = $%d", len(args)))
	}

	q := "UPDATE checkouts SET " + strings.Join(set, ", ") + " WHERE stripe_session_id = $1" + guard
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update checkout %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
