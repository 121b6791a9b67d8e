package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error)
	UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error
}

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

func (r *userRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	const q = `
        SELECT user_id, email, name, stripe_customer_id, created_at, updated_at
        FROM user_profiles
        WHERE user_id = $1
    `
	var u model.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.UserID, &u.Email, &u.Name, &u.StripeCustomerID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return &u, nil
}

func (r *userRepo) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	const q = `
        SELECT user_id, email, name, stripe_customer_id, created_at, updated_at
        FROM user_profiles
        WHERE stripe_customer_id = $1
    `
	var u model.User
	err := r.pool.QueryRow(ctx, q, customerID).Scan(&u.UserID, &u.Email, &u.Name, &u.StripeCustomerID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch user by stripe customer %s: %w", customerID, err)
	}
	return &u, nil
}

func (r *userRepo) UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error {
	const q = `
        UPDATE user_profiles
        SET stripe_customer_id = $2, updated_at = NOW()
        WHERE user_id = $1
    `
	if _, err := r.pool.Exec(ctx, q, userID, customerID); err != nil {
		return fmt.Errorf("store stripe customer id for user %s: %w", userID, err)
	}
	return nil
}
