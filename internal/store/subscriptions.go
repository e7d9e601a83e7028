package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HasithaS001/doclama-sub001/internal/models"
)

// ErrStaleUpdate is returned when the stored subscription already reflects a
// newer provider update than the one being written.
var ErrStaleUpdate = errors.New("store: stale subscription update")

// UpsertSubscription inserts or updates a subscription keyed by its provider id.
// An update older than the stored provider_updated_at is rejected with
// ErrStaleUpdate so retried or reordered events cannot roll state back.
func (s *Store) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub == nil {
		return errors.New("store: subscription cannot be nil")
	}

	query := `
INSERT INTO subscriptions (
	lemon_squeezy_id, order_id, name, email, status, status_formatted,
	renews_at, ends_at, trial_ends_at, price, is_usage_based, is_paused,
	subscription_item_id, user_id, plan_id, provider_updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (lemon_squeezy_id) DO UPDATE SET
	order_id = EXCLUDED.order_id,
	name = EXCLUDED.name,
	email = EXCLUDED.email,
	status = EXCLUDED.status,
	status_formatted = EXCLUDED.status_formatted,
	renews_at = EXCLUDED.renews_at,
	ends_at = EXCLUDED.ends_at,
	trial_ends_at = EXCLUDED.trial_ends_at,
	price = EXCLUDED.price,
	is_usage_based = EXCLUDED.is_usage_based,
	is_paused = EXCLUDED.is_paused,
	subscription_item_id = EXCLUDED.subscription_item_id,
	user_id = EXCLUDED.user_id,
	plan_id = EXCLUDED.plan_id,
	provider_updated_at = EXCLUDED.provider_updated_at,
	updated_at = now()
WHERE subscriptions.provider_updated_at IS NULL
   OR EXCLUDED.provider_updated_at IS NULL
   OR subscriptions.provider_updated_at <= EXCLUDED.provider_updated_at
RETURNING id, created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		sub.LemonSqueezyID,
		sub.OrderID,
		sub.Name,
		sub.Email,
		sub.Status,
		sub.StatusFormatted,
		sub.RenewsAt,
		sub.EndsAt,
		sub.TrialEndsAt,
		sub.Price,
		sub.IsUsageBased,
		sub.IsPaused,
		sub.SubscriptionItemID,
		sub.UserID,
		sub.PlanID,
		sub.ProviderUpdatedAt,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrStaleUpdate
	}
	if err != nil {
		return fmt.Errorf("store: upsert subscription: %w", err)
	}

	return nil
}

// GetSubscriptionByUserID returns the most recently updated subscription for a user.
func (s *Store) GetSubscriptionByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	query := `
SELECT
	id, lemon_squeezy_id, order_id, name, email, status, status_formatted,
	renews_at, ends_at, trial_ends_at, price, is_usage_based, is_paused,
	subscription_item_id, user_id, plan_id, created_at, updated_at
FROM subscriptions
WHERE user_id = $1
ORDER BY updated_at DESC
LIMIT 1`

	var sub models.Subscription
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&sub.ID,
		&sub.LemonSqueezyID,
		&sub.OrderID,
		&sub.Name,
		&sub.Email,
		&sub.Status,
		&sub.StatusFormatted,
		&sub.RenewsAt,
		&sub.EndsAt,
		&sub.TrialEndsAt,
		&sub.Price,
		&sub.IsUsageBased,
		&sub.IsPaused,
		&sub.SubscriptionItemID,
		&sub.UserID,
		&sub.PlanID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get subscription: %w", err)
	}

	return &sub, nil
}
