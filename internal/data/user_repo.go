package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// =============================================================================
// USER AND SUBSCRIPTION REPOSITORY
// =============================================================================

// Subscription records that a user wants to hear about an item at a store.
type Subscription struct {
	UserID    string    `json:"userId"`
	ItemID    string    `json:"itemId"`
	StoreID   string    `json:"storeId"`
	CreatedAt time.Time `json:"createdAt"`
}

type UserRepository struct{}

func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

// UpsertUser registers a user id. Registering twice is not an error.
func (r *UserRepository) UpsertUser(ctx context.Context, userID string) error {
	_, err := ExecDB(ctx, `INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`,
		userID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// InsertSubscription stores a subscription, refreshing created_at when it
// already exists.
func (r *UserRepository) InsertSubscription(ctx context.Context, sub Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	const stmt = `
		INSERT INTO subscriptions (user_id, item_id, store_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, item_id, store_id) DO UPDATE SET created_at = excluded.created_at`

	if _, err := ExecDB(ctx, stmt, sub.UserID, sub.ItemID, sub.StoreID, formatTime(sub.CreatedAt)); err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns a user's subscriptions, newest first.
func (r *UserRepository) ListSubscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	subs := []Subscription{}
	err := QueryEach(ctx, func(rows *sql.Rows) error {
		var (
			sub       Subscription
			createdAt string
		)
		if err := rows.Scan(&sub.UserID, &sub.ItemID, &sub.StoreID, &createdAt); err != nil {
			return fmt.Errorf("failed to scan subscription: %w", err)
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return fmt.Errorf("invalid subscription timestamp %q: %w", createdAt, err)
		}
		sub.CreatedAt = t
		subs = append(subs, sub)
		return nil
	}, `SELECT user_id, item_id, store_id, created_at FROM subscriptions
		WHERE user_id = ? ORDER BY created_at DESC, item_id, store_id`, userID)
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// DeleteSubscriptionsBefore removes at most limit subscriptions created before
// cutoff and returns how many were removed.
func (r *UserRepository) DeleteSubscriptionsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	const stmt = `
		DELETE FROM subscriptions WHERE rowid IN (
			SELECT rowid FROM subscriptions WHERE created_at < ? ORDER BY created_at LIMIT ?
		)`

	result, err := ExecDB(ctx, stmt, formatTime(cutoff), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old subscriptions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}
