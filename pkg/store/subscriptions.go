package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/model"
)

func (s *Store) UpsertSubscription(ctx context.Context, sub *model.Subscription) error {
	_, err := s.stmt("upsertSubscription").ExecContext(ctx, sub.UserID, sub.ExpiresAt, sub.AddedBy, sub.Notes)
	if err != nil {
		return errs.Store(fmt.Errorf("upsert subscription %s: %w", sub.UserID, err))
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.stmt("getSubscription").QueryRowContext(ctx, userID).Scan(&sub.UserID, &sub.ExpiresAt, &sub.AddedBy, &sub.Notes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Store(fmt.Errorf("get subscription %s: %w", userID, err))
	}
	return &sub, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, userID string) error {
	if _, err := s.stmt("deleteSubscription").ExecContext(ctx, userID); err != nil {
		return errs.Store(fmt.Errorf("delete subscription %s: %w", userID, err))
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	return s.scanSubscriptions(s.stmt("listSubscriptions").QueryContext(ctx))
}

// Expired returns every subscription whose expiry is at or before now, for
// the hourly sweeper in pkg/health (spec §4.7 supplemented operation).
func (s *Store) Expired(ctx context.Context, now time.Time) ([]model.Subscription, error) {
	return s.scanSubscriptions(s.stmt("expiredSubs").QueryContext(ctx, now))
}

func (s *Store) scanSubscriptions(rows *sql.Rows, err error) ([]model.Subscription, error) {
	if err != nil {
		return nil, errs.Store(fmt.Errorf("query subscriptions: %w", err))
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.UserID, &sub.ExpiresAt, &sub.AddedBy, &sub.Notes); err != nil {
			return nil, errs.Store(fmt.Errorf("scan subscription: %w", err))
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
