package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/model"
)

func (s *Store) AddSender(ctx context.Context, sender *model.Sender) error {
	res, err := s.stmt("insertSender").ExecContext(ctx, sender.DisplayHandle, sender.Platform, sender.Credential, sender.Enabled)
	if err != nil {
		return errs.Store(fmt.Errorf("add sender %s: %w", sender.DisplayHandle, err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errs.Store(fmt.Errorf("add sender id: %w", err))
	}
	sender.ID = id
	return nil
}

func (s *Store) ToggleSender(ctx context.Context, id int64, enabled bool) error {
	if _, err := s.stmt("toggleSender").ExecContext(ctx, enabled, id); err != nil {
		return errs.Store(fmt.Errorf("toggle sender %d: %w", id, err))
	}
	return nil
}

func (s *Store) ListSenders(ctx context.Context) ([]model.Sender, error) {
	rows, err := s.stmt("listSenders").QueryContext(ctx)
	if err != nil {
		return nil, errs.Store(fmt.Errorf("list senders: %w", err))
	}
	defer rows.Close()

	var out []model.Sender
	for rows.Next() {
		var sd model.Sender
		var lastUsed sql.NullTime
		if err := rows.Scan(&sd.ID, &sd.DisplayHandle, &sd.Platform, &sd.Credential, &sd.Enabled, &sd.UsageCount, &lastUsed); err != nil {
			return nil, errs.Store(fmt.Errorf("scan sender: %w", err))
		}
		if lastUsed.Valid {
			sd.LastUsedAt = lastUsed.Time
		}
		out = append(out, sd)
	}
	return out, rows.Err()
}

// RecordSenderUse bumps usage_count and last_used_at after a successful
// send, feeding the admin-facing "which identity sent this" audit trail.
func (s *Store) RecordSenderUse(ctx context.Context, id int64) error {
	if _, err := s.stmt("bumpSender").ExecContext(ctx, id); err != nil {
		return errs.Store(fmt.Errorf("record sender use %d: %w", id, err))
	}
	return nil
}
