package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/model"
)

// SaveMapping is an idempotent upsert keyed on (source_msg_id, pair_id),
// matching the pipeline's retry contract (spec §4.6: "mapping writes are
// idempotent, so a retried dispatch never creates a duplicate mapping").
func (s *Store) SaveMapping(ctx context.Context, m *model.Mapping) error {
	var replyToSource, replyToDest sql.NullInt64
	if m.ReplyToSourceID != 0 {
		replyToSource = sql.NullInt64{Int64: m.ReplyToSourceID, Valid: true}
	}
	if m.ReplyToDestID != 0 {
		replyToDest = sql.NullInt64{Int64: m.ReplyToDestID, Valid: true}
	}

	_, err := s.stmt("upsertMapping").ExecContext(ctx,
		m.SourceMsgID, m.DestMsgID, m.PairID, m.SenderID, m.SourceChat, m.DestChat,
		m.Kind, m.HasMedia, replyToSource, replyToDest,
	)
	if err != nil {
		return errs.Store(fmt.Errorf("save mapping (pair=%d, src=%d): %w", m.PairID, m.SourceMsgID, err))
	}
	return nil
}

func (s *Store) GetMapping(ctx context.Context, pairID, sourceMsgID int64) (*model.Mapping, error) {
	var m model.Mapping
	var replyToSource, replyToDest sql.NullInt64
	err := s.stmt("getMapping").QueryRowContext(ctx, sourceMsgID, pairID).Scan(
		&m.SourceMsgID, &m.DestMsgID, &m.PairID, &m.SenderID, &m.SourceChat, &m.DestChat,
		&m.Kind, &m.HasMedia, &replyToSource, &replyToDest, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil // absence is not an error: callers treat it as "no prior copy"
	}
	if err != nil {
		return nil, errs.Store(fmt.Errorf("get mapping (pair=%d, src=%d): %w", pairID, sourceMsgID, err))
	}
	if replyToSource.Valid {
		m.ReplyToSourceID = replyToSource.Int64
	}
	if replyToDest.Valid {
		m.ReplyToDestID = replyToDest.Int64
	}
	return &m, nil
}

func (s *Store) DeleteMapping(ctx context.Context, pairID, sourceMsgID int64) error {
	if _, err := s.stmt("deleteMapping").ExecContext(ctx, sourceMsgID, pairID); err != nil {
		return errs.Store(fmt.Errorf("delete mapping (pair=%d, src=%d): %w", pairID, sourceMsgID, err))
	}
	return nil
}
