package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/model"
)

// UpsertPair inserts a new pair (ID == 0) or updates an existing one, then
// refreshes the source-chat cache entry it belongs to.
func (s *Store) UpsertPair(ctx context.Context, p *model.Pair) error {
	filtersJSON := marshalFilters(p.Filters)
	statsJSON := marshalStats(p.Stats)

	var senderID sql.NullInt64
	if p.SenderBinding.SenderID != 0 {
		senderID = sql.NullInt64{Int64: p.SenderBinding.SenderID, Valid: true}
	}

	platform := p.DestinationPlatform
	if platform == "" {
		platform = "telegram"
	}

	if p.ID == 0 {
		res, err := s.stmt("insertPair").ExecContext(ctx, p.SourceChat, p.DestinationChat, platform, p.Name, p.Status, p.SenderBinding.Pool, senderID, filtersJSON, statsJSON)
		if err != nil {
			return errs.Store(fmt.Errorf("insert pair: %w", err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return errs.Store(fmt.Errorf("insert pair id: %w", err))
		}
		p.ID = id
	} else {
		if _, err := s.stmt("updatePair").ExecContext(ctx, p.Name, p.Status, p.SenderBinding.Pool, senderID, filtersJSON, statsJSON, p.ID); err != nil {
			return errs.Store(fmt.Errorf("update pair %d: %w", p.ID, err))
		}
	}

	return s.refreshSourceChatCache(ctx, p.SourceChat)
}

// DeletePair removes a pair and its mappings in one transaction. The
// mapping table keys on pair_id without a foreign key, so the cascade is
// done explicitly here.
func (s *Store) DeletePair(ctx context.Context, id int64) error {
	p, err := s.GetPairByID(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Store(fmt.Errorf("begin delete pair %d: %w", id, err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mapping WHERE pair_id = ?`, id); err != nil {
		return errs.Store(fmt.Errorf("cascade mappings for pair %d: %w", id, err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pair WHERE id = ?`, id); err != nil {
		return errs.Store(fmt.Errorf("delete pair %d: %w", id, err))
	}
	if err := tx.Commit(); err != nil {
		return errs.Store(fmt.Errorf("commit delete pair %d: %w", id, err))
	}

	return s.refreshSourceChatCache(ctx, p.SourceChat)
}

func (s *Store) GetPairByID(ctx context.Context, id int64) (*model.Pair, error) {
	row := s.stmt("getPair").QueryRowContext(ctx, id)
	p, err := scanPair(row)
	if err == sql.ErrNoRows {
		return nil, errs.Store(fmt.Errorf("pair %d not found", id))
	}
	if err != nil {
		return nil, errs.Store(fmt.Errorf("get pair %d: %w", id, err))
	}
	return p, nil
}

func (s *Store) ListPairs(ctx context.Context) ([]model.Pair, error) {
	rows, err := s.stmt("listPairs").QueryContext(ctx)
	if err != nil {
		return nil, errs.Store(fmt.Errorf("list pairs: %w", err))
	}
	defer rows.Close()

	var out []model.Pair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, errs.Store(fmt.Errorf("scan pair: %w", err))
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// PairsBySourceChat is the hot-path lookup the pipeline calls for every
// inbound message (spec §4.1: "O(1) lookup keyed by source_chat"); it never
// touches SQLite once the cache is warm.
func (s *Store) PairsBySourceChat(sourceChat int64) []model.Pair {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return append([]model.Pair(nil), s.pairCache[sourceChat]...)
}

func (s *Store) warmPairCache(ctx context.Context) error {
	pairs, err := s.ListPairs(ctx)
	if err != nil {
		return err
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.pairCache = make(map[int64][]model.Pair)
	for _, p := range pairs {
		s.pairCache[p.SourceChat] = append(s.pairCache[p.SourceChat], p)
	}
	return nil
}

func (s *Store) refreshSourceChatCache(ctx context.Context, sourceChat int64) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, source_chat, destination_chat, destination_platform, name, status, sender_pool, sender_id, filters_json, stats_json, created_at FROM pair WHERE source_chat = ?`, sourceChat)
	if err != nil {
		return errs.Store(fmt.Errorf("refresh cache for chat %d: %w", sourceChat, err))
	}
	defer rows.Close()

	var pairs []model.Pair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return errs.Store(fmt.Errorf("scan pair for cache refresh: %w", err))
		}
		pairs = append(pairs, *p)
	}
	if err := rows.Err(); err != nil {
		return errs.Store(err)
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if len(pairs) == 0 {
		delete(s.pairCache, sourceChat)
	} else {
		s.pairCache[sourceChat] = pairs
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPair(row rowScanner) (*model.Pair, error) {
	var p model.Pair
	var senderID sql.NullInt64
	var filtersJSON, statsJSON string
	err := row.Scan(&p.ID, &p.SourceChat, &p.DestinationChat, &p.DestinationPlatform, &p.Name, &p.Status, &p.SenderBinding.Pool, &senderID, &filtersJSON, &statsJSON, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if senderID.Valid {
		p.SenderBinding.SenderID = senderID.Int64
	}
	p.Filters = unmarshalFilters(filtersJSON)
	p.Stats = unmarshalStats(statsJSON)
	return &p, nil
}
