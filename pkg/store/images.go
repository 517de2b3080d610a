package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/bits"

	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/model"
)

// BlockImage records a perceptual hash as blocked, either globally or for
// one pair (spec §4.3).
func (s *Store) BlockImage(ctx context.Context, b *model.BlockedImage) error {
	var pairID sql.NullInt64
	if b.PairID != 0 {
		pairID = sql.NullInt64{Int64: b.PairID, Valid: true}
	}
	if b.Threshold == 0 {
		b.Threshold = 5 // spec §4.3 default Hamming threshold
	}
	_, err := s.stmt("insertBlockedImage").ExecContext(ctx, int64(b.PHash), b.Scope, pairID, b.Threshold, b.Note)
	if err != nil {
		return errs.Store(fmt.Errorf("block image: %w", err))
	}
	return nil
}

// LookupBlocked reports whether phash is within any applicable blocked
// entry's threshold Hamming distance, scanning the pair's own entries plus
// every global entry (spec §4.3: "global entries apply to all pairs").
// The candidate set is small enough in practice (block lists are curated,
// not bulk image databases) that a linear scan beats indexing by hash
// bucket; see DESIGN.md.
func (s *Store) LookupBlocked(ctx context.Context, pairID int64, phash uint64) (*model.BlockedImage, bool, error) {
	rows, err := s.stmt("listBlockedImages").QueryContext(ctx, pairID)
	if err != nil {
		return nil, false, errs.Store(fmt.Errorf("lookup blocked image: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var b model.BlockedImage
		var storedHash int64
		var scopedPairID sql.NullInt64
		if err := rows.Scan(&b.ID, &storedHash, &b.Scope, &scopedPairID, &b.Threshold, &b.UsageCount, &b.Note, &b.CreatedAt); err != nil {
			return nil, false, errs.Store(fmt.Errorf("scan blocked image: %w", err))
		}
		b.PHash = uint64(storedHash)
		if scopedPairID.Valid {
			b.PairID = scopedPairID.Int64
		}

		if hammingDistance(b.PHash, phash) <= b.Threshold {
			if _, err := s.stmt("bumpBlockedImage").ExecContext(ctx, b.ID); err != nil {
				return nil, false, errs.Store(fmt.Errorf("bump blocked image %d: %w", b.ID, err))
			}
			return &b, true, nil
		}
	}
	return nil, false, rows.Err()
}

func hammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func (s *Store) AddBlockedWord(ctx context.Context, word string, pairID int64) error {
	var scoped sql.NullInt64
	if pairID != 0 {
		scoped = sql.NullInt64{Int64: pairID, Valid: true}
	}
	if _, err := s.stmt("insertBlockedWord").ExecContext(ctx, word, scoped); err != nil {
		return errs.Store(fmt.Errorf("add blocked word %q: %w", word, err))
	}
	return nil
}

func (s *Store) RemoveBlockedWord(ctx context.Context, word string, pairID int64) error {
	var scoped sql.NullInt64
	if pairID != 0 {
		scoped = sql.NullInt64{Int64: pairID, Valid: true}
	}
	if _, err := s.stmt("deleteBlockedWord").ExecContext(ctx, word, scoped, scoped); err != nil {
		return errs.Store(fmt.Errorf("remove blocked word %q: %w", word, err))
	}
	return nil
}

// BlockedWordsFor returns the global word list and the pair-specific list
// separately so the filter engine can attribute drops to the right reason
// (spec §4.2: DropGlobalWord vs DropPairWord).
func (s *Store) BlockedWordsFor(ctx context.Context, pairID int64) (global, pair []string, err error) {
	global, err = s.queryWords(ctx, "globalBlockedWords")
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.stmt("pairBlockedWords").QueryContext(ctx, pairID)
	if err != nil {
		return nil, nil, errs.Store(fmt.Errorf("pair blocked words %d: %w", pairID, err))
	}
	defer rows.Close()
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, nil, errs.Store(err)
		}
		pair = append(pair, w)
	}
	return global, pair, rows.Err()
}

func (s *Store) queryWords(ctx context.Context, stmtName string, args ...any) ([]string, error) {
	rows, err := s.stmt(stmtName).QueryContext(ctx, args...)
	if err != nil {
		return nil, errs.Store(fmt.Errorf("query %s: %w", stmtName, err))
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, errs.Store(err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
