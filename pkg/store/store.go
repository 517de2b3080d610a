// Package store is the persistence layer (spec §4.1, component C1): a
// SQLite-backed repository for pairs, mappings, senders, blocked words and
// images, and subscriptions. It follows the teacher pack's prepared-statement
// repository shape (see the ShopMindAI chat repository grounding in
// DESIGN.md) adapted to modernc.org/sqlite, a pure-Go driver that needs no
// cgo toolchain on the runner.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/logger"
	"github.com/sunil55999/Zorox/pkg/model"
)

const component = "store"

// Store is the single persistence handle for the replication engine.
// pairCache mirrors pairs_by_source_chat (spec §4.1: "O(1) lookup") so the
// pipeline's hot path never round-trips to SQLite per inbound message.
type Store struct {
	db    *sql.DB
	stmts map[string]*sql.Stmt
	mu    sync.RWMutex // guards stmts

	cacheMu   sync.RWMutex
	pairCache map[int64][]model.Pair // source_chat -> pairs of any status
}

// Open creates (if needed) and migrates the SQLite database at path, then
// prepares the statement set and warms the pair cache.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Store(fmt.Errorf("open %s: %w", path, err))
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY storms
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errs.Store(fmt.Errorf("apply schema: %w", err))
	}

	s := &Store{db: db, stmts: make(map[string]*sql.Stmt), pairCache: make(map[int64][]model.Pair)}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.warmPairCache(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.InfoCF(component, "Store opened", map[string]any{"path": path})
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.mu.Unlock()
	return s.db.Close()
}

var statements = map[string]string{
	"insertPair": `INSERT INTO pair (source_chat, destination_chat, destination_platform, name, status, sender_pool, sender_id, filters_json, stats_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	"updatePair": `UPDATE pair SET name=?, status=?, sender_pool=?, sender_id=?, filters_json=?, stats_json=? WHERE id=?`,
	"getPair":    `SELECT id, source_chat, destination_chat, destination_platform, name, status, sender_pool, sender_id, filters_json, stats_json, created_at FROM pair WHERE id=?`,
	"listPairs":  `SELECT id, source_chat, destination_chat, destination_platform, name, status, sender_pool, sender_id, filters_json, stats_json, created_at FROM pair ORDER BY id`,
	"deletePair": `DELETE FROM pair WHERE id=?`,

	"upsertMapping": `INSERT INTO mapping (source_msg_id, dest_msg_id, pair_id, sender_id, source_chat, dest_chat, kind, has_media, reply_to_source_id, reply_to_dest_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(source_msg_id, pair_id) DO UPDATE SET
			dest_msg_id=excluded.dest_msg_id, sender_id=excluded.sender_id, kind=excluded.kind,
			has_media=excluded.has_media, reply_to_source_id=excluded.reply_to_source_id,
			reply_to_dest_id=excluded.reply_to_dest_id, updated_at=CURRENT_TIMESTAMP`,
	"getMapping":    `SELECT source_msg_id, dest_msg_id, pair_id, sender_id, source_chat, dest_chat, kind, has_media, reply_to_source_id, reply_to_dest_id, created_at, updated_at FROM mapping WHERE source_msg_id=? AND pair_id=?`,
	"deleteMapping": `DELETE FROM mapping WHERE source_msg_id=? AND pair_id=?`,

	"insertSender": `INSERT INTO sender (display_handle, platform, credential, enabled) VALUES (?, ?, ?, ?)`,
	"toggleSender": `UPDATE sender SET enabled=? WHERE id=?`,
	"listSenders":  `SELECT id, display_handle, platform, credential, enabled, usage_count, last_used_at FROM sender ORDER BY id`,
	"bumpSender":   `UPDATE sender SET usage_count=usage_count+1, last_used_at=CURRENT_TIMESTAMP WHERE id=?`,

	"insertBlockedWord":  `INSERT OR IGNORE INTO blocked_word (word, pair_id) VALUES (?, ?)`,
	"deleteBlockedWord":  `DELETE FROM blocked_word WHERE word=? AND (pair_id=? OR (pair_id IS NULL AND ? IS NULL))`,
	"globalBlockedWords": `SELECT word FROM blocked_word WHERE pair_id IS NULL`,
	"pairBlockedWords":   `SELECT word FROM blocked_word WHERE pair_id=?`,

	"insertBlockedImage": `INSERT INTO blocked_image (phash, scope, pair_id, threshold, note) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(phash, COALESCE(pair_id, -1)) DO UPDATE SET usage_count=blocked_image.usage_count`,
	"listBlockedImages": `SELECT id, phash, scope, pair_id, threshold, usage_count, note, created_at FROM blocked_image WHERE scope='global' OR pair_id=?`,
	"bumpBlockedImage":  `UPDATE blocked_image SET usage_count=usage_count+1 WHERE id=?`,

	"upsertSubscription": `INSERT INTO subscription (user_id, expires_at, added_by, notes) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET expires_at=excluded.expires_at, added_by=excluded.added_by, notes=excluded.notes`,
	"getSubscription":    `SELECT user_id, expires_at, added_by, notes FROM subscription WHERE user_id=?`,
	"deleteSubscription": `DELETE FROM subscription WHERE user_id=?`,
	"expiredSubs":        `SELECT user_id, expires_at, added_by, notes FROM subscription WHERE expires_at <= ?`,
	"listSubscriptions":  `SELECT user_id, expires_at, added_by, notes FROM subscription ORDER BY expires_at`,
}

func (s *Store) prepareStatements() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, query := range statements {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return errs.Store(fmt.Errorf("prepare %s: %w", name, err))
		}
		s.stmts[name] = stmt
	}
	return nil
}

func (s *Store) stmt(name string) *sql.Stmt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stmts[name]
}

func marshalFilters(p model.FilterPolicy) string {
	b, _ := json.Marshal(p)
	return string(b)
}

func unmarshalFilters(raw string) model.FilterPolicy {
	var p model.FilterPolicy
	if raw == "" {
		return p
	}
	strict := json.NewDecoder(strings.NewReader(raw))
	strict.DisallowUnknownFields()
	strictErr := strict.Decode(&p)
	if strictErr == nil {
		return p
	}
	p = model.FilterPolicy{}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		logger.WarnCF(component, "Ignoring unparseable filters_json", map[string]any{"error": err.Error()})
		return p
	}
	logger.WarnCF(component, "Ignoring unknown keys in filters_json", map[string]any{"error": strictErr.Error()})
	return p
}

func marshalStats(st model.PairStats) string {
	b, _ := json.Marshal(st)
	return string(b)
}

func unmarshalStats(raw string) model.PairStats {
	var st model.PairStats
	if raw == "" {
		return st
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		logger.WarnCF(component, "Ignoring unparseable stats_json", map[string]any{"error": err.Error()})
	}
	return st
}

// Backup snapshots the live database into destPath using SQLite's
// VACUUM INTO, which produces a consistent copy without stopping writers
// (spec §9 supplemented operation: scheduled backups).
func (s *Store) Backup(ctx context.Context, destPath string) error {
	_, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath)
	if err != nil {
		return errs.Store(fmt.Errorf("backup: %w", err))
	}
	logger.InfoCF(component, "Backup written", map[string]any{"path": destPath})
	return nil
}
