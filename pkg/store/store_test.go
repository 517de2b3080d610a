package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sunil55999/Zorox/pkg/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "zorox.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertPairAndCache(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p := &model.Pair{SourceChat: 100, DestinationChat: 200, Name: "vip", Status: model.PairActive}
	require.NoError(t, s.UpsertPair(ctx, p))
	require.NotZero(t, p.ID)

	cached := s.PairsBySourceChat(100)
	require.Len(t, cached, 1)
	require.Equal(t, "vip", cached[0].Name)

	p.Name = "vip-renamed"
	require.NoError(t, s.UpsertPair(ctx, p))
	require.Equal(t, "vip-renamed", s.PairsBySourceChat(100)[0].Name)

	fetched, err := s.GetPairByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "vip-renamed", fetched.Name)
}

func TestDeletePairCascadesMappings(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p := &model.Pair{SourceChat: 1, DestinationChat: 2, Name: "p", Status: model.PairActive}
	require.NoError(t, s.UpsertPair(ctx, p))
	require.NoError(t, s.SaveMapping(ctx, &model.Mapping{SourceMsgID: 10, DestMsgID: 11, PairID: p.ID, SourceChat: 1, DestChat: 2, Kind: model.MappingText}))

	require.NoError(t, s.DeletePair(ctx, p.ID))
	require.Empty(t, s.PairsBySourceChat(1))

	m, err := s.GetMapping(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestSaveMappingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	m := &model.Mapping{SourceMsgID: 5, DestMsgID: 50, PairID: 1, SourceChat: 1, DestChat: 2, Kind: model.MappingText}
	require.NoError(t, s.SaveMapping(ctx, m))
	require.NoError(t, s.SaveMapping(ctx, m)) // retried dispatch must not conflict

	got, err := s.GetMapping(ctx, 1, 5)
	require.NoError(t, err)
	require.Equal(t, int64(50), got.DestMsgID)
}

func TestBumpStatIncrementsAndPersists(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p := &model.Pair{SourceChat: 1, DestinationChat: 2, Name: "p", Status: model.PairActive}
	require.NoError(t, s.UpsertPair(ctx, p))

	require.NoError(t, s.BumpStat(ctx, p.ID, StatSent))
	require.NoError(t, s.BumpStat(ctx, p.ID, StatSent))
	require.NoError(t, s.BumpStat(ctx, p.ID, StatWordsBlocked))

	fetched, err := s.GetPairByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), fetched.Stats.Sent)
	require.Equal(t, int64(1), fetched.Stats.WordsBlocked)
}

func TestSenderToggle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sender := &model.Sender{DisplayHandle: "@relay_one", Platform: "telegram", Credential: "token", Enabled: true}
	require.NoError(t, s.AddSender(ctx, sender))

	require.NoError(t, s.ToggleSender(ctx, sender.ID, false))
	senders, err := s.ListSenders(ctx)
	require.NoError(t, err)
	require.False(t, senders[0].Enabled)
}

func TestBlockedWordsScopedGlobalVsPair(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.AddBlockedWord(ctx, "scam", 0))
	require.NoError(t, s.AddBlockedWord(ctx, "promo", 7))

	global, pair, err := s.BlockedWordsFor(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, []string{"scam"}, global)
	require.Equal(t, []string{"promo"}, pair)

	_, pairOther, err := s.BlockedWordsFor(ctx, 8)
	require.NoError(t, err)
	require.Empty(t, pairOther)
}

func TestBlockImageHammingDistance(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.BlockImage(ctx, &model.BlockedImage{PHash: 0b1010101010101010, Scope: model.ScopeGlobal, Threshold: 3}))

	// flips 2 bits: within threshold 3
	near := uint64(0b1010101010101010) ^ 0b11
	hit, blocked, err := s.LookupBlocked(ctx, 99, near)
	require.NoError(t, err)
	require.True(t, blocked)
	require.NotNil(t, hit)

	// flips many bits: outside threshold
	far := ^uint64(0b1010101010101010)
	_, blocked, err = s.LookupBlocked(ctx, 99, far)
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestSubscriptionExpiry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertSubscription(ctx, &model.Subscription{UserID: "u1", ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, s.UpsertSubscription(ctx, &model.Subscription{UserID: "u2", ExpiresAt: now.Add(time.Hour)}))

	expired, err := s.Expired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "u1", expired[0].UserID)
}
