package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sunil55999/Zorox/pkg/config"
	"github.com/sunil55999/Zorox/pkg/model"
	"github.com/sunil55999/Zorox/pkg/platform"
)

type fakeStore struct {
	pairs        []model.Pair
	expired      []model.Subscription
	deleted      []string
	backupCalled bool
}

func (f *fakeStore) ListPairs(ctx context.Context) ([]model.Pair, error) { return f.pairs, nil }

func (f *fakeStore) Expired(ctx context.Context, now time.Time) ([]model.Subscription, error) {
	return f.expired, nil
}

func (f *fakeStore) DeleteSubscription(ctx context.Context, userID string) error {
	f.deleted = append(f.deleted, userID)
	return nil
}

func (f *fakeStore) Backup(ctx context.Context, destPath string) error {
	f.backupCalled = true
	return nil
}

type fakeSender struct {
	removed []string
}

func (s *fakeSender) Platform() string { return "telegram" }
func (s *fakeSender) SendText(ctx context.Context, chatID int64, text string, entities []model.Entity, replyTo int64) (int64, error) {
	return 0, nil
}
func (s *fakeSender) SendMedia(ctx context.Context, chatID int64, tag model.MediaTag, data []byte, mimeType, caption string, entities []model.Entity, replyTo int64) (int64, error) {
	return 0, nil
}
func (s *fakeSender) EditText(ctx context.Context, chatID, msgID int64, text string, entities []model.Entity) error {
	return nil
}
func (s *fakeSender) DeleteMessage(ctx context.Context, chatID, msgID int64) error { return nil }
func (s *fakeSender) RemoveUser(ctx context.Context, chatID int64, userID string) error {
	s.removed = append(s.removed, userID)
	return nil
}

func testConfig() config.HealthConfig {
	return config.HealthConfig{
		ErrorRateElevated:  0.25,
		ErrorRateCritical:  0.50,
		ErrorRateWindow:    60 * time.Second,
		QueueDepthAlertPct: 0.80,
		SweepCron:          "0 * * * *",
		SweepChatDelay:     time.Millisecond,
		BackupCron:         "0 3 * * *",
	}
}

func TestSweepExpiredSubscriptionsRemovesFromActiveDestinationsThenDeletes(t *testing.T) {
	st := &fakeStore{
		pairs: []model.Pair{
			{ID: 1, DestinationChat: 100, DestinationPlatform: "telegram", Status: model.PairActive},
			{ID: 2, DestinationChat: 200, DestinationPlatform: "telegram", Status: model.PairActive},
			{ID: 3, DestinationChat: 300, DestinationPlatform: "telegram", Status: model.PairInactive},
		},
		expired: []model.Subscription{{UserID: "u1", ExpiresAt: time.Now().Add(-time.Hour)}},
	}
	sender := &fakeSender{}
	m := New(testConfig(), "", st, nil, nil, map[string]platform.Sender{"telegram": sender})

	require.NoError(t, m.SweepExpiredSubscriptions(context.Background(), time.Now()))

	require.ElementsMatch(t, []string{"u1", "u1"}, sender.removed)
	require.Equal(t, []string{"u1"}, st.deleted)
}

func TestSweepExpiredSubscriptionsNoopWithoutExpired(t *testing.T) {
	st := &fakeStore{}
	sender := &fakeSender{}
	m := New(testConfig(), "", st, nil, nil, map[string]platform.Sender{"telegram": sender})

	require.NoError(t, m.SweepExpiredSubscriptions(context.Background(), time.Now()))
	require.Empty(t, sender.removed)
	require.Empty(t, st.deleted)
}

func TestClassifyErrorRate(t *testing.T) {
	m := New(testConfig(), "", &fakeStore{}, nil, nil, nil)

	sev, ok := m.classifyErrorRate(0.10)
	require.False(t, ok)
	require.Empty(t, sev)

	sev, ok = m.classifyErrorRate(0.30)
	require.True(t, ok)
	require.Equal(t, SeverityElevated, sev)

	sev, ok = m.classifyErrorRate(0.60)
	require.True(t, ok)
	require.Equal(t, SeverityCritical, sev)
}

func TestDistinctDestinationsDedupesAndSkipsInactive(t *testing.T) {
	pairs := []model.Pair{
		{DestinationChat: 1, DestinationPlatform: "telegram", Status: model.PairActive},
		{DestinationChat: 1, DestinationPlatform: "telegram", Status: model.PairActive},
		{DestinationChat: 2, DestinationPlatform: "discord", Status: model.PairActive},
		{DestinationChat: 3, DestinationPlatform: "slack", Status: model.PairInactive},
	}
	require.Len(t, distinctDestinations(pairs), 2)
}
