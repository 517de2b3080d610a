package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunil55999/Zorox/pkg/bus"
	"github.com/sunil55999/Zorox/pkg/dispatcher"
	"github.com/sunil55999/Zorox/pkg/model"
	"github.com/sunil55999/Zorox/pkg/platform"
	"github.com/sunil55999/Zorox/pkg/store"
)

type fakeStore struct {
	mu       sync.Mutex
	pairs    map[int64][]model.Pair
	mappings map[string]*model.Mapping
	words    map[int64][]string
	stats    map[int64]map[store.StatField]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pairs:    make(map[int64][]model.Pair),
		mappings: make(map[string]*model.Mapping),
		words:    make(map[int64][]string),
		stats:    make(map[int64]map[store.StatField]int64),
	}
}

func mappingKey(pairID, sourceMsgID int64) string {
	return fmt.Sprintf("%d:%d", pairID, sourceMsgID)
}

func (f *fakeStore) PairsBySourceChat(sourceChat int64) []model.Pair {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Pair(nil), f.pairs[sourceChat]...)
}

func (f *fakeStore) BlockedWordsFor(ctx context.Context, pairID int64) ([]string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return nil, f.words[pairID], nil
}

func (f *fakeStore) GetMapping(ctx context.Context, pairID, sourceMsgID int64) (*model.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mappings[mappingKey(pairID, sourceMsgID)], nil
}

func (f *fakeStore) SaveMapping(ctx context.Context, m *model.Mapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.mappings[mappingKey(m.PairID, m.SourceMsgID)] = &cp
	return nil
}

func (f *fakeStore) DeleteMapping(ctx context.Context, pairID, sourceMsgID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.mappings, mappingKey(pairID, sourceMsgID))
	return nil
}

func (f *fakeStore) BumpStat(ctx context.Context, pairID int64, field store.StatField) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stats[pairID] == nil {
		f.stats[pairID] = make(map[store.StatField]int64)
	}
	f.stats[pairID][field]++
	return nil
}

func (f *fakeStore) statCount(pairID int64, field store.StatField) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats[pairID][field]
}

type fakeGuard struct {
	blockAll bool
}

func (g *fakeGuard) BlockCheck(ctx context.Context, pairID int64, data []byte) (*model.BlockedImage, bool, error) {
	if g.blockAll {
		return &model.BlockedImage{}, true, nil
	}
	return nil, false, nil
}

// fakeDispatcher runs the task's Executor synchronously against sender ID 1
// on the platform the pair named, standing in for the real dispatcher's
// worker pool so pipeline tests stay deterministic.
type fakeDispatcher struct {
	failNext bool
}

func (d *fakeDispatcher) Submit(task *dispatcher.DispatchTask) error {
	sender := &model.Sender{ID: 1, Platform: task.Platform}
	var err error
	if d.failNext {
		err = errFakeSend
	} else {
		_, err = task.Execute(context.Background(), sender)
	}
	outcome := dispatcher.OutcomeDone
	if err != nil {
		outcome = dispatcher.OutcomeFailed
	}
	if task.OnTerminal != nil {
		task.OnTerminal(outcome, err)
	}
	return nil
}

var errFakeSend = fakeSendError{}

type fakeSendError struct{}

func (fakeSendError) Error() string { return "fake send failure" }

type fakeSender struct {
	mu       sync.Mutex
	sentText []string
	nextID   int64
}

func (s *fakeSender) Platform() string { return "telegram" }

func (s *fakeSender) SendText(ctx context.Context, chatID int64, text string, entities []model.Entity, replyTo int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentText = append(s.sentText, text)
	s.nextID++
	return s.nextID, nil
}

func (s *fakeSender) SendMedia(ctx context.Context, chatID int64, tag model.MediaTag, data []byte, mimeType, caption string, entities []model.Entity, replyTo int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, nil
}

func (s *fakeSender) EditText(ctx context.Context, chatID, msgID int64, text string, entities []model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentText = append(s.sentText, "EDIT:"+text)
	return nil
}

func (s *fakeSender) DeleteMessage(ctx context.Context, chatID, msgID int64) error {
	return nil
}

func (s *fakeSender) RemoveUser(ctx context.Context, chatID int64, userID string) error {
	return nil
}

func newTestPair(id, sourceChat, destChat int64) model.Pair {
	return model.Pair{
		ID:              id,
		SourceChat:      sourceChat,
		DestinationChat: destChat,
		DestinationPlatform: "telegram",
		Status:          model.PairActive,
		SenderBinding:   model.SenderBinding{Pool: true},
		Filters:         model.FilterPolicy{SyncEdits: true, SyncDeletes: true},
	}
}

func TestHandleEventNewDeliversAndSavesMapping(t *testing.T) {
	st := newFakeStore()
	pair := newTestPair(1, 100, 200)
	st.pairs[100] = []model.Pair{pair}

	sender := &fakeSender{}
	p := New(st, &fakeGuard{}, &fakeDispatcher{}, map[string]platform.Sender{"telegram": sender}, 0)

	p.HandleEvent(context.Background(), bus.Event{
		Kind:   bus.EventNew,
		ChatID: 100,
		Message: &bus.SourceMessage{
			ID:     10,
			ChatID: 100,
			Text:   "hello world",
		},
	})

	require.Equal(t, []string{"hello world"}, sender.sentText)
	require.Equal(t, int64(1), st.statCount(1, store.StatSent))

	mapping, err := st.GetMapping(context.Background(), 1, 10)
	require.NoError(t, err)
	require.NotNil(t, mapping)
	require.Equal(t, int64(1), mapping.DestMsgID)
}

func TestHandleEventNewDropsOnBlockedWord(t *testing.T) {
	st := newFakeStore()
	pair := newTestPair(1, 100, 200)
	st.pairs[100] = []model.Pair{pair}
	st.words[1] = []string{"forbidden"}

	sender := &fakeSender{}
	p := New(st, &fakeGuard{}, &fakeDispatcher{}, map[string]platform.Sender{"telegram": sender}, 0)

	p.HandleEvent(context.Background(), bus.Event{
		Kind:   bus.EventNew,
		ChatID: 100,
		Message: &bus.SourceMessage{
			ID:     11,
			ChatID: 100,
			Text:   "this is forbidden content",
		},
	})

	require.Empty(t, sender.sentText)
	require.Equal(t, int64(1), st.statCount(1, store.StatWordsBlocked))
}

func TestHandleEventEditUpdatesExistingMapping(t *testing.T) {
	st := newFakeStore()
	pair := newTestPair(1, 100, 200)
	st.pairs[100] = []model.Pair{pair}
	st.mappings[mappingKey(1, 10)] = &model.Mapping{PairID: 1, SourceMsgID: 10, DestMsgID: 5, SenderID: 1}

	sender := &fakeSender{}
	p := New(st, &fakeGuard{}, &fakeDispatcher{}, map[string]platform.Sender{"telegram": sender}, 0)

	p.HandleEvent(context.Background(), bus.Event{
		Kind:   bus.EventEdit,
		ChatID: 100,
		Message: &bus.SourceMessage{
			ID:     10,
			ChatID: 100,
			Text:   "updated text",
		},
	})

	require.Equal(t, []string{"EDIT:updated text"}, sender.sentText)
	require.Equal(t, int64(1), st.statCount(1, store.StatEdited))
}

func TestHandleEventEditWithoutMappingIsNoop(t *testing.T) {
	st := newFakeStore()
	pair := newTestPair(1, 100, 200)
	st.pairs[100] = []model.Pair{pair}

	sender := &fakeSender{}
	p := New(st, &fakeGuard{}, &fakeDispatcher{}, map[string]platform.Sender{"telegram": sender}, 0)

	p.HandleEvent(context.Background(), bus.Event{
		Kind:   bus.EventEdit,
		ChatID: 100,
		Message: &bus.SourceMessage{
			ID:   999,
			Text: "no mapping for this one",
		},
	})

	require.Empty(t, sender.sentText)
}

func TestHandleEventDeleteRemovesMapping(t *testing.T) {
	st := newFakeStore()
	pair := newTestPair(1, 100, 200)
	st.pairs[100] = []model.Pair{pair}
	st.mappings[mappingKey(1, 10)] = &model.Mapping{PairID: 1, SourceMsgID: 10, DestMsgID: 5, SenderID: 1}

	sender := &fakeSender{}
	p := New(st, &fakeGuard{}, &fakeDispatcher{}, map[string]platform.Sender{"telegram": sender}, 0)

	p.HandleEvent(context.Background(), bus.Event{
		Kind:      bus.EventDelete,
		ChatID:    100,
		DeleteIDs: []int64{10},
	})

	mapping, err := st.GetMapping(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Nil(t, mapping)
	require.Equal(t, int64(1), st.statCount(1, store.StatDeleted))
}

func TestHandleEventNewBlockedImageIsNotSent(t *testing.T) {
	st := newFakeStore()
	pair := newTestPair(1, 100, 200)
	st.pairs[100] = []model.Pair{pair}

	sender := &fakeSender{}
	p := New(st, &fakeGuard{blockAll: true}, &fakeDispatcher{}, map[string]platform.Sender{"telegram": sender}, 0)

	p.HandleEvent(context.Background(), bus.Event{
		Kind:   bus.EventNew,
		ChatID: 100,
		Message: &bus.SourceMessage{
			ID:     12,
			ChatID: 100,
			Text:   "a photo",
			Media: &bus.MediaRef{
				Tag:      model.MediaPhoto,
				MIMEType: "image/png",
				Fetch:    func(ctx context.Context) ([]byte, error) { return []byte("fake-bytes"), nil },
			},
		},
	})

	require.Empty(t, sender.sentText)
	require.Equal(t, int64(1), st.statCount(1, store.StatImagesBlocked))
}

func TestHandleEventNewOversizedMediaFallsBackToTextOnly(t *testing.T) {
	st := newFakeStore()
	pair := newTestPair(1, 100, 200)
	st.pairs[100] = []model.Pair{pair}

	sender := &fakeSender{}
	p := New(st, &fakeGuard{}, &fakeDispatcher{}, map[string]platform.Sender{"telegram": sender}, 4)

	p.HandleEvent(context.Background(), bus.Event{
		Kind:   bus.EventNew,
		ChatID: 100,
		Message: &bus.SourceMessage{
			ID:     13,
			ChatID: 100,
			Text:   "a big photo",
			Media: &bus.MediaRef{
				Tag:      model.MediaPhoto,
				MIMEType: "image/png",
				Fetch:    func(ctx context.Context) ([]byte, error) { return []byte("way too big"), nil },
			},
		},
	})

	require.Equal(t, []string{"a big photo"}, sender.sentText)
}
