// Package bus carries inbound source events (NEW/EDIT/DELETE, spec §6)
// from a SourceListener to the Pipeline through a single bounded channel.
// The listener is a single producer and must never block for more than
// a short grace period (spec §5); PublishInbound enforces that.
package bus

import (
	"context"
	"time"

	"github.com/sunil55999/Zorox/pkg/model"
)

// publishGrace is the longest the listener will block trying to enqueue
// an event before giving up and reporting QueueOverflow (spec §5: "never
// blocks on the dispatch queue for longer than 50 ms").
const publishGrace = 50 * time.Millisecond

type EventKind string

const (
	EventNew    EventKind = "new"
	EventEdit   EventKind = "edit"
	EventDelete EventKind = "delete"
)

// MediaRef describes an inbound media payload. Fetch is lazy: bytes are
// only downloaded once a pair's filters decide the message survives,
// matching the ordering fixed in spec §4.6 (filter first, then media
// work, then reply resolution).
type MediaRef struct {
	Tag      model.MediaTag
	MIMEType string
	Fetch    func(ctx context.Context) ([]byte, error)
}

// SourceMessage is the normalized shape of msg in spec §6's inbound
// interface: "id, chat_id, author_id?, text, entities[], media{...},
// reply_to_id?, timestamp".
type SourceMessage struct {
	ID        int64
	ChatID    int64
	AuthorID  string
	Text      string
	Entities  []model.Entity
	Media     *MediaRef
	ReplyToID int64
	Timestamp time.Time
}

// Event is a single NEW, EDIT, or DELETE occurrence from a SourceListener.
type Event struct {
	Kind      EventKind
	ChatID    int64
	Message   *SourceMessage // set for EventNew and EventEdit
	DeleteIDs []int64        // set for EventDelete
}

// ErrOverflow is returned by PublishInbound when the bus could not accept
// an event within publishGrace; the caller must count it and move on.
type ErrOverflow struct{}

func (ErrOverflow) Error() string { return "bus: queue overflow" }

// MessageBus is a single bounded channel between a SourceListener and the
// Pipeline's consumer loop.
type MessageBus struct {
	events chan Event
}

func NewMessageBus(capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MessageBus{events: make(chan Event, capacity)}
}

// PublishInbound enqueues ev, giving up after publishGrace or ctx
// cancellation. A failure here is non-fatal to the listener: it counts
// as QueueOverflow and the listener keeps reading the platform stream.
func (b *MessageBus) PublishInbound(ctx context.Context, ev Event) error {
	timer := time.NewTimer(publishGrace)
	defer timer.Stop()

	select {
	case b.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrOverflow{}
	}
}

// Subscribe blocks until an event is available or ctx is done. The second
// return value is false once the bus has been closed and drained.
func (b *MessageBus) Subscribe(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-b.events:
		return ev, ok
	case <-ctx.Done():
		return Event{}, false
	}
}

// Close stops accepting new events. Safe to call once.
func (b *MessageBus) Close() { close(b.events) }
