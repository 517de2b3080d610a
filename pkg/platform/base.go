package platform

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sunil55999/Zorox/pkg/bus"
	"github.com/sunil55999/Zorox/pkg/identity"
	"github.com/sunil55999/Zorox/pkg/logger"
)

// dedupeExpiry and dedupeCleanThreshold mirror the teacher's
// BaseChannel dedup cache (pkg/channels/base.go): keep recently-seen
// platform message IDs long enough to absorb a redelivery, then sweep.
const (
	dedupeExpiry         = 10 * time.Minute
	dedupeCleanThreshold = 500
)

// BaseListener is the shared scaffolding every platform's SourceListener
// embeds: an allow-list, inbound dedup cache, and bus handle. Adapted
// from the teacher's BaseChannel — same responsibilities (IsAllowed,
// shouldSkipDuplicate, running flag) generalized to Zorox's numeric
// chat/user IDs instead of the teacher's compound string sender IDs.
type BaseListener struct {
	name      string
	bus       *bus.MessageBus
	allowList []string
	running   atomic.Bool

	recentMsgIDs sync.Map // platform message ID -> time.Time
	dedupeCount  atomic.Int64
}

func NewBaseListener(name string, allowList []string) *BaseListener {
	return &BaseListener{name: name, allowList: allowList}
}

func (b *BaseListener) Platform() string { return b.name }

func (b *BaseListener) IsRunning() bool { return b.running.Load() }

func (b *BaseListener) SetRunning(v bool) { b.running.Store(v) }

func (b *BaseListener) Bind(bus *bus.MessageBus) { b.bus = bus }

// IsAllowed reports whether sender may have its messages relayed, per
// the allow-list (empty allow-list permits everyone, matching the
// teacher's permissive default).
func (b *BaseListener) IsAllowed(sender identity.Sender) bool {
	if len(b.allowList) == 0 {
		return true
	}
	for _, entry := range b.allowList {
		if identity.MatchAllowed(sender, entry) {
			return true
		}
	}
	return false
}

// PublishEvent deduplicates by platform message ID (skipping DELETE
// events, which have no single message ID to key on) and forwards to the
// bus, logging overflow rather than blocking the platform's own read
// loop (spec §5).
func (b *BaseListener) PublishEvent(ctx context.Context, ev bus.Event) {
	if ev.Kind != bus.EventDelete && ev.Message != nil {
		if b.shouldSkipDuplicate(ev.Message.ID) {
			return
		}
	}

	if err := b.bus.PublishInbound(ctx, ev); err != nil {
		logger.WarnCF(b.name, "Dropped inbound event: queue overflow", map[string]any{
			"chat_id": ev.ChatID,
			"kind":    ev.Kind,
			"error":   err.Error(),
		})
	}
}

func (b *BaseListener) shouldSkipDuplicate(msgID int64) bool {
	if _, loaded := b.recentMsgIDs.LoadOrStore(msgID, time.Now()); loaded {
		return true
	}
	if b.dedupeCount.Add(1) >= dedupeCleanThreshold {
		b.cleanExpired()
	}
	return false
}

func (b *BaseListener) cleanExpired() {
	cutoff := time.Now().Add(-dedupeExpiry)
	b.recentMsgIDs.Range(func(key, value any) bool {
		if ts, ok := value.(time.Time); ok && ts.Before(cutoff) {
			b.recentMsgIDs.Delete(key)
		}
		return true
	})
	b.dedupeCount.Store(0)
}
