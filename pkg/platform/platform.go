// Package platform defines the transport-facing interfaces the rest of
// Zorox programs against (spec §6) and a shared listener scaffolding the
// concrete telegram/discord/slack adapters embed.
package platform

import (
	"context"

	"github.com/sunil55999/Zorox/pkg/bus"
	"github.com/sunil55999/Zorox/pkg/model"
)

// SourceListener watches one platform for inbound NEW/EDIT/DELETE events
// and publishes them onto a MessageBus. Exactly one goroutine per listener
// ever calls PublishInbound (spec §5: single producer).
type SourceListener interface {
	Platform() string
	Start(ctx context.Context, out *bus.MessageBus) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// Sender is the outbound half: everything the dispatcher needs to deliver
// a DispatchTask to a destination chat on one platform.
type Sender interface {
	Platform() string
	SendText(ctx context.Context, chatID int64, text string, entities []model.Entity, replyTo int64) (destMsgID int64, err error)
	SendMedia(ctx context.Context, chatID int64, tag model.MediaTag, data []byte, mimeType, caption string, entities []model.Entity, replyTo int64) (destMsgID int64, err error)
	EditText(ctx context.Context, chatID, msgID int64, text string, entities []model.Entity) error
	DeleteMessage(ctx context.Context, chatID, msgID int64) error

	// RemoveUser removes userID from chatID, for the subscription-expiry
	// sweeper (spec §4.7: "issue remove-from-chat requests ... for every
	// distinct destination chat").
	RemoveUser(ctx context.Context, chatID int64, userID string) error
}
