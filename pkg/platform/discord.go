package platform

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sunil55999/Zorox/pkg/bus"
	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/identity"
	"github.com/sunil55999/Zorox/pkg/logger"
	"github.com/sunil55999/Zorox/pkg/model"
)

// Discord is a secondary SourceListener + Sender, built on
// github.com/bwmarrin/discordgo's gateway session and REST client.
type Discord struct {
	*BaseListener
	session *discordgo.Session
	removeHandler func()
}

func NewDiscord(token string, allowList []string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("new discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	session.SyncEvents = true // handlers run on the gateway goroutine, so one goroutine publishes
	return &Discord{BaseListener: NewBaseListener("discord", allowList), session: session}, nil
}

func (d *Discord) Start(ctx context.Context, out *bus.MessageBus) error {
	d.Bind(out)

	unregisterCreate := d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		d.handleMessage(ctx, m.Message, bus.EventNew)
	})
	unregisterUpdate := d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageUpdate) {
		d.handleMessage(ctx, m.Message, bus.EventEdit)
	})
	unregisterDelete := d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageDelete) {
		d.PublishEvent(ctx, bus.Event{
			Kind:      bus.EventDelete,
			ChatID:    mustInt64(m.ChannelID),
			DeleteIDs: []int64{mustInt64(m.ID)},
		})
	})
	d.removeHandler = func() {
		unregisterCreate()
		unregisterUpdate()
		unregisterDelete()
	}

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	d.SetRunning(true)
	logger.InfoC("platform.discord", "Gateway session opened")
	return nil
}

func (d *Discord) Stop(ctx context.Context) error {
	if d.removeHandler != nil {
		d.removeHandler()
	}
	d.SetRunning(false)
	return d.session.Close()
}

func (d *Discord) handleMessage(ctx context.Context, msg *discordgo.Message, kind bus.EventKind) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	sender := identity.Sender{PlatformID: msg.Author.ID, Handle: msg.Author.Username}
	if !d.IsAllowed(sender) {
		return
	}

	var replyTo int64
	if msg.MessageReference != nil {
		replyTo = mustInt64(msg.MessageReference.MessageID)
	}

	event := bus.Event{
		Kind:   kind,
		ChatID: mustInt64(msg.ChannelID),
		Message: &bus.SourceMessage{
			ID:        mustInt64(msg.ID),
			ChatID:    mustInt64(msg.ChannelID),
			AuthorID:  sender.PlatformID,
			Text:      msg.Content,
			Media:     d.mediaRef(msg),
			ReplyToID: replyTo,
			Timestamp: msg.Timestamp,
		},
	}
	d.PublishEvent(ctx, event)
}

func (d *Discord) mediaRef(msg *discordgo.Message) *bus.MediaRef {
	if len(msg.Attachments) == 0 {
		return nil
	}
	att := msg.Attachments[0]
	session := d.session
	return &bus.MediaRef{
		Tag: attachmentTag(att.ContentType),
		Fetch: func(ctx context.Context) ([]byte, error) {
			resp, err := session.Client.Get(att.URL)
			if err != nil {
				return nil, errs.Transient(fmt.Errorf("fetch attachment: %w", err))
			}
			defer resp.Body.Close()
			buf := new(bytes.Buffer)
			if _, err := buf.ReadFrom(resp.Body); err != nil {
				return nil, errs.Transient(fmt.Errorf("read attachment body: %w", err))
			}
			return buf.Bytes(), nil
		},
	}
}

func attachmentTag(contentType string) model.MediaTag {
	switch {
	case len(contentType) >= 5 && contentType[:5] == "image":
		return model.MediaPhoto
	case len(contentType) >= 5 && contentType[:5] == "video":
		return model.MediaVideo
	case len(contentType) >= 5 && contentType[:5] == "audio":
		return model.MediaAudio
	default:
		return model.MediaDocument
	}
}

func (d *Discord) Platform() string { return "discord" }

func (d *Discord) SendText(ctx context.Context, chatID int64, text string, entities []model.Entity, replyTo int64) (int64, error) {
	send := &discordgo.MessageSend{Content: text}
	if replyTo != 0 {
		send.Reference = &discordgo.MessageReference{MessageID: strconv.FormatInt(replyTo, 10), ChannelID: strconv.FormatInt(chatID, 10)}
	}
	msg, err := d.session.ChannelMessageSendComplex(strconv.FormatInt(chatID, 10), send, discordgo.WithContext(ctx))
	if err != nil {
		return 0, classifyDiscordError(err)
	}
	return mustInt64(msg.ID), nil
}

func (d *Discord) SendMedia(ctx context.Context, chatID int64, tag model.MediaTag, data []byte, mimeType, caption string, entities []model.Entity, replyTo int64) (int64, error) {
	send := &discordgo.MessageSend{
		Content: caption,
		Files:   []*discordgo.File{{Name: "upload", ContentType: mimeType, Reader: bytes.NewReader(data)}},
	}
	if replyTo != 0 {
		send.Reference = &discordgo.MessageReference{MessageID: strconv.FormatInt(replyTo, 10), ChannelID: strconv.FormatInt(chatID, 10)}
	}
	msg, err := d.session.ChannelMessageSendComplex(strconv.FormatInt(chatID, 10), send, discordgo.WithContext(ctx))
	if err != nil {
		return 0, classifyDiscordError(err)
	}
	return mustInt64(msg.ID), nil
}

func (d *Discord) EditText(ctx context.Context, chatID, msgID int64, text string, entities []model.Entity) error {
	edit := discordgo.NewMessageEdit(strconv.FormatInt(chatID, 10), strconv.FormatInt(msgID, 10)).SetContent(text)
	_, err := d.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	if err != nil {
		return classifyDiscordError(err)
	}
	return nil
}

func (d *Discord) DeleteMessage(ctx context.Context, chatID, msgID int64) error {
	err := d.session.ChannelMessageDelete(strconv.FormatInt(chatID, 10), strconv.FormatInt(msgID, 10), discordgo.WithContext(ctx))
	if err != nil {
		return classifyDiscordError(err)
	}
	return nil
}

// RemoveUser denies userID's view-channel permission on chatID. Discord
// has no per-channel "kick"; membership lives at the guild level, while
// Zorox's destination_chat is a channel, so a permission overwrite is
// the channel-scoped equivalent of removing access.
func (d *Discord) RemoveUser(ctx context.Context, chatID int64, userID string) error {
	err := d.session.ChannelPermissionSet(
		strconv.FormatInt(chatID, 10), userID, discordgo.PermissionOverwriteTypeMember,
		0, discordgo.PermissionViewChannel, discordgo.WithContext(ctx),
	)
	if err != nil {
		return classifyDiscordError(err)
	}
	return nil
}

// classifyDiscordError maps discordgo's *discordgo.RESTError onto Zorox's
// retry taxonomy: 429 carries a retry-after body, 5xx is transient, the
// rest (missing permissions, unknown channel) is permanent.
func classifyDiscordError(err error) error {
	restErr, ok := err.(*discordgo.RESTError)
	if !ok {
		return errs.Transient(err)
	}
	switch {
	case restErr.Response != nil && restErr.Response.StatusCode == 429:
		retryAfter := 2 * time.Second
		if restErr.RateLimit != nil {
			retryAfter = time.Duration(restErr.RateLimit.RetryAfter * float64(time.Second))
		}
		return errs.RateLimited(retryAfter, err)
	case restErr.Response != nil && restErr.Response.StatusCode >= 500:
		return errs.Transient(err)
	default:
		return errs.Permanent(err)
	}
}

func mustInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
