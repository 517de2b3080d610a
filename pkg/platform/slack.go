package platform

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/sunil55999/Zorox/pkg/bus"
	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/identity"
	"github.com/sunil55999/Zorox/pkg/logger"
	"github.com/sunil55999/Zorox/pkg/model"
)

// Slack is a secondary SourceListener + Sender, built on
// github.com/slack-go/slack's Socket Mode client rather than classic HTTP
// event subscriptions — no public callback URL required, matching the
// other adapters' self-contained long-lived-connection shape.
type Slack struct {
	*BaseListener
	api    *slack.Client
	socket *socketmode.Client
	cancel context.CancelFunc
}

func NewSlack(botToken, appToken string, allowList []string) (*Slack, error) {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	socket := socketmode.New(api)
	return &Slack{BaseListener: NewBaseListener("slack", allowList), api: api, socket: socket}, nil
}

func (s *Slack) Start(ctx context.Context, out *bus.MessageBus) error {
	s.Bind(out)
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		for evt := range s.socket.Events {
			s.handleSocketEvent(runCtx, evt)
		}
	}()

	go func() {
		s.SetRunning(true)
		defer s.SetRunning(false)
		if err := s.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			logger.ErrorC("platform.slack", "Socket mode run exited: "+err.Error())
		}
	}()
	return nil
}

func (s *Slack) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.SetRunning(false)
	return nil
}

func (s *Slack) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	s.socket.Ack(*evt.Request)

	switch inner := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		s.handleMessageEvent(ctx, inner)
	}
}

func (s *Slack) handleMessageEvent(ctx context.Context, msg *slackevents.MessageEvent) {
	if msg.BotID != "" || msg.SubType == "message_deleted" {
		return
	}
	sender := identity.Sender{PlatformID: msg.User}
	if !s.IsAllowed(sender) {
		return
	}

	kind := bus.EventNew
	if msg.SubType == "message_changed" {
		kind = bus.EventEdit
	}

	var replyTo int64
	if msg.ThreadTimeStamp != "" && msg.ThreadTimeStamp != msg.TimeStamp {
		replyTo = timestampToID(msg.ThreadTimeStamp)
	}

	event := bus.Event{
		Kind:   kind,
		ChatID: channelID(msg.Channel),
		Message: &bus.SourceMessage{
			ID:        timestampToID(msg.TimeStamp),
			ChatID:    channelID(msg.Channel),
			AuthorID:  sender.PlatformID,
			Text:      msg.Text,
			Media:     s.mediaRef(msg),
			ReplyToID: replyTo,
			Timestamp: time.Now(),
		},
	}
	s.PublishEvent(ctx, event)
}

func (s *Slack) mediaRef(msg *slackevents.MessageEvent) *bus.MediaRef {
	if len(msg.Files) == 0 {
		return nil
	}
	file := msg.Files[0]
	api := s.api
	return &bus.MediaRef{
		Tag: slackFileTag(file.Mimetype),
		Fetch: func(ctx context.Context) ([]byte, error) {
			var buf bytes.Buffer
			if err := api.GetFileContext(ctx, file.URLPrivateDownload, &buf); err != nil {
				return nil, errs.Transient(fmt.Errorf("download slack file: %w", err))
			}
			return buf.Bytes(), nil
		},
	}
}

func slackFileTag(mimetype string) model.MediaTag {
	switch {
	case strings.HasPrefix(mimetype, "image"):
		return model.MediaPhoto
	case strings.HasPrefix(mimetype, "video"):
		return model.MediaVideo
	case strings.HasPrefix(mimetype, "audio"):
		return model.MediaAudio
	default:
		return model.MediaDocument
	}
}

func (s *Slack) Platform() string { return "slack" }

func (s *Slack) SendText(ctx context.Context, chatID int64, text string, entities []model.Entity, replyTo int64) (int64, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if replyTo != 0 {
		opts = append(opts, slack.MsgOptionTS(idToTimestamp(replyTo)))
	}
	_, ts, err := s.api.PostMessageContext(ctx, strconv.FormatInt(chatID, 10), opts...)
	if err != nil {
		return 0, classifySlackError(err)
	}
	return timestampToID(ts), nil
}

func (s *Slack) SendMedia(ctx context.Context, chatID int64, tag model.MediaTag, data []byte, mimeType, caption string, entities []model.Entity, replyTo int64) (int64, error) {
	params := slack.UploadFileV2Parameters{
		Channel:  strconv.FormatInt(chatID, 10),
		Filename: "upload",
		FileSize: len(data),
		Reader:   bytes.NewReader(data),
		InitialComment: caption,
	}
	if replyTo != 0 {
		params.ThreadTimestamp = idToTimestamp(replyTo)
	}
	summary, err := s.api.UploadFileV2Context(ctx, params)
	if err != nil {
		return 0, classifySlackError(err)
	}
	return timestampToID(summary.Timestamp()), nil
}

func (s *Slack) EditText(ctx context.Context, chatID, msgID int64, text string, entities []model.Entity) error {
	_, _, _, err := s.api.UpdateMessageContext(ctx, strconv.FormatInt(chatID, 10), idToTimestamp(msgID), slack.MsgOptionText(text, false))
	if err != nil {
		return classifySlackError(err)
	}
	return nil
}

func (s *Slack) DeleteMessage(ctx context.Context, chatID, msgID int64) error {
	_, _, err := s.api.DeleteMessageContext(ctx, strconv.FormatInt(chatID, 10), idToTimestamp(msgID))
	if err != nil {
		return classifySlackError(err)
	}
	return nil
}

// RemoveUser kicks userID from the conversation identified by chatID.
func (s *Slack) RemoveUser(ctx context.Context, chatID int64, userID string) error {
	err := s.api.KickUserFromConversationContext(ctx, strconv.FormatInt(chatID, 10), userID)
	if err != nil {
		return classifySlackError(err)
	}
	return nil
}

// classifySlackError maps slack-go's *slack.RateLimitedError onto
// RateLimited with its RetryAfter; every other error, network failures
// included, is classified Permanent.
func classifySlackError(err error) error {
	var rateLimited *slack.RateLimitedError
	if ok := asRateLimitedError(err, &rateLimited); ok {
		return errs.RateLimited(rateLimited.RetryAfter, err)
	}
	return errs.Permanent(err)
}

func asRateLimitedError(err error, target **slack.RateLimitedError) bool {
	rl, ok := err.(*slack.RateLimitedError)
	if !ok {
		return false
	}
	*target = rl
	return true
}

// Slack timestamps ("1234567890.123456") double as message IDs; Zorox's
// model wants an int64, so we fold the fractional micros into the low
// digits rather than truncating them away.
func timestampToID(ts string) int64 {
	cleaned := strings.Replace(ts, ".", "", 1)
	v, _ := strconv.ParseInt(cleaned, 10, 64)
	return v
}

func idToTimestamp(id int64) string {
	s := strconv.FormatInt(id, 10)
	if len(s) <= 6 {
		return "0." + s
	}
	return s[:len(s)-6] + "." + s[len(s)-6:]
}

func channelID(channel string) int64 {
	var h int64
	for _, r := range channel {
		h = h*31 + int64(r)
	}
	return h
}
