package platform

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/mymmrac/telego"

	"github.com/sunil55999/Zorox/pkg/bus"
	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/identity"
	"github.com/sunil55999/Zorox/pkg/logger"
	"github.com/sunil55999/Zorox/pkg/model"
)

// Telegram is the primary SourceListener + Sender implementation (spec
// §6), built on github.com/mymmrac/telego — the teacher's own Telegram
// dependency, reused here for its bot-API client and long-poll update
// stream rather than the teacher's multi-platform agent loop.
type Telegram struct {
	*BaseListener
	bot *telego.Bot

	cancel context.CancelFunc
}

func NewTelegram(token string, allowList []string) (*Telegram, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("new telegram bot: %w", err)
	}
	return &Telegram{BaseListener: NewBaseListener("telegram", allowList), bot: bot}, nil
}

func (t *Telegram) Start(ctx context.Context, out *bus.MessageBus) error {
	t.Bind(out)
	listenCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	updates, err := t.bot.UpdatesViaLongPolling(listenCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}
	t.SetRunning(true)
	logger.InfoC("platform.telegram", "Long polling started")

	go func() {
		defer t.SetRunning(false)
		for update := range updates {
			t.handleUpdate(listenCtx, update)
		}
		logger.InfoC("platform.telegram", "Update channel closed")
	}()
	return nil
}

func (t *Telegram) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	t.bot.StopLongPolling()
	logger.InfoC("platform.telegram", "Long polling stopped")
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update telego.Update) {
	switch {
	case update.Message != nil:
		t.handleMessage(ctx, update.Message, bus.EventNew)
	case update.EditedMessage != nil:
		t.handleMessage(ctx, update.EditedMessage, bus.EventEdit)
	}
}

func (t *Telegram) handleMessage(ctx context.Context, msg *telego.Message, kind bus.EventKind) {
	sender := identity.Sender{}
	if msg.From != nil {
		sender.PlatformID = fmt.Sprintf("%d", msg.From.ID)
		sender.Handle = msg.From.Username
	}
	if !t.IsAllowed(sender) {
		return
	}

	var replyTo int64
	if msg.ReplyToMessage != nil {
		replyTo = int64(msg.ReplyToMessage.MessageID)
	}

	event := bus.Event{
		Kind:   kind,
		ChatID: msg.Chat.ID,
		Message: &bus.SourceMessage{
			ID:        int64(msg.MessageID),
			ChatID:    msg.Chat.ID,
			AuthorID:  sender.PlatformID,
			Text:      messageText(msg),
			Entities:  convertEntities(msg),
			Media:     t.mediaRef(msg),
			ReplyToID: replyTo,
			Timestamp: time.Unix(int64(msg.Date), 0),
		},
	}
	t.PublishEvent(ctx, event)
}

func messageText(msg *telego.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func convertEntities(msg *telego.Message) []model.Entity {
	src := msg.Entities
	if len(src) == 0 {
		src = msg.CaptionEntities
	}
	out := make([]model.Entity, 0, len(src))
	for _, e := range src {
		out = append(out, model.Entity{
			Start: e.Offset,
			End:   e.Offset + e.Length,
			Kind:  string(e.Type),
		})
	}
	return out
}

func (t *Telegram) mediaRef(msg *telego.Message) *bus.MediaRef {
	var fileID string
	tag := model.MediaUnknown

	switch {
	case len(msg.Photo) > 0:
		fileID = msg.Photo[len(msg.Photo)-1].FileID
		tag = model.MediaPhoto
	case msg.Document != nil:
		fileID = msg.Document.FileID
		tag = model.MediaDocument
	case msg.Video != nil:
		fileID = msg.Video.FileID
		tag = model.MediaVideo
	case msg.Voice != nil:
		fileID = msg.Voice.FileID
		tag = model.MediaVoice
	case msg.Sticker != nil:
		fileID = msg.Sticker.FileID
		tag = model.MediaSticker
	default:
		return nil
	}

	bot := t.bot
	return &bus.MediaRef{
		Tag: tag,
		Fetch: func(ctx context.Context) ([]byte, error) {
			file, err := bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
			if err != nil {
				return nil, errs.Transient(fmt.Errorf("get file: %w", err))
			}
			return bot.DownloadFile(file.FilePath)
		},
	}
}

func (t *Telegram) Platform() string { return "telegram" }

func (t *Telegram) SendText(ctx context.Context, chatID int64, text string, entities []model.Entity, replyTo int64) (int64, error) {
	params := &telego.SendMessageParams{
		ChatID:   telego.ChatID{ID: chatID},
		Text:     text,
		Entities: toTelegoEntities(entities),
	}
	if replyTo != 0 {
		params.ReplyParameters = &telego.ReplyParameters{MessageID: int(replyTo)}
	}
	msg, err := t.bot.SendMessage(ctx, params)
	if err != nil {
		return 0, classifyTelegramError(err)
	}
	return int64(msg.MessageID), nil
}

func (t *Telegram) SendMedia(ctx context.Context, chatID int64, tag model.MediaTag, data []byte, mimeType, caption string, entities []model.Entity, replyTo int64) (int64, error) {
	reader := telego.NameReader{Reader: bytes.NewReader(data), Name: "upload"}
	var reply *telego.ReplyParameters
	if replyTo != 0 {
		reply = &telego.ReplyParameters{MessageID: int(replyTo)}
	}

	switch tag {
	case model.MediaVideo:
		msg, err := t.bot.SendVideo(ctx, &telego.SendVideoParams{
			ChatID: telego.ChatID{ID: chatID}, Video: telego.InputFile{File: reader},
			Caption: caption, CaptionEntities: toTelegoEntities(entities), ReplyParameters: reply,
		})
		if err != nil {
			return 0, classifyTelegramError(err)
		}
		return int64(msg.MessageID), nil
	case model.MediaDocument:
		msg, err := t.bot.SendDocument(ctx, &telego.SendDocumentParams{
			ChatID: telego.ChatID{ID: chatID}, Document: telego.InputFile{File: reader},
			Caption: caption, CaptionEntities: toTelegoEntities(entities), ReplyParameters: reply,
		})
		if err != nil {
			return 0, classifyTelegramError(err)
		}
		return int64(msg.MessageID), nil
	default:
		msg, err := t.bot.SendPhoto(ctx, &telego.SendPhotoParams{
			ChatID: telego.ChatID{ID: chatID}, Photo: telego.InputFile{File: reader},
			Caption: caption, CaptionEntities: toTelegoEntities(entities), ReplyParameters: reply,
		})
		if err != nil {
			return 0, classifyTelegramError(err)
		}
		return int64(msg.MessageID), nil
	}
}

func (t *Telegram) EditText(ctx context.Context, chatID, msgID int64, text string, entities []model.Entity) error {
	_, err := t.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    telego.ChatID{ID: chatID},
		MessageID: int(msgID),
		Text:      text,
		Entities:  toTelegoEntities(entities),
	})
	if err != nil {
		return classifyTelegramError(err)
	}
	return nil
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID, msgID int64) error {
	err := t.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: telego.ChatID{ID: chatID}, MessageID: int(msgID)})
	if err != nil {
		return classifyTelegramError(err)
	}
	return nil
}

// RemoveUser bans then immediately unbans userID in chatID, Telegram's
// standard "kick without a permanent ban" idiom — a plain unban alone
// would not remove a present member.
func (t *Telegram) RemoveUser(ctx context.Context, chatID int64, userID string) error {
	uid, err := parseTelegramUserID(userID)
	if err != nil {
		return errs.Permanent(err)
	}
	if err := t.bot.BanChatMember(ctx, &telego.BanChatMemberParams{ChatID: telego.ChatID{ID: chatID}, UserID: uid}); err != nil {
		return classifyTelegramError(err)
	}
	if err := t.bot.UnbanChatMember(ctx, &telego.UnbanChatMemberParams{ChatID: telego.ChatID{ID: chatID}, UserID: uid}); err != nil {
		return classifyTelegramError(err)
	}
	return nil
}

func parseTelegramUserID(userID string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(userID, "%d", &id)
	if err != nil {
		return 0, fmt.Errorf("parse telegram user id %q: %w", userID, err)
	}
	return id, nil
}

func toTelegoEntities(entities []model.Entity) []telego.MessageEntity {
	if len(entities) == 0 {
		return nil
	}
	out := make([]telego.MessageEntity, 0, len(entities))
	for _, e := range entities {
		out = append(out, telego.MessageEntity{
			Type:   e.Kind,
			Offset: e.Start,
			Length: e.End - e.Start,
		})
	}
	return out
}

// classifyTelegramError maps a telego API error onto Zorox's retry
// taxonomy. telego surfaces Telegram's numeric error codes and
// "retry after" hints through *telego.Error; 429 and 5xx are transient,
// everything else (bad token, chat not found, bot kicked) is permanent.
func classifyTelegramError(err error) error {
	var tgErr *telego.Error
	if asTelegoError(err, &tgErr) {
		switch {
		case tgErr.ErrorCode == 429:
			return errs.RateLimited(time.Duration(tgErr.RetryAfter())*time.Second, err)
		case tgErr.ErrorCode >= 500:
			return errs.Transient(err)
		default:
			return errs.Permanent(err)
		}
	}
	return errs.Transient(err)
}

func asTelegoError(err error, target **telego.Error) bool {
	te, ok := err.(*telego.Error)
	if !ok {
		return false
	}
	*target = te
	return true
}
