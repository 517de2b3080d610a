// Package pipeline implements C6 (spec §4.6): per-event orchestration
// wiring FilterEngine, ImageGuard, SenderPool (through the Dispatcher),
// and Store together behind the fixed NEW/EDIT/DELETE step ordering.
// Grounded on the teacher's pkg/bus consumer loop shape — a single
// Subscribe loop dispatching to per-event-kind handlers — generalized
// from "relay to the LLM agent" to "relay to the dispatcher".
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sunil55999/Zorox/pkg/bus"
	"github.com/sunil55999/Zorox/pkg/dispatcher"
	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/filter"
	"github.com/sunil55999/Zorox/pkg/imageguard"
	"github.com/sunil55999/Zorox/pkg/logger"
	"github.com/sunil55999/Zorox/pkg/model"
	"github.com/sunil55999/Zorox/pkg/platform"
	"github.com/sunil55999/Zorox/pkg/store"
)

const component = "pipeline"

// Store is the narrow slice of *store.Store the pipeline needs, kept
// separate so tests can supply an in-memory fake instead of a real
// SQLite file (same technique as pkg/imageguard's blockedImageStore).
type Store interface {
	PairsBySourceChat(sourceChat int64) []model.Pair
	BlockedWordsFor(ctx context.Context, pairID int64) (global, pair []string, err error)
	GetMapping(ctx context.Context, pairID, sourceMsgID int64) (*model.Mapping, error)
	SaveMapping(ctx context.Context, m *model.Mapping) error
	DeleteMapping(ctx context.Context, pairID, sourceMsgID int64) error
	BumpStat(ctx context.Context, pairID int64, field store.StatField) error
}

// ImageGuard is the slice of *imageguard.Guard the pipeline needs.
type ImageGuard interface {
	BlockCheck(ctx context.Context, pairID int64, data []byte) (*model.BlockedImage, bool, error)
}

// Dispatcher is the slice of *dispatcher.Dispatcher the pipeline needs.
type Dispatcher interface {
	Submit(task *dispatcher.DispatchTask) error
}

// Pipeline wires one inbound bus.Event to zero or more DispatchTasks.
type Pipeline struct {
	store         Store
	guard         ImageGuard
	dispatch      Dispatcher
	senders       map[string]platform.Sender // keyed by platform name
	locks         *mappingLocks
	watermark     func(data []byte, text string) []byte
	maxMediaBytes int64
}

// New wires a Pipeline. maxMediaBytes caps how large a fetched media
// payload may be before it is dropped as text-only (0 means unlimited).
func New(st Store, guard ImageGuard, disp Dispatcher, senders map[string]platform.Sender, maxMediaBytes int64) *Pipeline {
	return &Pipeline{
		store:         st,
		guard:         guard,
		dispatch:      disp,
		senders:       senders,
		locks:         newMappingLocks(),
		watermark:     imageguard.Watermark,
		maxMediaBytes: maxMediaBytes,
	}
}

// Run consumes bus events until ctx is cancelled or b is closed (spec
// §6: the pipeline is the bus's single consumer).
func (p *Pipeline) Run(ctx context.Context, b *bus.MessageBus) {
	for {
		ev, ok := b.Subscribe(ctx)
		if !ok {
			return
		}
		p.HandleEvent(ctx, ev)
	}
}

func (p *Pipeline) HandleEvent(ctx context.Context, ev bus.Event) {
	switch ev.Kind {
	case bus.EventNew:
		p.handleNew(ctx, ev)
	case bus.EventEdit:
		p.handleEdit(ctx, ev)
	case bus.EventDelete:
		p.handleDelete(ctx, ev)
	}
}

func (p *Pipeline) handleNew(ctx context.Context, ev bus.Event) {
	if ev.Message == nil {
		return
	}
	for _, pair := range p.store.PairsBySourceChat(ev.ChatID) {
		if pair.Status != model.PairActive {
			continue
		}
		p.processNew(ctx, pair, ev.Message)
	}
}

// processNew implements spec §4.6's NEW(msg) steps 1-5 for a single pair;
// step 6 (save_mapping) runs in the task's OnTerminal callback once the
// dispatcher reports success.
func (p *Pipeline) processNew(ctx context.Context, pair model.Pair, msg *bus.SourceMessage) {
	global, pairWords, err := p.store.BlockedWordsFor(ctx, pair.ID)
	if err != nil {
		logger.ErrorCF(component, "Blocked-word lookup failed, skipping pair", map[string]any{"pair_id": pair.ID, "error": err.Error()})
		return
	}

	mediaTag := model.MediaText
	var mime string
	if msg.Media != nil {
		mediaTag = msg.Media.Tag
		mime = msg.Media.MIMEType
	}

	result := filter.Apply(filter.Input{
		Text:               msg.Text,
		Entities:           msg.Entities,
		MediaTag:           mediaTag,
		Policy:             pair.Filters,
		GlobalBlockedWords: global,
		PairBlockedWords:   pairWords,
	})
	if result.Dropped {
		p.bumpDropStat(ctx, pair.ID, result.Reason)
		return
	}

	var mediaData []byte
	if msg.Media != nil && isImageLike(mediaTag, mime) {
		data, err := msg.Media.Fetch(ctx)
		if err != nil {
			logger.WarnCF(component, "Media download failed, sending text only", map[string]any{"pair_id": pair.ID, "error": err.Error()})
		} else if p.maxMediaBytes > 0 && int64(len(data)) > p.maxMediaBytes {
			logger.WarnCF(component, "Media exceeds size limit, sending text only", map[string]any{"pair_id": pair.ID, "size_bytes": len(data), "limit_bytes": p.maxMediaBytes})
		} else {
			_, blocked, err := p.guard.BlockCheck(ctx, pair.ID, data)
			if err != nil {
				logger.WarnCF(component, "Image block check failed, sending unblocked", map[string]any{"pair_id": pair.ID, "error": err.Error()})
				mediaData = data
			} else if blocked {
				p.store.BumpStat(ctx, pair.ID, store.StatImagesBlocked)
				return
			} else {
				mediaData = data
			}
			if mediaData != nil && pair.Filters.WatermarkEnabled {
				mediaData = p.watermark(mediaData, pair.Filters.WatermarkText)
			}
		}
	}

	var replyToDest int64
	if pair.Filters.PreserveReplies && msg.ReplyToID != 0 {
		if m, err := p.store.GetMapping(ctx, pair.ID, msg.ReplyToID); err == nil && m != nil {
			replyToDest = m.DestMsgID
		}
	}

	p.submitNew(ctx, pair, msg, result, mediaTag, mime, mediaData, replyToDest)
}

func (p *Pipeline) submitNew(ctx context.Context, pair model.Pair, msg *bus.SourceMessage, result filter.Result, mediaTag model.MediaTag, mime string, mediaData []byte, replyToDest int64) {
	kind := model.MappingText
	switch {
	case mediaData != nil && result.Text != "":
		kind = model.MappingMixed
	case mediaData != nil:
		kind = model.MappingMedia
	}

	var chosenSenderID int64
	var destMsgID int64

	exec := func(ctx context.Context, sender *model.Sender) (time.Duration, error) {
		snd, ok := p.senders[sender.Platform]
		if !ok {
			return 0, errs.Permanent(fmt.Errorf("no sender client registered for platform %q", sender.Platform))
		}
		chosenSenderID = sender.ID
		start := time.Now()
		var id int64
		var err error
		if mediaData != nil {
			id, err = snd.SendMedia(ctx, pair.DestinationChat, mediaTag, mediaData, mime, result.Text, result.Entities, replyToDest)
		} else {
			id, err = snd.SendText(ctx, pair.DestinationChat, result.Text, result.Entities, replyToDest)
		}
		if err == nil {
			destMsgID = id
		}
		return time.Since(start), err
	}

	task := dispatcher.NewTask(pair.ID, model.PriorityNormal, boundSenderID(pair), exec)
	task.Platform = pair.DestinationPlatform
	task.OnTerminal = func(outcome dispatcher.Outcome, sendErr error) {
		switch outcome {
		case dispatcher.OutcomeDone:
			mapping := &model.Mapping{
				SourceMsgID:     msg.ID,
				DestMsgID:       destMsgID,
				PairID:          pair.ID,
				SenderID:        chosenSenderID,
				SourceChat:      msg.ChatID,
				DestChat:        pair.DestinationChat,
				Kind:            kind,
				HasMedia:        mediaData != nil,
				ReplyToSourceID: msg.ReplyToID,
				ReplyToDestID:   replyToDest,
			}
			if err := p.store.SaveMapping(ctx, mapping); err != nil {
				logger.ErrorCF(component, "Failed to save mapping after send", map[string]any{"pair_id": pair.ID, "source_msg_id": msg.ID, "error": err.Error()})
			}
			_ = p.store.BumpStat(ctx, pair.ID, store.StatSent)
		case dispatcher.OutcomeFailed:
			_ = p.store.BumpStat(ctx, pair.ID, store.StatSendErrors)
		}
	}

	if err := p.dispatch.Submit(task); err != nil {
		logger.WarnCF(component, "Dispatch submit rejected", map[string]any{"pair_id": pair.ID, "error": err.Error()})
	}
}

func (p *Pipeline) handleEdit(ctx context.Context, ev bus.Event) {
	if ev.Message == nil {
		return
	}
	for _, pair := range p.store.PairsBySourceChat(ev.ChatID) {
		if pair.Status != model.PairActive || !pair.Filters.SyncEdits {
			continue
		}
		p.processEdit(ctx, pair, ev.Message)
	}
}

// processEdit implements spec §4.6's EDIT(msg): a re-Drop leaves the
// existing destination copy untouched. The mapping-key lock is acquired
// here and released from the dispatch task's terminal callback, holding
// it for the full edit dispatch (spec §5).
func (p *Pipeline) processEdit(ctx context.Context, pair model.Pair, msg *bus.SourceMessage) {
	p.locks.Lock(pair.ID, msg.ID)

	mapping, err := p.store.GetMapping(ctx, pair.ID, msg.ID)
	if err != nil || mapping == nil {
		p.locks.Unlock(pair.ID, msg.ID)
		return
	}

	global, pairWords, err := p.store.BlockedWordsFor(ctx, pair.ID)
	if err != nil {
		p.locks.Unlock(pair.ID, msg.ID)
		logger.ErrorCF(component, "Blocked-word lookup failed during edit", map[string]any{"pair_id": pair.ID, "error": err.Error()})
		return
	}

	mediaTag := model.MediaText
	if msg.Media != nil {
		mediaTag = msg.Media.Tag
	}
	result := filter.Apply(filter.Input{
		Text:               msg.Text,
		Entities:           msg.Entities,
		MediaTag:           mediaTag,
		Policy:             pair.Filters,
		GlobalBlockedWords: global,
		PairBlockedWords:   pairWords,
	})
	if result.Dropped {
		p.locks.Unlock(pair.ID, msg.ID)
		return
	}

	exec := func(ctx context.Context, sender *model.Sender) (time.Duration, error) {
		snd, ok := p.senders[sender.Platform]
		if !ok {
			return 0, errs.Permanent(fmt.Errorf("no sender client registered for platform %q", sender.Platform))
		}
		start := time.Now()
		err := snd.EditText(ctx, pair.DestinationChat, mapping.DestMsgID, result.Text, result.Entities)
		return time.Since(start), err
	}

	task := dispatcher.NewTask(pair.ID, model.PriorityHigh, mapping.SenderID, exec)
	task.Platform = pair.DestinationPlatform
	task.OnTerminal = func(outcome dispatcher.Outcome, sendErr error) {
		defer p.locks.Unlock(pair.ID, msg.ID)
		if outcome == dispatcher.OutcomeDone {
			_ = p.store.BumpStat(ctx, pair.ID, store.StatEdited)
		}
	}

	if err := p.dispatch.Submit(task); err != nil {
		p.locks.Unlock(pair.ID, msg.ID)
		logger.WarnCF(component, "Edit dispatch rejected", map[string]any{"pair_id": pair.ID, "error": err.Error()})
	}
}

func (p *Pipeline) handleDelete(ctx context.Context, ev bus.Event) {
	pairs := p.store.PairsBySourceChat(ev.ChatID)
	for _, sourceMsgID := range ev.DeleteIDs {
		for _, pair := range pairs {
			if pair.Status != model.PairActive || !pair.Filters.SyncDeletes {
				continue
			}
			p.processDelete(ctx, pair, sourceMsgID)
		}
	}
}

// processDelete implements spec §4.6's DELETE(source_msg_ids): issue a
// delete task, then remove the mapping. The mapping-key lock guards
// against a concurrent edit of the same source message (spec §5).
func (p *Pipeline) processDelete(ctx context.Context, pair model.Pair, sourceMsgID int64) {
	p.locks.Lock(pair.ID, sourceMsgID)

	mapping, err := p.store.GetMapping(ctx, pair.ID, sourceMsgID)
	if err != nil || mapping == nil {
		p.locks.Unlock(pair.ID, sourceMsgID)
		return
	}

	exec := func(ctx context.Context, sender *model.Sender) (time.Duration, error) {
		snd, ok := p.senders[sender.Platform]
		if !ok {
			return 0, errs.Permanent(fmt.Errorf("no sender client registered for platform %q", sender.Platform))
		}
		start := time.Now()
		err := snd.DeleteMessage(ctx, pair.DestinationChat, mapping.DestMsgID)
		return time.Since(start), err
	}

	task := dispatcher.NewTask(pair.ID, model.PriorityUrgent, mapping.SenderID, exec)
	task.Platform = pair.DestinationPlatform
	task.OnTerminal = func(outcome dispatcher.Outcome, sendErr error) {
		defer p.locks.Unlock(pair.ID, sourceMsgID)
		if outcome == dispatcher.OutcomeDone {
			if err := p.store.DeleteMapping(ctx, pair.ID, sourceMsgID); err != nil {
				logger.ErrorCF(component, "Failed to delete mapping after destination delete", map[string]any{"pair_id": pair.ID, "error": err.Error()})
			}
			_ = p.store.BumpStat(ctx, pair.ID, store.StatDeleted)
		}
	}

	if err := p.dispatch.Submit(task); err != nil {
		p.locks.Unlock(pair.ID, sourceMsgID)
		logger.WarnCF(component, "Delete dispatch rejected", map[string]any{"pair_id": pair.ID, "error": err.Error()})
	}
}

func (p *Pipeline) bumpDropStat(ctx context.Context, pairID int64, reason errs.FilterDropReason) {
	var field store.StatField
	switch reason {
	case errs.DropGlobalWord, errs.DropPairWord:
		field = store.StatWordsBlocked
	case errs.DropMediaType:
		field = store.StatDroppedMedia
	case errs.DropLength:
		field = store.StatDroppedLength
	case errs.DropImage:
		field = store.StatImagesBlocked
	default:
		return
	}
	_ = p.store.BumpStat(ctx, pairID, field)
}

func boundSenderID(pair model.Pair) int64 {
	if pair.SenderBinding.Pool {
		return 0
	}
	return pair.SenderBinding.SenderID
}

// isImageLike reports whether a media payload qualifies for the
// ImageGuard check (spec §4.6 step 2: "media_tag ∈ {photo, image-document}").
func isImageLike(tag model.MediaTag, mime string) bool {
	if tag == model.MediaPhoto {
		return true
	}
	return tag == model.MediaDocument && strings.HasPrefix(mime, "image/")
}
