// Package model defines the persisted entities of the replication engine
// (see spec §3): pairs, their filter policy, mappings, senders, blocked
// images, and subscriptions. These are plain data types; the Store in
// pkg/store owns their lifecycle.
package model

import "time"

// PairStatus is the lifecycle state of a Pair.
type PairStatus string

const (
	PairActive   PairStatus = "active"
	PairInactive PairStatus = "inactive"
)

// MediaTag classifies an inbound message's media payload.
type MediaTag string

const (
	MediaText     MediaTag = "text"
	MediaPhoto    MediaTag = "photo"
	MediaVideo    MediaTag = "video"
	MediaDocument MediaTag = "document"
	MediaAudio    MediaTag = "audio"
	MediaVoice    MediaTag = "voice"
	MediaSticker  MediaTag = "sticker"
	MediaWebpage  MediaTag = "webpage"
	MediaUnknown  MediaTag = "unknown"
)

// MappingKind classifies the content of a successfully replicated message.
type MappingKind string

const (
	MappingText  MappingKind = "text"
	MappingMedia MappingKind = "media"
	MappingMixed MappingKind = "mixed"
)

// BlockedImageScope is the visibility of a blocked perceptual hash.
type BlockedImageScope string

const (
	ScopeGlobal BlockedImageScope = "global"
	ScopePair   BlockedImageScope = "pair"
)

// Priority orders DispatchTasks within the dispatcher's queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// Entity is a single formatting/link range over a message's text, as
// produced by the source platform and re-indexed by the filter engine.
type Entity struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Kind  string `json:"kind"` // "bold" | "italic" | "code" | "link" | ...
	Attrs string `json:"attrs,omitempty"`
}

// FilterPolicy is the typed, per-pair filter configuration (spec §3,
// §9 "promote to a typed FilterPolicy record"). Unknown keys encountered
// when decoding a legacy record are ignored with a warning by the store
// layer, not here.
type FilterPolicy struct {
	BlockedWords        []string   `json:"blocked_words,omitempty"`
	RemoveMentions      bool       `json:"remove_mentions"`
	MentionPlaceholder  string     `json:"mention_placeholder,omitempty"`
	HeaderPattern       string     `json:"header_pattern,omitempty"`
	FooterPattern       string     `json:"footer_pattern,omitempty"`
	MinLength           int        `json:"min_length"`
	MaxLength           int        `json:"max_length"`
	AllowedMediaTypes   []MediaTag `json:"allowed_media_types,omitempty"`
	SyncEdits           bool       `json:"sync_edits"`
	SyncDeletes         bool       `json:"sync_deletes"`
	PreserveReplies     bool       `json:"preserve_replies"`
	WatermarkEnabled    bool       `json:"watermark_enabled"`
	WatermarkText       string     `json:"watermark_text,omitempty"`
}

// AllowsMedia reports whether tag is permitted by this policy. An empty
// allow-list is treated as "allow everything" so pairs created before
// media gating existed keep working.
func (p FilterPolicy) AllowsMedia(tag MediaTag) bool {
	if len(p.AllowedMediaTypes) == 0 {
		return true
	}
	for _, t := range p.AllowedMediaTypes {
		if t == tag {
			return true
		}
	}
	return false
}

// PairStats holds the mutable counters attached to a Pair (spec §3: "never
// mutated by pipeline except stats").
type PairStats struct {
	Sent           int64 `json:"sent"`
	Edited         int64 `json:"edited"`
	Deleted        int64 `json:"deleted"`
	WordsBlocked   int64 `json:"words_blocked"`
	ImagesBlocked  int64 `json:"images_blocked"`
	DroppedMedia   int64 `json:"dropped_media"`
	DroppedLength  int64 `json:"dropped_length"`
	SendErrors     int64 `json:"send_errors"`
}

// SenderBinding pins a pair to a specific sender, or leaves it on the
// pool (zero value).
type SenderBinding struct {
	Pool     bool  `json:"pool"`
	SenderID int64 `json:"sender_id,omitempty"`
}

// Pair is a source<->destination replication binding (spec §3).
// DestinationPlatform names which transport destination_chat lives on
// ("telegram", "discord", "slack") — a supplement to the spec's data
// model, which treats chat IDs as opaque integers but needs platform
// routing information the moment more than one Sender transport exists.
type Pair struct {
	ID                  int64         `json:"id"`
	SourceChat          int64         `json:"source_chat"`
	DestinationChat     int64         `json:"destination_chat"`
	DestinationPlatform string        `json:"destination_platform"`
	Name                string        `json:"name"`
	Status              PairStatus    `json:"status"`
	SenderBinding       SenderBinding `json:"sender_binding"`
	Filters             FilterPolicy  `json:"filters"`
	Stats               PairStats     `json:"stats"`
	CreatedAt           time.Time     `json:"created_at"`
}

// Mapping links one source message to its destination copy within a pair
// (spec §3). (source_msg_id, pair_id) is unique.
type Mapping struct {
	SourceMsgID     int64       `json:"source_msg_id"`
	DestMsgID       int64       `json:"dest_msg_id"`
	PairID          int64       `json:"pair_id"`
	SenderID        int64       `json:"sender_id"`
	SourceChat      int64       `json:"source_chat"`
	DestChat        int64       `json:"dest_chat"`
	Kind            MappingKind `json:"kind"`
	HasMedia        bool        `json:"has_media"`
	ReplyToSourceID int64       `json:"reply_to_source_id,omitempty"`
	ReplyToDestID   int64       `json:"reply_to_dest_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Sender is a sending identity (spec §3). Runtime metrics (in-flight,
// success rate, etc.) are not persisted and live in pkg/senderpool.
type Sender struct {
	ID            int64     `json:"id"`
	DisplayHandle string    `json:"display_handle"`
	Platform      string    `json:"platform"`
	Credential    string    `json:"-"` // never serialized
	Enabled       bool      `json:"enabled"`
	UsageCount    int64     `json:"usage_count"`
	LastUsedAt    time.Time `json:"last_used_at,omitempty"`
}

// BlockedImage is a perceptual-hash block-list entry (spec §3).
type BlockedImage struct {
	ID         int64             `json:"id"`
	PHash      uint64            `json:"phash"`
	Scope      BlockedImageScope `json:"scope"`
	PairID     int64             `json:"pair_id,omitempty"`
	Threshold  int               `json:"threshold"`
	UsageCount int64             `json:"usage_count"`
	Note       string            `json:"note,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Subscription is a timed-access record for a user in destination chats
// (spec §3).
type Subscription struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	AddedBy   string    `json:"added_by"`
	Notes     string    `json:"notes,omitempty"`
}
