package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks a client-generated provisional message id.
const TempIDPrefix = "temp_"

// NewTempID create a provisional message id
func NewTempID() string {
	return TempIDPrefix + uuid.New().String()
}

// IsTempID check id is a provisional id
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// MessageType definition chat message type
type MessageType string

const (
	// MessageText plain text message
	MessageText MessageType = "TEXT"
	// MessageImage one or more image attachments
	MessageImage MessageType = "IMAGE"
	// MessageVoice voice recording with duration/waveform metadata
	MessageVoice MessageType = "VOICE"
	// MessagePoll poll with options and votes
	MessagePoll MessageType = "POLL"
	// MessageProduct product-link message
	MessageProduct MessageType = "PRODUCT"
	// MessageStop stop-link message
	MessageStop MessageType = "STOP"
	// MessageSystem server-generated system notice
	MessageSystem MessageType = "SYSTEM"
)

// DeliveryStatus definition message delivery state
type DeliveryStatus string

const (
	// StatusSending provisional, not yet confirmed by the server
	StatusSending DeliveryStatus = "SENDING"
	// StatusSent accepted by the server
	StatusSent DeliveryStatus = "SENT"
	// StatusDelivered delivered to the recipient device
	StatusDelivered DeliveryStatus = "DELIVERED"
	// StatusRead read by the recipient
	StatusRead DeliveryStatus = "READ"
	// StatusFailed terminal send failure
	StatusFailed DeliveryStatus = "FAILED"
)

// AttachmentKind definition attachment media kind
type AttachmentKind string

const (
	// AttachmentImage image attachment
	AttachmentImage AttachmentKind = "image"
	// AttachmentVoice voice attachment
	AttachmentVoice AttachmentKind = "voice"
)

// Attachment one media item carried by a message
type Attachment struct {
	Kind       AttachmentKind `json:"kind"`
	RemoteURL  string         `json:"remote_url,omitempty"`
	LocalPath  string         `json:"local_path,omitempty"`
	DurationMS int            `json:"duration_ms,omitempty"`
	Waveform   []int          `json:"waveform,omitempty"`
	Width      int            `json:"width,omitempty"`
	Height     int            `json:"height,omitempty"`
}

// Reaction one emoji reaction on a message
type Reaction struct {
	Emoji     string    `json:"emoji"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PollOption one votable option
type PollOption struct {
	ID    string   `json:"id"`
	Text  string   `json:"text"`
	Votes []string `json:"votes,omitempty"`
}

// Poll payload of a poll message
type Poll struct {
	Question string       `json:"question"`
	Options  []PollOption `json:"options"`
	Multiple bool         `json:"multiple,omitempty"`
}

// ChatMessage one chat message. While unconfirmed it is keyed by TempID;
// after confirmation ID is authoritative and TempID is retained only so
// identity-keyed consumers are not disrupted.
type ChatMessage struct {
	ID     string `json:"id,omitempty"`
	TempID string `json:"temp_id,omitempty"`
	RoomID string `json:"room_id"`

	Type     MessageType  `json:"type"`
	SenderID string       `json:"sender_id"`
	Content  string       `json:"content,omitempty"`
	ReplyTo  string       `json:"reply_to,omitempty"`
	Poll     *Poll        `json:"poll,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	Status    DeliveryStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`

	Reactions    []Reaction `json:"reactions,omitempty"`
	ReactionsRev int64      `json:"reactions_rev,omitempty"`

	DeletedForAll bool     `json:"deleted_for_all,omitempty"`
	HiddenFor     []string `json:"hidden_for,omitempty"`

	// send bookkeeping, only meaningful while provisional
	RetryCount  int    `json:"retry_count,omitempty"`
	FailReason  string `json:"fail_reason,omitempty"`
	IsRetryable bool   `json:"is_retryable,omitempty"`
}

// Key the identity the message is currently addressable by
func (m *ChatMessage) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

// Confirmed check the server has assigned an id
func (m *ChatMessage) Confirmed() bool {
	return m.ID != ""
}

// HiddenForUser check the message was soft-deleted for userID
func (m *ChatMessage) HiddenForUser(userID string) bool {
	for _, u := range m.HiddenFor {
		if u == userID {
			return true
		}
	}
	return false
}

// ReactionAggregate derived per-emoji grouping of a reaction list
type ReactionAggregate struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	UserIDs []string `json:"user_ids"`
}

// AggregateReactions groups reactions by emoji preserving first-seen order.
func AggregateReactions(reactions []Reaction) []ReactionAggregate {
	idx := make(map[string]int, len(reactions))
	var out []ReactionAggregate
	for _, r := range reactions {
		i, ok := idx[r.Emoji]
		if !ok {
			idx[r.Emoji] = len(out)
			out = append(out, ReactionAggregate{Emoji: r.Emoji})
			i = len(out) - 1
		}
		out[i].Count++
		out[i].UserIDs = append(out[i].UserIDs, r.UserID)
	}
	return out
}
