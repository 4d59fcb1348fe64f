package domain

import (
	"encoding/json"
	"time"
)

// EventName named event on the realtime channel
type EventName string

const (
	// EventJoinRoom outbound join-room
	EventJoinRoom EventName = "join-room"
	// EventTyping outbound typing
	EventTyping EventName = "typing"
	// EventMarkRead outbound mark-read
	EventMarkRead EventName = "mark-read"
	// EventSetActiveRoom outbound set-active-room
	EventSetActiveRoom EventName = "set-active-room"

	// EventMessageNew inbound message:new
	EventMessageNew EventName = "message:new"
	// EventMessageDeleted inbound message:deleted
	EventMessageDeleted EventName = "message:deleted"
	// EventMessageStatus inbound message:status
	EventMessageStatus EventName = "message:status"
	// EventPollUpdated inbound poll:updated
	EventPollUpdated EventName = "poll:updated"
	// EventReactionAdded inbound reaction:added
	EventReactionAdded EventName = "reaction:added"
	// EventReactionRemoved inbound reaction:removed
	EventReactionRemoved EventName = "reaction:removed"
	// EventReactionUpdated inbound reaction:updated
	EventReactionUpdated EventName = "reaction:updated"
	// EventTypingIn inbound typing
	EventTypingIn EventName = "typing"
	// EventUserStatus inbound user:status
	EventUserStatus EventName = "user:status"
	// EventRoomUpdated inbound room:updated
	EventRoomUpdated EventName = "room:updated"
	// EventRoomDeleted inbound room:deleted
	EventRoomDeleted EventName = "room:deleted"
)

// ChannelEnvelope wire envelope on the realtime channel
type ChannelEnvelope struct {
	Event   EventName       `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessageEvent payload of message:new. EventID identifies the server
// delivery itself and backs exact-duplicate suppression.
type NewMessageEvent struct {
	EventID string      `json:"event_id,omitempty"`
	Message ChatMessage `json:"message"`
}

// MessageDeletedEvent payload of message:deleted
type MessageDeletedEvent struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	ForAll    bool   `json:"for_all"`
	// HiddenFor the user the soft delete applies to when ForAll is false
	HiddenFor string `json:"hidden_for,omitempty"`
}

// MessageStatusEvent payload of message:status
type MessageStatusEvent struct {
	RoomID    string         `json:"room_id"`
	MessageID string         `json:"message_id"`
	Status    DeliveryStatus `json:"status"`
	At        time.Time      `json:"at,omitempty"`
}

// ReactionEvent payload of reaction:added/removed/updated. The server
// list is authoritative, no client-side merge.
type ReactionEvent struct {
	RoomID    string     `json:"room_id"`
	MessageID string     `json:"message_id"`
	Reactions []Reaction `json:"reactions"`
}

// PollUpdatedEvent payload of poll:updated
type PollUpdatedEvent struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	Poll      Poll   `json:"poll"`
}

// ActivityKind definition typing/activity kind
type ActivityKind string

const (
	// ActivityText composing a text message
	ActivityText ActivityKind = "text"
	// ActivityVoice recording a voice message
	ActivityVoice ActivityKind = "voice"
)

// TypingEvent payload of typing (both directions). Active false is the
// explicit stop signal; absence of events never expires an entry.
type TypingEvent struct {
	RoomID string       `json:"room_id"`
	UserID string       `json:"user_id"`
	Kind   ActivityKind `json:"kind,omitempty"`
	Active bool         `json:"active"`
}

// UserStatusEvent payload of user:status
type UserStatusEvent struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// RoomUpdatedEvent payload of room:updated
type RoomUpdatedEvent struct {
	Room ChatRoom `json:"room"`
}

// RoomDeletedEvent payload of room:deleted
type RoomDeletedEvent struct {
	RoomID string `json:"room_id"`
}

// MarkReadRequest payload of outbound mark-read
type MarkReadRequest struct {
	RoomID string `json:"room_id"`
}

// SetActiveRoomRequest payload of outbound set-active-room
type SetActiveRoomRequest struct {
	RoomID string `json:"room_id"`
}

// JoinRoomRequest payload of outbound join-room
type JoinRoomRequest struct {
	RoomID string `json:"room_id"`
}

// TransportState realtime connection lifecycle state
type TransportState string

const (
	// TransportDisconnected no channel
	TransportDisconnected TransportState = "disconnected"
	// TransportConnecting first connection attempt in flight
	TransportConnecting TransportState = "connecting"
	// TransportConnected channel up
	TransportConnected TransportState = "connected"
	// TransportReconnecting channel lost, retrying
	TransportReconnecting TransportState = "reconnecting"
)

// ConnectionState observable realtime channel state
type ConnectionState struct {
	State          TransportState `json:"state"`
	Transport      string         `json:"transport,omitempty"`
	ConnectedAt    time.Time      `json:"connected_at,omitempty"`
	DisconnectedAt time.Time      `json:"disconnected_at,omitempty"`
	Attempts       int            `json:"attempts"`
}
