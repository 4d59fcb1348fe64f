package domain

import (
	"sort"
	"time"
)

// ChatRoomType definition chat room type
type ChatRoomType string

const (
	// ChatRoomTypeDirect 1 on 1 conversation
	ChatRoomTypeDirect ChatRoomType = "direct"
	// ChatRoomTypeGroup group conversation
	ChatRoomTypeGroup ChatRoomType = "group"
	// ChatRoomTypeBroadcast one-to-many announcement room
	ChatRoomTypeBroadcast ChatRoomType = "broadcast"
	// ChatRoomTypeProduct conversation attached to a product listing
	ChatRoomTypeProduct ChatRoomType = "product"
)

// Participant one room member
type Participant struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role,omitempty"`
}

// ChatRoom definition chat room
type ChatRoom struct {
	ID           string        `json:"id"`
	RoomType     ChatRoomType  `json:"room_type"`
	Title        string        `json:"title,omitempty"`
	AvatarURL    string        `json:"avatar_url,omitempty"`
	ProductID    string        `json:"product_id,omitempty"`
	Participants []Participant `json:"participants,omitempty"`

	// LastMessage denormalized snapshot used for list rendering
	LastMessage *ChatMessage `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// HasParticipant check userID is a member of the room
func (r *ChatRoom) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// SortRoomsByActivity orders rooms newest-activity-first, id ascending on
// equal timestamps so replays produce identical order.
func SortRoomsByActivity(rooms []ChatRoom) {
	sort.SliceStable(rooms, func(i, j int) bool {
		if !rooms[i].UpdatedAt.Equal(rooms[j].UpdatedAt) {
			return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})
}
