package domain

import (
	"sort"
	"time"
)

// MessageBucket the per-room ordered message collection plus pagination
// state. Messages are always kept sorted descending by creation time;
// ties break ascending by key so the order is deterministic under replay.
type MessageBucket struct {
	RoomID   string        `json:"room_id"`
	Messages []ChatMessage `json:"messages"`

	HasMore      bool   `json:"has_more"`
	OldestCursor string `json:"oldest_cursor,omitempty"`

	Loading    bool `json:"-"`
	LoadFailed bool `json:"-"`
}

// SortMessages restores the bucket ordering invariant.
func SortMessages(msgs []ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].Key() < msgs[j].Key()
	})
}

// IndexByID find message position by server id, -1 when absent
func (b MessageBucket) IndexByID(id string) int {
	if id == "" {
		return -1
	}
	for i := range b.Messages {
		if b.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// IndexByTempID find message position by provisional id, -1 when absent
func (b MessageBucket) IndexByTempID(tempID string) int {
	if tempID == "" {
		return -1
	}
	for i := range b.Messages {
		if b.Messages[i].TempID == tempID {
			return i
		}
	}
	return -1
}

// IndexByKey find message position by whichever identity it carries
func (b MessageBucket) IndexByKey(key string) int {
	if IsTempID(key) {
		return b.IndexByTempID(key)
	}
	return b.IndexByID(key)
}

// Upsert inserts or replaces a message, collapsing to one entry per
// logical message (server id first, then temp id) and re-sorting.
func (b *MessageBucket) Upsert(m ChatMessage) {
	if i := b.IndexByID(m.ID); i >= 0 {
		b.Messages[i] = m
	} else if i := b.IndexByTempID(m.TempID); i >= 0 {
		b.Messages[i] = m
	} else {
		b.Messages = append(b.Messages, m)
	}
	SortMessages(b.Messages)
}

// Update applies fn to the message at key, reporting whether it existed.
func (b *MessageBucket) Update(key string, fn func(m *ChatMessage)) bool {
	i := b.IndexByKey(key)
	if i < 0 {
		return false
	}
	fn(&b.Messages[i])
	SortMessages(b.Messages)
	return true
}

// Remove hard-deletes the message at key, reporting whether it existed.
func (b *MessageBucket) Remove(key string) bool {
	i := b.IndexByKey(key)
	if i < 0 {
		return false
	}
	b.Messages = append(b.Messages[:i], b.Messages[i+1:]...)
	return true
}

// HideFor marks the message hidden for one user (self-only delete).
func (b *MessageBucket) HideFor(key, userID string) bool {
	return b.Update(key, func(m *ChatMessage) {
		if !m.HiddenForUser(userID) {
			m.HiddenFor = append(m.HiddenFor, userID)
		}
	})
}

// Newest the most recent message not deleted for everyone, nil when none.
// Used to recompute a room's lastMessage after deletions.
func (b MessageBucket) Newest() *ChatMessage {
	for i := range b.Messages {
		if !b.Messages[i].DeletedForAll {
			m := b.Messages[i]
			return &m
		}
	}
	return nil
}

// Trim keeps only the newest max messages (cache cap).
func (b *MessageBucket) Trim(max int) {
	if max > 0 && len(b.Messages) > max {
		b.Messages = b.Messages[:max]
	}
}

// MatchProvisional finds the single provisional message an inbound push
// corresponds to. Matching prefers the echoed temp id; without one it is
// a documented heuristic: same type and sender, identical content for
// text, creation-time proximity within window otherwise. A stronger
// end-to-end correlation id would remove the ambiguity but the backend
// does not echo one.
func (b MessageBucket) MatchProvisional(incoming ChatMessage, window time.Duration) int {
	if incoming.TempID != "" {
		if i := b.IndexByTempID(incoming.TempID); i >= 0 && !b.Messages[i].Confirmed() {
			return i
		}
	}
	for i := range b.Messages {
		m := &b.Messages[i]
		if m.Confirmed() || m.Type != incoming.Type || m.SenderID != incoming.SenderID {
			continue
		}
		if m.Type == MessageText {
			if m.Content == incoming.Content {
				return i
			}
			continue
		}
		d := incoming.CreatedAt.Sub(m.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= window {
			return i
		}
	}
	return -1
}
