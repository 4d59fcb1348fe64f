package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func textMsg(id, tempID, sender, content string, at time.Time) ChatMessage {
	return ChatMessage{
		ID:        id,
		TempID:    tempID,
		RoomID:    "room-1",
		Type:      MessageText,
		SenderID:  sender,
		Content:   content,
		Status:    StatusSent,
		CreatedAt: at,
	}
}

func TestMessageBucket_Ordering(t *testing.T) {
	now := time.Now()
	b := &MessageBucket{RoomID: "room-1"}
	b.Upsert(textMsg("m1", "", "alice", "first", now.Add(-2*time.Minute)))
	b.Upsert(textMsg("m3", "", "alice", "third", now))
	b.Upsert(textMsg("m2", "", "bob", "second", now.Add(-time.Minute)))

	assert.Equal(t, "m3", b.Messages[0].ID)
	assert.Equal(t, "m2", b.Messages[1].ID)
	assert.Equal(t, "m1", b.Messages[2].ID)
}

func TestMessageBucket_OrderingTieBreak(t *testing.T) {
	at := time.Now()
	b := &MessageBucket{RoomID: "room-1"}
	b.Upsert(textMsg("m-b", "", "alice", "b", at))
	b.Upsert(textMsg("m-a", "", "alice", "a", at))

	// equal timestamps order ascending by key, deterministic under replay
	assert.Equal(t, "m-a", b.Messages[0].ID)
	assert.Equal(t, "m-b", b.Messages[1].ID)
}

func TestMessageBucket_UpsertCollapsesDuplicates(t *testing.T) {
	now := time.Now()
	b := &MessageBucket{RoomID: "room-1"}
	b.Upsert(textMsg("m1", "", "alice", "hello", now))
	b.Upsert(textMsg("m1", "", "alice", "hello edited", now))

	assert.Len(t, b.Messages, 1)
	assert.Equal(t, "hello edited", b.Messages[0].Content)
}

func TestMessageBucket_UpsertCollapsesByTempID(t *testing.T) {
	now := time.Now()
	tempID := NewTempID()
	b := &MessageBucket{RoomID: "room-1"}
	b.Upsert(ChatMessage{TempID: tempID, RoomID: "room-1", Type: MessageText, SenderID: "alice", Content: "hi", Status: StatusSending, CreatedAt: now})

	confirmed := textMsg("m1", tempID, "alice", "hi", now)
	b.Upsert(confirmed)

	assert.Len(t, b.Messages, 1)
	assert.Equal(t, "m1", b.Messages[0].ID)
	assert.Equal(t, tempID, b.Messages[0].TempID)
}

func TestMessageBucket_NewestSkipsDeleted(t *testing.T) {
	now := time.Now()
	b := &MessageBucket{RoomID: "room-1"}
	b.Upsert(textMsg("m1", "", "alice", "old", now.Add(-time.Minute)))
	newest := textMsg("m2", "", "bob", "new", now)
	newest.DeletedForAll = true
	b.Upsert(newest)

	got := b.Newest()
	assert.NotNil(t, got)
	assert.Equal(t, "m1", got.ID)
}

func TestMessageBucket_NewestEmpty(t *testing.T) {
	b := &MessageBucket{RoomID: "room-1"}
	assert.Nil(t, b.Newest())
}

func TestMessageBucket_LookupsWorkOnValueCopies(t *testing.T) {
	now := time.Now()
	b := &MessageBucket{RoomID: "room-1"}
	b.Upsert(textMsg("m1", "temp_1", "alice", "hi", now))

	// lookups are value-receiver methods, callable on snapshot copies
	// returned by value (the store hands those out)
	snapshot := func() MessageBucket { return *b }
	assert.Equal(t, 0, snapshot().IndexByID("m1"))
	assert.Equal(t, 0, snapshot().IndexByTempID("temp_1"))
	assert.Equal(t, 0, snapshot().IndexByKey("m1"))
	assert.NotNil(t, snapshot().Newest())
}

func TestMessageBucket_Trim(t *testing.T) {
	now := time.Now()
	b := &MessageBucket{RoomID: "room-1"}
	for i := 0; i < 10; i++ {
		b.Upsert(textMsg(string(rune('a'+i)), "", "alice", "x", now.Add(time.Duration(i)*time.Second)))
	}
	b.Trim(3)
	assert.Len(t, b.Messages, 3)
	// newest retained
	assert.Equal(t, string(rune('a'+9)), b.Messages[0].ID)
}

func TestMessageBucket_HideFor(t *testing.T) {
	now := time.Now()
	b := &MessageBucket{RoomID: "room-1"}
	b.Upsert(textMsg("m1", "", "alice", "hi", now))

	assert.True(t, b.HideFor("m1", "bob"))
	assert.True(t, b.Messages[0].HiddenForUser("bob"))
	assert.False(t, b.Messages[0].HiddenForUser("alice"))

	// hiding twice does not duplicate the entry
	b.HideFor("m1", "bob")
	assert.Len(t, b.Messages[0].HiddenFor, 1)
}

func TestMatchProvisional_TempIDEcho(t *testing.T) {
	now := time.Now()
	tempID := NewTempID()
	b := &MessageBucket{RoomID: "room-1"}
	b.Upsert(ChatMessage{TempID: tempID, RoomID: "room-1", Type: MessageText, SenderID: "alice", Content: "hi", Status: StatusSending, CreatedAt: now})

	incoming := textMsg("m1", tempID, "alice", "hi", now)
	assert.Equal(t, 0, b.MatchProvisional(incoming, 5*time.Second))
}

func TestMatchProvisional_TextContent(t *testing.T) {
	now := time.Now()
	b := &MessageBucket{RoomID: "room-1"}
	b.Upsert(ChatMessage{TempID: NewTempID(), RoomID: "room-1", Type: MessageText, SenderID: "alice", Content: "exact words", Status: StatusSending, CreatedAt: now})

	incoming := textMsg("m1", "", "alice", "exact words", now.Add(30*time.Second))
	assert.Equal(t, 0, b.MatchProvisional(incoming, 5*time.Second))

	other := textMsg("m2", "", "alice", "different words", now)
	assert.Equal(t, -1, b.MatchProvisional(other, 5*time.Second))
}

func TestMatchProvisional_TimeWindow(t *testing.T) {
	now := time.Now()
	b := &MessageBucket{RoomID: "room-1"}
	b.Upsert(ChatMessage{TempID: NewTempID(), RoomID: "room-1", Type: MessageVoice, SenderID: "alice", Status: StatusSending, CreatedAt: now})

	within := ChatMessage{ID: "m1", RoomID: "room-1", Type: MessageVoice, SenderID: "alice", CreatedAt: now.Add(3 * time.Second)}
	assert.Equal(t, 0, b.MatchProvisional(within, 5*time.Second))

	outside := ChatMessage{ID: "m2", RoomID: "room-1", Type: MessageVoice, SenderID: "alice", CreatedAt: now.Add(time.Minute)}
	assert.Equal(t, -1, b.MatchProvisional(outside, 5*time.Second))
}

func TestMatchProvisional_NeverMatchesConfirmed(t *testing.T) {
	now := time.Now()
	b := &MessageBucket{RoomID: "room-1"}
	b.Upsert(textMsg("m1", "", "alice", "hi", now))

	incoming := textMsg("m2", "", "alice", "hi", now)
	assert.Equal(t, -1, b.MatchProvisional(incoming, 5*time.Second))
}

func TestMatchProvisional_DifferentSender(t *testing.T) {
	now := time.Now()
	b := &MessageBucket{RoomID: "room-1"}
	b.Upsert(ChatMessage{TempID: NewTempID(), RoomID: "room-1", Type: MessageText, SenderID: "alice", Content: "hi", Status: StatusSending, CreatedAt: now})

	incoming := textMsg("m1", "", "bob", "hi", now)
	assert.Equal(t, -1, b.MatchProvisional(incoming, 5*time.Second))
}
