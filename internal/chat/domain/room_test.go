package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSortRoomsByActivity(t *testing.T) {
	now := time.Now()
	rooms := []ChatRoom{
		{ID: "r-old", UpdatedAt: now.Add(-time.Hour)},
		{ID: "r-new", UpdatedAt: now},
		{ID: "r-mid", UpdatedAt: now.Add(-time.Minute)},
	}
	SortRoomsByActivity(rooms)

	assert.Equal(t, "r-new", rooms[0].ID)
	assert.Equal(t, "r-mid", rooms[1].ID)
	assert.Equal(t, "r-old", rooms[2].ID)
}

func TestSortRoomsByActivity_TieBreaksOnID(t *testing.T) {
	at := time.Now()
	rooms := []ChatRoom{
		{ID: "r-b", UpdatedAt: at},
		{ID: "r-a", UpdatedAt: at},
	}
	SortRoomsByActivity(rooms)

	assert.Equal(t, "r-a", rooms[0].ID)
	assert.Equal(t, "r-b", rooms[1].ID)
}

func TestAggregateReactions(t *testing.T) {
	reactions := []Reaction{
		{Emoji: "👍", UserID: "u1"},
		{Emoji: "❤️", UserID: "u2"},
		{Emoji: "👍", UserID: "u3"},
	}
	agg := AggregateReactions(reactions)

	assert.Len(t, agg, 2)
	assert.Equal(t, "👍", agg[0].Emoji)
	assert.Equal(t, 2, agg[0].Count)
	assert.Equal(t, []string{"u1", "u3"}, agg[0].UserIDs)
	assert.Equal(t, "❤️", agg[1].Emoji)
	assert.Equal(t, 1, agg[1].Count)
}
