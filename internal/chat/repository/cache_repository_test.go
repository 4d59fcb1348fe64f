package repository

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/logger"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	logger.SetNewNop()
	os.Exit(m.Run())
}

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		MaxRooms:           100,
		MaxMessagesPerRoom: 500,
		WriteDebounce:      5 * time.Millisecond,
		FreshFor:           24 * time.Hour,
		RetainFor:          30 * 24 * time.Hour,
		SweepInterval:      time.Millisecond,
	}
}

func openTestDB(t *testing.T) *pebble.DB {
	t.Helper()
	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func cachedTextMsg(id, content string, at time.Time) domain.ChatMessage {
	return domain.ChatMessage{
		ID: id, RoomID: "room-1", Type: domain.MessageText,
		SenderID: "alice", Content: content, Status: domain.StatusSent, CreatedAt: at,
	}
}

func TestPebbleCache_RoomListRoundTrip(t *testing.T) {
	repo := NewPebbleCacheRepository(openTestDB(t), testCacheConfig())
	defer repo.Close()

	rooms := []domain.ChatRoom{
		{ID: "room-1", RoomType: domain.ChatRoomTypeDirect, Title: "Alice", UpdatedAt: time.Now().Truncate(time.Second)},
		{ID: "room-2", RoomType: domain.ChatRoomTypeGroup, Title: "Team", UpdatedAt: time.Now().Truncate(time.Second)},
	}
	assert.NoError(t, repo.SaveRoomList(rooms))

	loaded, err := repo.LoadRoomList()
	assert.NoError(t, err)
	assert.Len(t, loaded, 2)
	assert.Equal(t, "Alice", loaded[0].Title)
}

func TestPebbleCache_RoomListMiss(t *testing.T) {
	repo := NewPebbleCacheRepository(openTestDB(t), testCacheConfig())
	defer repo.Close()

	loaded, err := repo.LoadRoomList()
	assert.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestPebbleCache_RoomListCapped(t *testing.T) {
	cfg := testCacheConfig()
	cfg.MaxRooms = 2
	repo := NewPebbleCacheRepository(openTestDB(t), cfg)
	defer repo.Close()

	rooms := []domain.ChatRoom{{ID: "r1"}, {ID: "r2"}, {ID: "r3"}}
	assert.NoError(t, repo.SaveRoomList(rooms))

	loaded, _ := repo.LoadRoomList()
	assert.Len(t, loaded, 2)
}

func TestPebbleCache_MessagesRoundTrip(t *testing.T) {
	repo := NewPebbleCacheRepository(openTestDB(t), testCacheConfig())
	defer repo.Close()

	now := time.Now().Truncate(time.Second)
	msgs := []domain.ChatMessage{
		cachedTextMsg("m2", "newer", now),
		cachedTextMsg("m1", "older", now.Add(-time.Minute)),
	}
	assert.NoError(t, repo.SaveRoomMessages("room-1", msgs))

	rec, err := repo.LoadRoomMessages("room-1")
	assert.NoError(t, err)
	assert.NotNil(t, rec)
	assert.Len(t, rec.Messages, 2)
	assert.False(t, rec.IsStale)
}

func TestPebbleCache_MessagesMiss(t *testing.T) {
	repo := NewPebbleCacheRepository(openTestDB(t), testCacheConfig())
	defer repo.Close()

	rec, err := repo.LoadRoomMessages("room-none")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPebbleCache_StaleFlag(t *testing.T) {
	cfg := testCacheConfig()
	cfg.FreshFor = time.Nanosecond
	repo := NewPebbleCacheRepository(openTestDB(t), cfg)
	defer repo.Close()

	assert.NoError(t, repo.SaveRoomMessages("room-1", []domain.ChatMessage{cachedTextMsg("m1", "hi", time.Now())}))
	time.Sleep(time.Millisecond)

	rec, err := repo.LoadRoomMessages("room-1")
	assert.NoError(t, err)
	assert.NotNil(t, rec)
	// stale data is still served, the flag just requests a refresh
	assert.True(t, rec.IsStale)
	assert.Len(t, rec.Messages, 1)
}

func TestPebbleCache_IncrementalMutations(t *testing.T) {
	repo := NewPebbleCacheRepository(openTestDB(t), testCacheConfig())
	defer repo.Close()

	now := time.Now().Truncate(time.Second)
	repo.AddMessage("room-1", cachedTextMsg("m1", "one", now.Add(-time.Minute)))
	repo.AddMessage("room-1", cachedTextMsg("m2", "two", now))

	edited := cachedTextMsg("m1", "one edited", now.Add(-time.Minute))
	repo.UpdateMessage("room-1", edited)
	repo.RemoveMessage("room-1", "m2")
	repo.Flush()

	rec, err := repo.LoadRoomMessages("room-1")
	assert.NoError(t, err)
	assert.NotNil(t, rec)
	assert.Len(t, rec.Messages, 1)
	assert.Equal(t, "one edited", rec.Messages[0].Content)
}

func TestPebbleCache_DebouncedWriteLands(t *testing.T) {
	repo := NewPebbleCacheRepository(openTestDB(t), testCacheConfig())
	defer repo.Close()

	repo.AddMessage("room-1", cachedTextMsg("m1", "hi", time.Now()))

	assert.Eventually(t, func() bool {
		rec, _ := repo.LoadRoomMessages("room-1")
		return rec != nil && len(rec.Messages) == 1
	}, time.Second, 2*time.Millisecond)
}

func TestPebbleCache_MessageCap(t *testing.T) {
	cfg := testCacheConfig()
	cfg.MaxMessagesPerRoom = 3
	repo := NewPebbleCacheRepository(openTestDB(t), cfg)
	defer repo.Close()

	now := time.Now()
	for i := 0; i < 5; i++ {
		repo.AddMessage("room-1", cachedTextMsg(string(rune('a'+i)), "x", now.Add(time.Duration(i)*time.Second)))
	}
	repo.Flush()

	rec, _ := repo.LoadRoomMessages("room-1")
	assert.Len(t, rec.Messages, 3)
	// the newest survive the cap
	assert.Equal(t, string(rune('a'+4)), rec.Messages[0].ID)
}

func TestPebbleCache_PurgeRoom(t *testing.T) {
	repo := NewPebbleCacheRepository(openTestDB(t), testCacheConfig())
	defer repo.Close()

	assert.NoError(t, repo.SaveRoomMessages("room-1", []domain.ChatMessage{cachedTextMsg("m1", "hi", time.Now())}))
	assert.NoError(t, repo.PurgeRoom("room-1"))

	rec, err := repo.LoadRoomMessages("room-1")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPebbleCache_SweepExpired(t *testing.T) {
	cfg := testCacheConfig()
	cfg.RetainFor = time.Nanosecond
	repo := NewPebbleCacheRepository(openTestDB(t), cfg)
	defer repo.Close()

	assert.NoError(t, repo.SaveRoomMessages("room-1", []domain.ChatMessage{cachedTextMsg("m1", "hi", time.Now())}))
	time.Sleep(2 * time.Millisecond)
	repo.Sweep()

	rec, err := repo.LoadRoomMessages("room-1")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPebbleCache_SweepConcurrentCallers(t *testing.T) {
	cfg := testCacheConfig()
	cfg.RetainFor = time.Nanosecond
	cfg.SweepInterval = time.Hour
	repo := NewPebbleCacheRepository(openTestDB(t), cfg)
	defer repo.Close()

	assert.NoError(t, repo.SaveRoomMessages("room-1", []domain.ChatMessage{cachedTextMsg("m1", "hi", time.Now())}))
	time.Sleep(2 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			repo.Sweep()
		}()
	}
	wg.Wait()

	rec, err := repo.LoadRoomMessages("room-1")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestWriteScheduler_CoalescesBurst(t *testing.T) {
	s := newWriteScheduler(10 * time.Millisecond)
	defer s.Close()

	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		s.Schedule("room-1", func() { fired.Add(1) })
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestWriteScheduler_RoomsIndependent(t *testing.T) {
	s := newWriteScheduler(5 * time.Millisecond)
	defer s.Close()

	done := make(chan string, 2)
	s.Schedule("room-1", func() { done <- "room-1" })
	s.Schedule("room-2", func() { done <- "room-2" })

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-done:
			got[id] = true
		case <-time.After(time.Second):
			t.Fatal("scheduled write never fired")
		}
	}
	assert.True(t, got["room-1"])
	assert.True(t, got["room-2"])
}

func TestWriteScheduler_FlushRunsPendingNow(t *testing.T) {
	s := newWriteScheduler(time.Hour)

	ran := false
	s.Schedule("room-1", func() { ran = true })
	s.Flush()

	assert.True(t, ran)
	s.Close()

	// scheduling after close is dropped
	s.Schedule("room-1", func() { t.Fatal("must not run") })
	time.Sleep(5 * time.Millisecond)
}
