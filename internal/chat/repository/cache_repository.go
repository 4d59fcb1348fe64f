package repository

import (
	"encoding/json"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/logger"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

const (
	keyRoomList       = "roomlist"
	keyRoomMsgsPrefix = "roommsgs:"
)

// CachedMessages a loaded per-room message window. IsStale means the
// freshness threshold has elapsed; the data is still served (availability
// over freshness) and the caller is expected to refresh in the background.
type CachedMessages struct {
	Messages []domain.ChatMessage
	CachedAt time.Time
	IsStale  bool
}

// CacheRepository definition durable local cache for rooms and messages.
// Every failure degrades to a miss or no-op; the network path must never
// be blocked by a broken cache.
type CacheRepository interface {
	SaveRoomList(rooms []domain.ChatRoom) error
	// LoadRoomList nil slice on miss
	LoadRoomList() ([]domain.ChatRoom, error)

	SaveRoomMessages(roomID string, msgs []domain.ChatMessage) error
	// LoadRoomMessages nil on miss
	LoadRoomMessages(roomID string) (*CachedMessages, error)

	// Incremental mutators: read-modify-write of the full per-room
	// record, persisted through the debounced write scheduler.
	AddMessage(roomID string, m domain.ChatMessage)
	UpdateMessage(roomID string, m domain.ChatMessage)
	RemoveMessage(roomID string, key string)

	PurgeRoom(roomID string) error
	Sweep()
	Flush()
	Close() error
}

type roomListRecord struct {
	Rooms   []domain.ChatRoom `json:"rooms"`
	SavedAt time.Time         `json:"saved_at"`
}

type roomMessagesRecord struct {
	Messages []domain.ChatMessage `json:"messages"`
	SavedAt  time.Time            `json:"saved_at"`
}

type pebbleCacheRepository struct {
	db  *pebble.DB
	cfg config.CacheConfig

	sched *writeScheduler

	// staged holds per-room windows mutated but not yet flushed, so a
	// burst of mutations does a single disk read and a single write
	stagedMu sync.Mutex
	staged   map[string]*roomMessagesRecord

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// NewPebbleCacheRepository opens (or creates) the pebble store backing
// the durable cache.
func NewPebbleCacheRepository(db *pebble.DB, cfg config.CacheConfig) CacheRepository {
	return &pebbleCacheRepository{
		db:     db,
		cfg:    cfg,
		sched:  newWriteScheduler(cfg.WriteDebounce),
		staged: make(map[string]*roomMessagesRecord),
	}
}

// SaveRoomList persists the room list, keeping the most recent MaxRooms.
func (r *pebbleCacheRepository) SaveRoomList(rooms []domain.ChatRoom) error {
	capped := rooms
	if r.cfg.MaxRooms > 0 && len(capped) > r.cfg.MaxRooms {
		capped = capped[:r.cfg.MaxRooms]
	}
	rec := roomListRecord{Rooms: capped, SavedAt: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		logger.Log.Warn("room_list_marshal_failed", zap.Error(err))
		return err
	}
	if err := r.db.Set([]byte(keyRoomList), data, pebble.NoSync); err != nil {
		logger.Log.Warn("room_list_save_failed", zap.Error(err))
		return err
	}
	return nil
}

// LoadRoomList retrieves the persisted room list, nil on miss.
func (r *pebbleCacheRepository) LoadRoomList() ([]domain.ChatRoom, error) {
	data, closer, err := r.db.Get([]byte(keyRoomList))
	if err != nil {
		if err != pebble.ErrNotFound {
			logger.Log.Warn("room_list_load_failed", zap.Error(err))
		}
		return nil, nil
	}
	defer closer.Close()
	var rec roomListRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		logger.Log.Warn("room_list_corrupt", zap.Error(err))
		return nil, nil
	}
	return rec.Rooms, nil
}

// SaveRoomMessages persists a capped window of messages for the room.
func (r *pebbleCacheRepository) SaveRoomMessages(roomID string, msgs []domain.ChatMessage) error {
	rec := &roomMessagesRecord{Messages: msgs, SavedAt: time.Now()}
	r.capRecord(rec)
	r.stagedMu.Lock()
	r.staged[roomID] = rec
	r.stagedMu.Unlock()
	return r.writeRecord(roomID, rec)
}

// LoadRoomMessages retrieves the persisted window, nil on miss. Entries
// past the retention threshold are still returned; the sweeper removes
// them eventually.
func (r *pebbleCacheRepository) LoadRoomMessages(roomID string) (*CachedMessages, error) {
	rec := r.readRecord(roomID)
	if rec == nil {
		return nil, nil
	}
	return &CachedMessages{
		Messages: rec.Messages,
		CachedAt: rec.SavedAt,
		IsStale:  time.Since(rec.SavedAt) > r.cfg.FreshFor,
	}, nil
}

// AddMessage inserts or replaces one message in the room's persisted set.
func (r *pebbleCacheRepository) AddMessage(roomID string, m domain.ChatMessage) {
	r.mutate(roomID, func(b *domain.MessageBucket) {
		b.Upsert(m)
	})
}

// UpdateMessage replaces one message in the room's persisted set.
func (r *pebbleCacheRepository) UpdateMessage(roomID string, m domain.ChatMessage) {
	r.AddMessage(roomID, m)
}

// RemoveMessage removes one message from the room's persisted set.
func (r *pebbleCacheRepository) RemoveMessage(roomID string, key string) {
	r.mutate(roomID, func(b *domain.MessageBucket) {
		b.Remove(key)
	})
}

func (r *pebbleCacheRepository) mutate(roomID string, fn func(b *domain.MessageBucket)) {
	r.stagedMu.Lock()
	rec, ok := r.staged[roomID]
	if !ok {
		rec = r.readRecord(roomID)
		if rec == nil {
			rec = &roomMessagesRecord{}
		}
		r.staged[roomID] = rec
	}
	bucket := domain.MessageBucket{RoomID: roomID, Messages: rec.Messages}
	fn(&bucket)
	rec.Messages = bucket.Messages
	rec.SavedAt = time.Now()
	r.capRecord(rec)
	r.stagedMu.Unlock()

	r.sched.Schedule(roomID, func() {
		r.stagedMu.Lock()
		snapshot := r.staged[roomID]
		delete(r.staged, roomID)
		r.stagedMu.Unlock()
		if snapshot != nil {
			r.writeRecord(roomID, snapshot)
		}
	})
}

func (r *pebbleCacheRepository) capRecord(rec *roomMessagesRecord) {
	if r.cfg.MaxMessagesPerRoom > 0 && len(rec.Messages) > r.cfg.MaxMessagesPerRoom {
		rec.Messages = rec.Messages[:r.cfg.MaxMessagesPerRoom]
	}
}

func (r *pebbleCacheRepository) readRecord(roomID string) *roomMessagesRecord {
	data, closer, err := r.db.Get([]byte(keyRoomMsgsPrefix + roomID))
	if err != nil {
		if err != pebble.ErrNotFound {
			logger.Log.Warn("room_messages_load_failed", zap.String("room", roomID), zap.Error(err))
		}
		return nil
	}
	defer closer.Close()
	var rec roomMessagesRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		logger.Log.Warn("room_messages_corrupt", zap.String("room", roomID), zap.Error(err))
		return nil
	}
	return &rec
}

func (r *pebbleCacheRepository) writeRecord(roomID string, rec *roomMessagesRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		logger.Log.Warn("room_messages_marshal_failed", zap.String("room", roomID), zap.Error(err))
		return err
	}
	if err := r.db.Set([]byte(keyRoomMsgsPrefix+roomID), data, pebble.NoSync); err != nil {
		logger.Log.Warn("room_messages_save_failed", zap.String("room", roomID), zap.Error(err))
		return err
	}
	return nil
}

// PurgeRoom drops the room's persisted messages (room deleted server-side).
func (r *pebbleCacheRepository) PurgeRoom(roomID string) error {
	r.stagedMu.Lock()
	delete(r.staged, roomID)
	r.stagedMu.Unlock()
	if err := r.db.Delete([]byte(keyRoomMsgsPrefix+roomID), pebble.NoSync); err != nil {
		logger.Log.Warn("room_purge_failed", zap.String("room", roomID), zap.Error(err))
		return err
	}
	return nil
}

// Sweep removes room records past the retention threshold. Runs at most
// once per SweepInterval regardless of how often it is invoked.
func (r *pebbleCacheRepository) Sweep() {
	r.sweepMu.Lock()
	if time.Since(r.lastSweep) < r.cfg.SweepInterval {
		r.sweepMu.Unlock()
		return
	}
	r.lastSweep = time.Now()
	r.sweepMu.Unlock()

	iter, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyRoomMsgsPrefix),
		UpperBound: []byte(keyRoomMsgsPrefix + "\xff"),
	})
	if err != nil {
		logger.Log.Warn("sweep_iter_failed", zap.Error(err))
		return
	}
	var expired [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var rec roomMessagesRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			expired = append(expired, append([]byte(nil), iter.Key()...))
			continue
		}
		if time.Since(rec.SavedAt) > r.cfg.RetainFor {
			expired = append(expired, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Close(); err != nil {
		logger.Log.Warn("sweep_iter_close_failed", zap.Error(err))
	}
	for _, key := range expired {
		if err := r.db.Delete(key, pebble.NoSync); err != nil {
			logger.Log.Warn("sweep_delete_failed", zap.ByteString("key", key), zap.Error(err))
		}
	}
	if len(expired) > 0 {
		logger.Log.Info("cache_sweep_done", zap.Int("expired", len(expired)))
	}
}

// Flush forces all debounced writes out.
func (r *pebbleCacheRepository) Flush() {
	r.sched.Flush()
}

// Close flushes pending writes. The pebble handle itself is owned and
// closed by the caller that opened it.
func (r *pebbleCacheRepository) Close() error {
	r.sched.Close()
	return nil
}
