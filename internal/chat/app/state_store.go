package app

import (
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Activity one user's ephemeral typing/recording state in a room
type Activity struct {
	Kind domain.ActivityKind
	At   time.Time
}

// Presence one user's online state
type Presence struct {
	Online   bool
	LastSeen time.Time
}

type reactionMark struct {
	fingerprint string
	at          time.Time
}

// reactionMarkCapacity bounds the suppression set; marks only matter
// within the suppression window so old entries are safe to evict
const reactionMarkCapacity = 512

// StateStore the single in-memory source of truth for rooms, message
// buckets, typing state and connection state. Every mutation runs under
// one lock and is written back to the durable cache (debounced) before
// observers are notified, so the HTTP sync path and the realtime path
// always observe one consistent state.
type StateStore struct {
	mu sync.Mutex

	currentUserID string

	rooms   map[string]domain.ChatRoom
	buckets map[string]*domain.MessageBucket

	typing   map[string]map[string]Activity
	presence map[string]Presence

	conn domain.ConnectionState

	syncedAt     map[string]time.Time
	activeRoomID string

	// deniedRooms holds ids of rooms deleted server-side so late
	// in-flight fetches for them are ignored
	deniedRooms map[string]struct{}

	// lastReaction backs duplicate reaction-event suppression
	lastReaction *lru.Cache[string, reactionMark]

	cache repository.CacheRepository

	listenersMu sync.Mutex
	listeners   []func()
}

// NewStateStore create the store with its durable cache write-back target.
func NewStateStore(currentUserID string, cache repository.CacheRepository) *StateStore {
	marks, _ := lru.New[string, reactionMark](reactionMarkCapacity)
	return &StateStore{
		currentUserID: currentUserID,
		rooms:         make(map[string]domain.ChatRoom),
		buckets:       make(map[string]*domain.MessageBucket),
		typing:        make(map[string]map[string]Activity),
		presence:      make(map[string]Presence),
		syncedAt:      make(map[string]time.Time),
		deniedRooms:   make(map[string]struct{}),
		lastReaction:  marks,
		conn:          domain.ConnectionState{State: domain.TransportDisconnected},
		cache:         cache,
	}
}

// Subscribe registers a change listener, invoked after every mutation.
func (s *StateStore) Subscribe(fn func()) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

func (s *StateStore) notify() {
	s.listenersMu.Lock()
	fns := append([]func(){}, s.listeners...)
	s.listenersMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// CurrentUserID the authenticated user the engine runs as
func (s *StateStore) CurrentUserID() string {
	return s.currentUserID
}

// Rooms snapshot of all rooms ordered by recent activity
func (s *StateStore) Rooms() []domain.ChatRoom {
	s.mu.Lock()
	out := make([]domain.ChatRoom, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	s.mu.Unlock()
	domain.SortRoomsByActivity(out)
	return out
}

// Room snapshot of one room, nil when unknown
func (s *StateStore) Room(roomID string) *domain.ChatRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return &r
}

// Bucket snapshot of one room's message bucket
func (s *StateStore) Bucket(roomID string) domain.MessageBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.buckets[roomID]
	if b == nil {
		return domain.MessageBucket{RoomID: roomID}
	}
	out := *b
	out.Messages = append([]domain.ChatMessage(nil), b.Messages...)
	return out
}

// ConnectionState snapshot of the realtime channel state
func (s *StateStore) ConnectionState() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// TypingIn snapshot of active typing entries for one room
func (s *StateStore) TypingIn(roomID string) map[string]Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Activity, len(s.typing[roomID]))
	for u, a := range s.typing[roomID] {
		out[u] = a
	}
	return out
}

// PresenceOf snapshot of one user's presence
func (s *StateStore) PresenceOf(userID string) Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence[userID]
}

// RoomDenied check the room was deleted and fetches for it are ignored
func (s *StateStore) RoomDenied(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.deniedRooms[roomID]
	return ok
}

// LastSynced the last successful message sync for the room
func (s *StateStore) LastSynced(roomID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncedAt[roomID]
}

// MarkSynced record a successful message sync for the room
func (s *StateStore) MarkSynced(roomID string) {
	s.mu.Lock()
	s.syncedAt[roomID] = time.Now()
	s.mu.Unlock()
}

// SetActiveRoom record the room currently open in the UI
func (s *StateStore) SetActiveRoom(roomID string) {
	s.mu.Lock()
	s.activeRoomID = roomID
	s.mu.Unlock()
}

// ActiveRoom the room currently open in the UI, empty when none
func (s *StateStore) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRoomID
}

// SetRooms replaces the room list with fresh server data, skipping rooms
// on the deny-list, and persists the result.
func (s *StateStore) SetRooms(rooms []domain.ChatRoom) {
	s.mu.Lock()
	s.rooms = make(map[string]domain.ChatRoom, len(rooms))
	for _, r := range rooms {
		if _, denied := s.deniedRooms[r.ID]; denied {
			continue
		}
		s.rooms[r.ID] = r
	}
	snapshot := s.roomsSnapshotLocked()
	s.mu.Unlock()

	s.cache.SaveRoomList(snapshot)
	s.notify()
}

// UpsertRoom inserts or replaces one room.
func (s *StateStore) UpsertRoom(room domain.ChatRoom) {
	s.mu.Lock()
	if _, denied := s.deniedRooms[room.ID]; denied {
		s.mu.Unlock()
		return
	}
	s.rooms[room.ID] = room
	snapshot := s.roomsSnapshotLocked()
	s.mu.Unlock()

	s.cache.SaveRoomList(snapshot)
	s.notify()
}

// RemoveRoom drops a room, deny-lists its id and purges its cache.
func (s *StateStore) RemoveRoom(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	delete(s.buckets, roomID)
	delete(s.typing, roomID)
	s.deniedRooms[roomID] = struct{}{}
	if s.activeRoomID == roomID {
		s.activeRoomID = ""
	}
	snapshot := s.roomsSnapshotLocked()
	s.mu.Unlock()

	s.cache.SaveRoomList(snapshot)
	s.cache.PurgeRoom(roomID)
	s.notify()
}

// ReplaceMessages overwrites a room's bucket with fresh server data and
// persists it. Provisional messages still in flight are carried over so
// a refresh cannot drop an unconfirmed send.
func (s *StateStore) ReplaceMessages(roomID string, msgs []domain.ChatMessage, hasMore bool, cursor string) {
	s.mu.Lock()
	if _, denied := s.deniedRooms[roomID]; denied {
		s.mu.Unlock()
		return
	}
	old := s.buckets[roomID]
	b := &domain.MessageBucket{RoomID: roomID, HasMore: hasMore, OldestCursor: cursor}
	for _, m := range msgs {
		b.Upsert(m)
	}
	if old != nil {
		for _, m := range old.Messages {
			if !m.Confirmed() && m.Status != domain.StatusFailed {
				b.Upsert(m)
			}
		}
	}
	s.buckets[roomID] = b
	snapshot := append([]domain.ChatMessage(nil), b.Messages...)
	s.mu.Unlock()

	s.cache.SaveRoomMessages(roomID, snapshot)
	s.notify()
}

// AppendOlderMessages merges an older history page into the bucket.
func (s *StateStore) AppendOlderMessages(roomID string, msgs []domain.ChatMessage, hasMore bool, cursor string) {
	s.mu.Lock()
	b := s.bucketLocked(roomID)
	for _, m := range msgs {
		b.Upsert(m)
	}
	b.HasMore = hasMore
	b.OldestCursor = cursor
	snapshot := append([]domain.ChatMessage(nil), b.Messages...)
	s.mu.Unlock()

	s.cache.SaveRoomMessages(roomID, snapshot)
	s.notify()
}

// InsertProvisional adds an optimistic message and touches the room's
// lastMessage denormalization.
func (s *StateStore) InsertProvisional(m domain.ChatMessage) {
	s.mu.Lock()
	b := s.bucketLocked(m.RoomID)
	b.Upsert(m)
	s.touchRoomLocked(m.RoomID, m)
	s.mu.Unlock()

	s.cache.AddMessage(m.RoomID, m)
	s.notify()
}

// UpdateMessage applies fn to one message, mirroring the change onto the
// room's lastMessage when it is the same logical message.
func (s *StateStore) UpdateMessage(roomID, key string, fn func(m *domain.ChatMessage)) bool {
	s.mu.Lock()
	b := s.bucketLocked(roomID)
	ok := b.Update(key, fn)
	var updated domain.ChatMessage
	if ok {
		if i := b.IndexByKey(key); i >= 0 {
			updated = b.Messages[i]
			s.mirrorLastMessageLocked(roomID, updated)
		}
	}
	s.mu.Unlock()

	if ok {
		s.cache.UpdateMessage(roomID, updated)
		s.notify()
	}
	return ok
}

// ApplyConfirmed folds the server's confirmation of an optimistic send
// into the bucket, replacing the provisional entry.
func (s *StateStore) ApplyConfirmed(roomID, tempID string, confirmed domain.ChatMessage) domain.ReconcileOutcome {
	// confirmation without a server id cannot be keyed, keep the
	// provisional instead of poisoning the bucket and cache
	if confirmed.ID == "" {
		return domain.ReconcileDropped
	}
	s.mu.Lock()
	b := s.bucketLocked(roomID)
	outcome := b.ReconcileConfirmed(tempID, confirmed)
	var final domain.ChatMessage
	if i := b.IndexByID(confirmed.ID); i >= 0 {
		final = b.Messages[i]
		s.touchRoomLocked(roomID, final)
	}
	s.mu.Unlock()

	s.cache.RemoveMessage(roomID, tempID)
	s.cache.AddMessage(roomID, final)
	s.notify()
	return outcome
}

// ApplyInbound folds a realtime-delivered message into the bucket,
// consuming a matching provisional and updating unread counters.
func (s *StateStore) ApplyInbound(m domain.ChatMessage, matchWindow time.Duration) {
	s.mu.Lock()
	if _, denied := s.deniedRooms[m.RoomID]; denied {
		s.mu.Unlock()
		return
	}
	b := s.bucketLocked(m.RoomID)
	b.ReconcileInbound(m, matchWindow)
	var final domain.ChatMessage
	if i := b.IndexByID(m.ID); i >= 0 {
		final = b.Messages[i]
	} else {
		final = m
	}
	s.touchRoomLocked(m.RoomID, final)
	if m.SenderID != s.currentUserID && s.activeRoomID != m.RoomID {
		if room, ok := s.rooms[m.RoomID]; ok {
			room.UnreadCount++
			s.rooms[m.RoomID] = room
		}
	}
	s.mu.Unlock()

	s.cache.AddMessage(m.RoomID, final)
	s.notify()
}

// DeleteMessage removes (for all) or hides (for one user) a message and
// recomputes the room's lastMessage when it was the deleted one.
func (s *StateStore) DeleteMessage(roomID, key string, forAll bool, hiddenFor string) {
	s.mu.Lock()
	b := s.bucketLocked(roomID)
	wasLast := false
	if room, ok := s.rooms[roomID]; ok && room.LastMessage != nil && room.LastMessage.Key() == key {
		wasLast = true
	}
	var hidden *domain.ChatMessage
	if forAll {
		b.Remove(key)
	} else {
		b.HideFor(key, hiddenFor)
		if i := b.IndexByKey(key); i >= 0 {
			m := b.Messages[i]
			hidden = &m
		}
	}
	if wasLast {
		if room, ok := s.rooms[roomID]; ok {
			room.LastMessage = b.Newest()
			if room.LastMessage != nil {
				room.UpdatedAt = room.LastMessage.CreatedAt
			}
			s.rooms[roomID] = room
		}
	}
	s.mu.Unlock()

	if forAll {
		s.cache.RemoveMessage(roomID, key)
	} else if hidden != nil {
		s.cache.UpdateMessage(roomID, *hidden)
	}
	s.notify()
}

// ApplyReactions replaces a message's reaction list with the server's
// authoritative list. A second delivery of an identical list within the
// suppression window is a no-op; returns whether the event was applied.
func (s *StateStore) ApplyReactions(roomID, messageID string, reactions []domain.Reaction, suppressFor time.Duration) bool {
	fp := domain.ReactionFingerprint(reactions)

	s.mu.Lock()
	if mark, ok := s.lastReaction.Get(messageID); ok {
		if mark.fingerprint == fp && time.Since(mark.at) < suppressFor {
			s.mu.Unlock()
			return false
		}
	}
	s.lastReaction.Add(messageID, reactionMark{fingerprint: fp, at: time.Now()})
	b := s.bucketLocked(roomID)
	var updated domain.ChatMessage
	ok := b.Update(messageID, func(m *domain.ChatMessage) {
		m.Reactions = reactions
		m.ReactionsRev = time.Now().UnixNano()
	})
	if ok {
		if i := b.IndexByID(messageID); i >= 0 {
			updated = b.Messages[i]
		}
	}
	s.mu.Unlock()

	if ok {
		s.cache.UpdateMessage(roomID, updated)
		s.notify()
	}
	return ok
}

// ApplyPoll replaces a poll message's payload (vote tallies).
func (s *StateStore) ApplyPoll(roomID, messageID string, poll domain.Poll) bool {
	return s.UpdateMessage(roomID, messageID, func(m *domain.ChatMessage) {
		p := poll
		m.Poll = &p
		m.ReactionsRev = time.Now().UnixNano()
	})
}

// ApplyStatus advances a message's delivery status, mirroring onto the
// room's lastMessage when relevant.
func (s *StateStore) ApplyStatus(roomID, messageID string, status domain.DeliveryStatus) bool {
	return s.UpdateMessage(roomID, messageID, func(m *domain.ChatMessage) {
		m.Status = status
	})
}

// MarkRoomRead zeroes the unread counter. Own outgoing messages advance
// to READ through message:status events when the recipient reads them.
func (s *StateStore) MarkRoomRead(roomID string) {
	s.mu.Lock()
	if room, ok := s.rooms[roomID]; ok {
		room.UnreadCount = 0
		s.rooms[roomID] = room
	}
	snapshot := s.roomsSnapshotLocked()
	s.mu.Unlock()

	s.cache.SaveRoomList(snapshot)
	s.notify()
}

// SetTyping updates the per-room per-user activity map. Only an explicit
// stop clears an entry.
func (s *StateStore) SetTyping(roomID, userID string, kind domain.ActivityKind, active bool) {
	s.mu.Lock()
	m, ok := s.typing[roomID]
	if !ok {
		m = make(map[string]Activity)
		s.typing[roomID] = m
	}
	if active {
		m[userID] = Activity{Kind: kind, At: time.Now()}
	} else {
		delete(m, userID)
	}
	s.mu.Unlock()
	s.notify()
}

// SetPresence updates one user's online state.
func (s *StateStore) SetPresence(userID string, online bool, lastSeen time.Time) {
	s.mu.Lock()
	s.presence[userID] = Presence{Online: online, LastSeen: lastSeen}
	s.mu.Unlock()
	s.notify()
}

// SetConnectionState records the realtime channel lifecycle transition.
func (s *StateStore) SetConnectionState(fn func(c *domain.ConnectionState)) {
	s.mu.Lock()
	fn(&s.conn)
	s.mu.Unlock()
	s.notify()
}

func (s *StateStore) bucketLocked(roomID string) *domain.MessageBucket {
	b, ok := s.buckets[roomID]
	if !ok {
		b = &domain.MessageBucket{RoomID: roomID}
		s.buckets[roomID] = b
	}
	return b
}

// touchRoomLocked refreshes the room's lastMessage/updatedAt when m is
// at least as recent.
func (s *StateStore) touchRoomLocked(roomID string, m domain.ChatMessage) {
	room, ok := s.rooms[roomID]
	if !ok {
		return
	}
	if room.LastMessage == nil ||
		!m.CreatedAt.Before(room.LastMessage.CreatedAt) ||
		room.LastMessage.Key() == m.Key() {
		msg := m
		room.LastMessage = &msg
		if m.CreatedAt.After(room.UpdatedAt) {
			room.UpdatedAt = m.CreatedAt
		}
		s.rooms[roomID] = room
	}
}

func (s *StateStore) mirrorLastMessageLocked(roomID string, m domain.ChatMessage) {
	room, ok := s.rooms[roomID]
	if !ok || room.LastMessage == nil {
		return
	}
	if room.LastMessage.Key() == m.Key() {
		msg := m
		room.LastMessage = &msg
		s.rooms[roomID] = room
	}
}

func (s *StateStore) roomsSnapshotLocked() []domain.ChatRoom {
	out := make([]domain.ChatRoom, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	domain.SortRoomsByActivity(out)
	return out
}
