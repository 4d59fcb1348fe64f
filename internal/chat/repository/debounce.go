package repository

import (
	"sync"
	"time"
)

// writeScheduler coalesces rapid mutations into one persisted write per
// room. Timers are keyed by room id so rooms never contend with each
// other; scheduling again within the window replaces the pending write.
type writeScheduler struct {
	delay time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]func()
	closed  bool
}

func newWriteScheduler(delay time.Duration) *writeScheduler {
	return &writeScheduler{
		delay:   delay,
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]func()),
	}
}

// Schedule queues fn to run after the debounce window, replacing any
// write already pending for the room.
func (s *writeScheduler) Schedule(roomID string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending[roomID] = fn
	if t, ok := s.timers[roomID]; ok {
		t.Reset(s.delay)
		return
	}
	s.timers[roomID] = time.AfterFunc(s.delay, func() {
		s.fire(roomID)
	})
}

func (s *writeScheduler) fire(roomID string) {
	s.mu.Lock()
	fn := s.pending[roomID]
	delete(s.pending, roomID)
	delete(s.timers, roomID)
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Flush runs every pending write immediately.
func (s *writeScheduler) Flush() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.pending))
	for roomID, fn := range s.pending {
		if t, ok := s.timers[roomID]; ok {
			t.Stop()
		}
		fns = append(fns, fn)
		delete(s.pending, roomID)
		delete(s.timers, roomID)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Close stops all timers, flushing pending writes first.
func (s *writeScheduler) Close() {
	s.Flush()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
