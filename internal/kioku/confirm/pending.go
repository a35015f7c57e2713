package confirm

import (
	"sync"
	"time"
)

// PendingStore holds at most one Pending per conversation. Set always
// replaces; nothing is merged.
type PendingStore interface {
	Set(conversationID int64, p Pending)
	Has(conversationID int64) bool
	Get(conversationID int64) (Pending, bool)
	Clear(conversationID int64)

	// Take returns and removes the entry in one step, so of two racing
	// callers only one receives it.
	Take(conversationID int64) (Pending, bool)

	// Len returns the number of live entries.
	Len() int
}

// MemoryPendingStore is the in-process PendingStore. Entries live until
// cleared or, when a TTL is set, until they are older than the TTL.
// Restarting the process drops every entry.
type MemoryPendingStore struct {
	mu      sync.Mutex
	entries map[int64]Pending
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryPendingStore creates an empty store. A ttl of zero disables
// expiry.
func NewMemoryPendingStore(ttl time.Duration) *MemoryPendingStore {
	return &MemoryPendingStore{
		entries: make(map[int64]Pending),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the clock used for stamping and expiry.
func (s *MemoryPendingStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Set stores p for conversationID, discarding any previous entry.
func (s *MemoryPendingStore) Set(conversationID int64, p Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.CreatedAt = s.now()
	s.entries[conversationID] = p
}

// Has reports whether a live entry exists.
func (s *MemoryPendingStore) Has(conversationID int64) bool {
	_, ok := s.Get(conversationID)
	return ok
}

// Get returns the live entry for conversationID.
func (s *MemoryPendingStore) Get(conversationID int64) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(conversationID)
}

// Clear removes the entry. No-op if absent.
func (s *MemoryPendingStore) Clear(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, conversationID)
}

// Take returns and removes the live entry for conversationID.
func (s *MemoryPendingStore) Take(conversationID int64) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lookup(conversationID)
	if ok {
		delete(s.entries, conversationID)
	}
	return p, ok
}

// Len returns the number of live entries.
func (s *MemoryPendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.entries)
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryPendingStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

// lookup must be called with mu held. Expired entries are removed.
func (s *MemoryPendingStore) lookup(conversationID int64) (Pending, bool) {
	p, ok := s.entries[conversationID]
	if !ok {
		return Pending{}, false
	}
	if s.expired(p) {
		delete(s.entries, conversationID)
		return Pending{}, false
	}
	return p, true
}

func (s *MemoryPendingStore) sweepLocked() int {
	n := 0
	for id, p := range s.entries {
		if s.expired(p) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *MemoryPendingStore) expired(p Pending) bool {
	return s.ttl > 0 && s.now().Sub(p.CreatedAt) > s.ttl
}

var _ PendingStore = (*MemoryPendingStore)(nil)
