// Package cache provides the bounded in-memory store for prefetched
// payloads (audio segments, serialized text chunks) on the device side.
package cache

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

var (
	// ErrBudgetExceeded is returned when a single payload alone exceeds
	// the byte budget. Non-fatal: the caller simply skips caching and
	// fetches the payload directly when needed.
	ErrBudgetExceeded = errors.New("payload exceeds cache byte budget")
)

// DefaultTTL is how long an entry may sit unused before it is purged as
// waste rather than evicted for space.
const DefaultTTL = 5 * time.Minute

// Stats holds cache performance counters for the observability snapshot.
type Stats struct {
	Budget      int64
	Size        int64
	ItemCount   int
	Hits        int64
	Misses      int64
	Evictions   int64
	WastedBytes int64 // bytes purged by TTL expiry without ever being re-read
	Rejected    int64 // oversized payloads refused outright

	insertedBytes int64
}

// HitRate is hits / (hits + misses).
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// WasteRate is wasted bytes relative to all bytes ever inserted.
func (s Stats) WasteRate() float64 {
	if s.insertedBytes == 0 {
		return 0
	}
	return float64(s.WastedBytes) / float64(s.insertedBytes)
}

type entry struct {
	key          string
	payload      []byte
	size         int64
	createdAt    time.Time
	lastAccessed time.Time
}

// Store is a byte-budgeted key/value store with true LRU eviction (by last
// access, not insertion order) and TTL expiry. All mutating operations are
// serialized behind one mutex: eviction-then-insert is not atomic
// otherwise and a race could exceed the byte budget.
type Store struct {
	mu sync.Mutex

	budget int64
	ttl    time.Duration
	size   int64

	items map[string]*list.Element
	lru   *list.List // front = most recently used

	stats Stats
	now   func() time.Time // injectable clock for tests
}

func New(budget int64) *Store {
	return NewWithTTL(budget, DefaultTTL)
}

func NewWithTTL(budget int64, ttl time.Duration) *Store {
	return &Store{
		budget: budget,
		ttl:    ttl,
		items:  make(map[string]*list.Element),
		lru:    list.New(),
		stats:  Stats{Budget: budget},
		now:    time.Now,
	}
}

// Put inserts a payload, evicting least-recently-used entries until the
// budget holds. A payload larger than the whole budget is rejected with
// ErrBudgetExceeded and nothing else changes.
func (s *Store) Put(key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked()

	size := int64(len(payload))
	if size > s.budget {
		s.stats.Rejected++
		return ErrBudgetExceeded
	}

	now := s.now()

	// Replace an existing entry in place
	if elem, ok := s.items[key]; ok {
		e := elem.Value.(*entry)
		s.size += size - e.size
		e.payload = payload
		e.size = size
		e.createdAt = now
		e.lastAccessed = now
		s.lru.MoveToFront(elem)
		s.evictForSpaceLocked()
		return nil
	}

	e := &entry{key: key, payload: payload, size: size, createdAt: now, lastAccessed: now}
	s.items[key] = s.lru.PushFront(e)
	s.size += size
	s.stats.insertedBytes += size

	s.evictForSpaceLocked()
	return nil
}

// Get returns a payload and refreshes its recency. Missing keys count as
// cache misses.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		s.stats.Misses++
		return nil, false
	}

	e := elem.Value.(*entry)
	if s.now().Sub(e.createdAt) > s.ttl {
		// Expired but never purged: count the waste and miss
		s.removeLocked(elem)
		s.stats.WastedBytes += e.size
		s.stats.Misses++
		return nil, false
	}

	e.lastAccessed = s.now()
	s.lru.MoveToFront(elem)
	s.stats.Hits++
	return e.payload, true
}

// Has reports presence without touching recency or hit/miss counters.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return false
	}
	return s.now().Sub(elem.Value.(*entry).createdAt) <= s.ttl
}

// EvictExpired purges entries older than maxAge, counting them as waste.
func (s *Store) EvictExpired(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.purgeOlderThanLocked(maxAge)
}

// SetBudget adjusts the byte budget (tier re-profiling) and evicts down to
// the new ceiling immediately.
func (s *Store) SetBudget(budget int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.budget = budget
	s.stats.Budget = budget
	s.evictForSpaceLocked()
}

// Size returns the current total payload bytes.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Stats returns a copy of the counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Size = s.size
	st.ItemCount = len(s.items)
	return st
}

// evictForSpaceLocked removes oldest-by-lastAccessed entries until the
// budget invariant holds again.
func (s *Store) evictForSpaceLocked() {
	for s.size > s.budget && s.lru.Len() > 0 {
		s.removeLocked(s.lru.Back())
		s.stats.Evictions++
	}
}

func (s *Store) purgeExpiredLocked() {
	s.purgeOlderThanLocked(s.ttl)
}

func (s *Store) purgeOlderThanLocked(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	purged := 0

	for elem := s.lru.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if e.createdAt.Before(cutoff) {
			s.removeLocked(elem)
			s.stats.WastedBytes += e.size
			purged++
		}
		elem = prev
	}

	return purged
}

func (s *Store) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	s.lru.Remove(elem)
	delete(s.items, e.key)
	s.size -= e.size
}
