// Package prefetch plans and issues background fetches of upcoming audio
// and text units, keeping the device cache warm ahead of the reader.
package prefetch

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/francktshibala/bookbridge-speech/internal/cache"
	"github.com/francktshibala/bookbridge-speech/internal/models"
	"github.com/francktshibala/bookbridge-speech/internal/profiler"
)

type ContentType string

const (
	ContentAudio ContentType = "audio"
	ContentText  ContentType = "text"
)

// ItemKey is the identity of one prefetchable unit. All results are keyed
// by identity, never by issue order: completions arrive out of order.
type ItemKey struct {
	ContentType ContentType
	BookID      string
	Level       models.ReadingLevel
	UnitIndex   int
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s:%s/%s/%d", k.ContentType, k.BookID, k.Level, k.UnitIndex)
}

// Item is one planned fetch. Higher priority items are issued sooner.
type Item struct {
	Key      ItemKey
	Priority int

	generation int // stamped at plan time; stale generations are discarded
	seq        int // FIFO tie-break within a priority
}

// Fetcher retrieves one unit's payload from the origin.
type Fetcher interface {
	Fetch(ctx context.Context, key ItemKey) ([]byte, error)
}

// Position is the reader's current location.
type Position struct {
	BookID    string
	Level     models.ReadingLevel
	UnitIndex int
}

// Stats counts scheduler activity for the observability snapshot.
type Stats struct {
	Planned   int64
	Fetched   int64
	Dropped   int64 // failed or timed out; never retried inline
	Discarded int64 // queued items superseded by a cursor jump
}

// Scheduler owns the prefetch pipeline: a priority queue of planned items,
// an in-flight set, and a drain loop bounded by the effective concurrency
// derived fresh for every cycle.
type Scheduler struct {
	cache   *cache.Store
	fetcher Fetcher

	// limits is consulted at every drain cycle so a network change is
	// reflected immediately; never cached across cycles.
	limits func() profiler.EffectiveLimits

	fetchTimeout time.Duration

	mu         sync.Mutex
	queue      itemHeap
	inFlight   map[ItemKey]struct{}
	active     int
	generation int
	seq        int
	stats      Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(store *cache.Store, fetcher Fetcher, limits func() profiler.EffectiveLimits) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cache:        store,
		fetcher:      fetcher,
		limits:       limits,
		fetchTimeout: 4 * time.Second,
		inFlight:     make(map[ItemKey]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Close stops issuing new fetches and waits for in-flight ones.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

// Schedule plans fetches for the units ahead of pos and starts draining.
// For each upcoming unit the audio payload is staged, plus the simplified
// text payload when the reading level is not the original. Closer units get
// higher priority.
func (s *Scheduler) Schedule(pos Position) {
	limits := s.limits()

	s.mu.Lock()
	for i := 1; i <= limits.PrefetchDistance; i++ {
		unit := pos.UnitIndex + i
		// Two slots per distance step keeps audio ahead of its text twin
		base := (limits.PrefetchDistance - i) * 2

		s.enqueueLocked(ItemKey{ContentAudio, pos.BookID, pos.Level, unit}, base+1)
		if pos.Level != models.LevelOriginal {
			s.enqueueLocked(ItemKey{ContentText, pos.BookID, pos.Level, unit}, base)
		}
	}
	s.mu.Unlock()

	s.drain()
}

// Jump discards all queued-but-unissued items for the old trajectory and
// replans from the new position. In-flight fetches are not cancelled
// (their results are idempotent and harmlessly cached) but they get no
// further priority.
func (s *Scheduler) Jump(pos Position) {
	s.mu.Lock()
	s.stats.Discarded += int64(s.queue.Len())
	s.queue = s.queue[:0]
	s.generation++
	s.mu.Unlock()

	s.Schedule(pos)
}

// Drain re-evaluates the issue budget. Called by Schedule and on fetch
// completion; also the right hook for a network-change event, since the
// effective concurrency may have changed.
func (s *Scheduler) Drain() {
	s.drain()
}

// InFlight reports whether a unit is currently being fetched.
func (s *Scheduler) InFlight(key ItemKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[key]
	return ok
}

// Stats returns a copy of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// enqueueLocked plans one item unless it is already planned, in flight, or
// cached. The in-flight and cache checks are the dedup invariant: a key is
// never both being fetched and fetched.
func (s *Scheduler) enqueueLocked(key ItemKey, priority int) {
	if _, ok := s.inFlight[key]; ok {
		return
	}
	if s.cache.Has(key.String()) {
		return
	}
	for _, it := range s.queue {
		if it.Key == key && it.generation == s.generation {
			return
		}
	}

	s.seq++
	heap.Push(&s.queue, &Item{
		Key:        key,
		Priority:   priority,
		generation: s.generation,
		seq:        s.seq,
	})
	s.stats.Planned++
}

// drain issues the highest-priority items while capacity remains.
func (s *Scheduler) drain() {
	limits := s.limits()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.active < limits.Concurrency && s.queue.Len() > 0 {
		item := heap.Pop(&s.queue).(*Item)
		if item.generation != s.generation {
			s.stats.Discarded++
			continue
		}
		// Planned before an in-flight or cache state change; re-check
		if _, ok := s.inFlight[item.Key]; ok {
			continue
		}
		if s.cache.Has(item.Key.String()) {
			continue
		}

		s.inFlight[item.Key] = struct{}{}
		s.active++
		s.wg.Add(1)
		go s.fetch(item.Key)
	}
}

// fetch runs one bounded fetch and stores the result. Failures are logged
// and dropped; playback re-fetches on demand if the unit is still needed.
func (s *Scheduler) fetch(key ItemKey) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.fetchTimeout)
	payload, err := s.fetcher.Fetch(ctx, key)
	cancel()

	s.mu.Lock()
	delete(s.inFlight, key)
	s.active--

	if err != nil {
		s.stats.Dropped++
		s.mu.Unlock()
		log.Printf("[Prefetch] dropped %s: %v", key, err)
		s.drain()
		return
	}

	if cerr := s.cache.Put(key.String(), payload); cerr != nil {
		// Oversized for the tier budget: not cached, fetched directly later
		log.Printf("[Prefetch] not caching %s: %v", key, cerr)
	}
	s.stats.Fetched++
	s.mu.Unlock()

	s.drain()
}

// itemHeap is a max-heap on priority with FIFO tie-break.
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) {
	*h = append(*h, x.(*Item))
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
