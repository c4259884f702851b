package prefetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/francktshibala/bookbridge-speech/internal/cache"
	"github.com/francktshibala/bookbridge-speech/internal/models"
	"github.com/francktshibala/bookbridge-speech/internal/profiler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher records issued fetches and blocks each one until released.
type fakeFetcher struct {
	mu      sync.Mutex
	issued  []ItemKey
	release chan struct{}
	fail    map[ItemKey]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		release: make(chan struct{}),
		fail:    make(map[ItemKey]bool),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, key ItemKey) ([]byte, error) {
	f.mu.Lock()
	f.issued = append(f.issued, key)
	shouldFail := f.fail[key]
	f.mu.Unlock()

	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if shouldFail {
		return nil, errors.New("origin unavailable")
	}
	return []byte("audio-bytes"), nil
}

func (f *fakeFetcher) issuedKeys() []ItemKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ItemKey, len(f.issued))
	copy(out, f.issued)
	return out
}

func fixedLimits(concurrency, distance int) func() profiler.EffectiveLimits {
	return func() profiler.EffectiveLimits {
		return profiler.EffectiveLimits{
			Concurrency:      concurrency,
			PrefetchDistance: distance,
			CacheByteBudget:  1 << 20,
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func TestScheduleRespectsConcurrencyLimit(t *testing.T) {
	store := cache.New(1 << 20)
	fetcher := newFakeFetcher()
	s := NewScheduler(store, fetcher, fixedLimits(2, 6))
	defer s.Close()

	s.Schedule(Position{BookID: "alice", Level: models.LevelOriginal, UnitIndex: 0})

	waitFor(t, func() bool { return len(fetcher.issuedKeys()) == 2 })

	// No third fetch until one completes
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, fetcher.issuedKeys(), 2)

	close(fetcher.release)
	waitFor(t, func() bool { return len(fetcher.issuedKeys()) == 6 })
}

func TestCloserUnitsIssueFirst(t *testing.T) {
	store := cache.New(1 << 20)
	fetcher := newFakeFetcher()
	s := NewScheduler(store, fetcher, fixedLimits(1, 3))
	defer s.Close()

	s.Schedule(Position{BookID: "alice", Level: models.LevelOriginal, UnitIndex: 10})

	waitFor(t, func() bool { return len(fetcher.issuedKeys()) == 1 })
	assert.Equal(t, 11, fetcher.issuedKeys()[0].UnitIndex, "nearest unit should issue first")
}

func TestSimplifiedLevelStagesTextToo(t *testing.T) {
	store := cache.New(1 << 20)
	fetcher := newFakeFetcher()
	close(fetcher.release)
	s := NewScheduler(store, fetcher, fixedLimits(3, 2))
	defer s.Close()

	s.Schedule(Position{BookID: "alice", Level: models.LevelB1, UnitIndex: 0})

	waitFor(t, func() bool { return len(fetcher.issuedKeys()) == 4 })

	audio, text := 0, 0
	for _, k := range fetcher.issuedKeys() {
		switch k.ContentType {
		case ContentAudio:
			audio++
		case ContentText:
			text++
		}
	}
	assert.Equal(t, 2, audio)
	assert.Equal(t, 2, text)
}

func TestNoReEnqueueOfCachedOrInFlight(t *testing.T) {
	store := cache.New(1 << 20)
	fetcher := newFakeFetcher()
	s := NewScheduler(store, fetcher, fixedLimits(1, 2))
	defer s.Close()

	cached := ItemKey{ContentAudio, "alice", models.LevelOriginal, 1}
	require.NoError(t, store.Put(cached.String(), []byte("x")))

	s.Schedule(Position{BookID: "alice", Level: models.LevelOriginal, UnitIndex: 0})

	// Unit 1 is cached; only unit 2 should issue
	waitFor(t, func() bool { return len(fetcher.issuedKeys()) == 1 })
	assert.Equal(t, 2, fetcher.issuedKeys()[0].UnitIndex)

	// While unit 2 is in flight it is never both fetching and fetched
	inFlightKey := fetcher.issuedKeys()[0]
	assert.True(t, s.InFlight(inFlightKey))
	assert.False(t, store.Has(inFlightKey.String()))

	// Re-scheduling the same position adds nothing new
	s.Schedule(Position{BookID: "alice", Level: models.LevelOriginal, UnitIndex: 0})
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, fetcher.issuedKeys(), 1)

	close(fetcher.release)
	waitFor(t, func() bool { return store.Has(inFlightKey.String()) })
	assert.False(t, s.InFlight(inFlightKey))
}

func TestFailedFetchDroppedNotRetried(t *testing.T) {
	store := cache.New(1 << 20)
	fetcher := newFakeFetcher()
	s := NewScheduler(store, fetcher, fixedLimits(1, 1))
	defer s.Close()

	key := ItemKey{ContentAudio, "alice", models.LevelOriginal, 1}
	fetcher.fail[key] = true
	close(fetcher.release)

	s.Schedule(Position{BookID: "alice", Level: models.LevelOriginal, UnitIndex: 0})

	waitFor(t, func() bool { return s.Stats().Dropped == 1 })
	time.Sleep(30 * time.Millisecond)

	assert.Len(t, fetcher.issuedKeys(), 1, "failed fetch must not retry inline")
	assert.False(t, store.Has(key.String()))
	assert.False(t, s.InFlight(key))
}

func TestJumpDiscardsQueuedButNotInFlight(t *testing.T) {
	store := cache.New(1 << 20)
	fetcher := newFakeFetcher()
	s := NewScheduler(store, fetcher, fixedLimits(1, 4))
	defer s.Close()

	s.Schedule(Position{BookID: "alice", Level: models.LevelOriginal, UnitIndex: 0})
	waitFor(t, func() bool { return len(fetcher.issuedKeys()) == 1 })
	oldInFlight := fetcher.issuedKeys()[0]

	s.Jump(Position{BookID: "alice", Level: models.LevelOriginal, UnitIndex: 100})

	// The in-flight fetch completes and still lands in the cache
	close(fetcher.release)
	waitFor(t, func() bool { return store.Has(oldInFlight.String()) })

	// Everything issued after the jump belongs to the new trajectory
	waitFor(t, func() bool {
		keys := fetcher.issuedKeys()
		return len(keys) >= 2 && keys[len(keys)-1].UnitIndex > 100
	})
	for _, k := range fetcher.issuedKeys()[1:] {
		assert.Greater(t, k.UnitIndex, 100)
	}
	assert.Greater(t, s.Stats().Discarded, int64(0))
}
