package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(n int) []byte {
	return make([]byte, n)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(1 << 20)

	require.NoError(t, s.Put("a", []byte("hello")))

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)

	_, ok = s.Get("missing")
	assert.False(t, ok)

	st := s.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
}

func TestBudgetNeverExceeded(t *testing.T) {
	s := New(100)

	// Arbitrary interleaving of puts and reads: size must hold the
	// invariant after every operation.
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%d", i%7)
		require.NoError(t, s.Put(key, payload(30)))
		if i%3 == 0 {
			s.Get(fmt.Sprintf("k%d", (i+1)%7))
		}
		assert.LessOrEqual(t, s.Size(), int64(100), "budget exceeded after op %d", i)
	}
}

func TestOversizedPayloadRejected(t *testing.T) {
	// 60MB payload into a 50MB budget: rejected, cache untouched, no panic.
	s := New(50 << 20)

	err := s.Put("huge", payload(60<<20))
	require.ErrorIs(t, err, ErrBudgetExceeded)

	assert.Equal(t, int64(0), s.Size())
	assert.False(t, s.Has("huge"))
	assert.Equal(t, int64(1), s.Stats().Rejected)
}

func TestEvictionIsLRUNotInsertionOrder(t *testing.T) {
	s := New(100)

	require.NoError(t, s.Put("first", payload(40)))
	require.NoError(t, s.Put("second", payload(40)))

	// Touch "first" so "second" becomes the least recently used
	_, ok := s.Get("first")
	require.True(t, ok)

	// 40 more bytes force one eviction: it must be "second"
	require.NoError(t, s.Put("third", payload(40)))

	assert.True(t, s.Has("first"))
	assert.False(t, s.Has("second"))
	assert.True(t, s.Has("third"))
}

func TestReplaceExistingKey(t *testing.T) {
	s := New(100)

	require.NoError(t, s.Put("k", payload(60)))
	require.NoError(t, s.Put("k", payload(80)))

	assert.Equal(t, int64(80), s.Size())

	got, ok := s.Get("k")
	require.True(t, ok)
	assert.Len(t, got, 80)
}

func TestTTLExpiryCountsAsWaste(t *testing.T) {
	s := NewWithTTL(1<<20, time.Minute)

	clock := time.Now()
	s.now = func() time.Time { return clock }

	require.NoError(t, s.Put("stale", payload(100)))

	clock = clock.Add(2 * time.Minute)

	// Proactive purge on the next Put
	require.NoError(t, s.Put("fresh", payload(10)))

	assert.False(t, s.Has("stale"))
	st := s.Stats()
	assert.Equal(t, int64(100), st.WastedBytes)
	assert.Equal(t, int64(0), st.Evictions, "TTL purges are waste, not evictions")
}

func TestEvictExpired(t *testing.T) {
	s := New(1 << 20)

	clock := time.Now()
	s.now = func() time.Time { return clock }

	require.NoError(t, s.Put("old", payload(50)))
	clock = clock.Add(10 * time.Second)
	require.NoError(t, s.Put("young", payload(50)))

	purged := s.EvictExpired(5 * time.Second)
	assert.Equal(t, 1, purged)
	assert.False(t, s.Has("old"))
	assert.True(t, s.Has("young"))
}

func TestSetBudgetShrinksImmediately(t *testing.T) {
	s := New(200)

	require.NoError(t, s.Put("a", payload(80)))
	require.NoError(t, s.Put("b", payload(80)))

	s.SetBudget(100)

	assert.LessOrEqual(t, s.Size(), int64(100))
	assert.True(t, s.Has("b"), "most recent entry should survive the shrink")
}

func TestHitAndWasteRates(t *testing.T) {
	s := New(1 << 20)

	require.NoError(t, s.Put("a", payload(10)))
	s.Get("a")
	s.Get("a")
	s.Get("nope")

	st := s.Stats()
	assert.InDelta(t, 2.0/3.0, st.HitRate(), 1e-9)
	assert.Equal(t, 0.0, st.WasteRate())
}
