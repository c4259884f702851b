package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francktshibala/bookbridge-speech/internal/cache"
	"github.com/francktshibala/bookbridge-speech/internal/models"
	"github.com/francktshibala/bookbridge-speech/internal/profiler"
)

type fixedGaps int64

func (g fixedGaps) GapCount() int64 { return int64(g) }

func TestSnapshotAggregatesSignals(t *testing.T) {
	store := cache.New(1 << 20)
	require.NoError(t, store.Put("a", make([]byte, 100)))
	store.Get("a")
	store.Get("missing")

	m := New("reader-1", store, profiler.TierMid, fixedGaps(3), "http://unused", "")
	snap := m.Snapshot()

	assert.InDelta(t, 0.5, snap.CacheHitRate, 0.001)
	assert.Equal(t, "mid", snap.ActiveTier)
	assert.Equal(t, int64(3), snap.AudioGapCount)
}

func TestReportPostsSnapshot(t *testing.T) {
	var got struct {
		ReaderID string             `json:"reader_id"`
		Stats    models.ReaderStats `json:"stats"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/stats/readers", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	store := cache.New(1 << 20)
	m := New("reader-1", store, profiler.TierLow, fixedGaps(1), srv.URL, "secret")

	require.NoError(t, m.Report(context.Background()))
	assert.Equal(t, "reader-1", got.ReaderID)
	assert.Equal(t, "low", got.Stats.ActiveTier)
}
