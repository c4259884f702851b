package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/francktshibala/bookbridge-speech/internal/cache"
	"github.com/francktshibala/bookbridge-speech/internal/models"
	"github.com/francktshibala/bookbridge-speech/internal/profiler"
)

// GapCounter reports how many audio gaps playback has hit so far.
// The playback engine satisfies it.
type GapCounter interface {
	GapCount() int64
}

// Monitor aggregates the reader's health signals into one snapshot and
// ships it to the origin. Reporting is fire and forget: a failed post is
// logged and the next interval tries again.
type Monitor struct {
	readerID string
	cache    *cache.Store
	tier     profiler.DeviceTier
	gaps     GapCounter

	originURL string
	apiKey    string
	client    *http.Client
}

func New(readerID string, store *cache.Store, tier profiler.DeviceTier, gaps GapCounter, originURL, apiKey string) *Monitor {
	return &Monitor{
		readerID:  readerID,
		cache:     store,
		tier:      tier,
		gaps:      gaps,
		originURL: originURL,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Snapshot builds the current stats view.
func (m *Monitor) Snapshot() models.ReaderStats {
	cs := m.cache.Stats()
	return models.ReaderStats{
		CacheHitRate:   cs.HitRate(),
		CacheWasteRate: cs.WasteRate(),
		ActiveTier:     m.tier.String(),
		AudioGapCount:  m.gaps.GapCount(),
	}
}

// Report posts the current snapshot to the origin.
func (m *Monitor) Report(ctx context.Context) error {
	body, err := json.Marshal(struct {
		ReaderID string             `json:"reader_id"`
		Stats    models.ReaderStats `json:"stats"`
	}{ReaderID: m.readerID, Stats: m.Snapshot()})
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	url := m.originURL + "/v1/stats/readers"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("X-API-Key", m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("stats post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("stats post returned %d", resp.StatusCode)
	}
	return nil
}

// Run reports on an interval until the context ends.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Report(ctx); err != nil {
				log.Printf("[Monitor] %v", err)
			}
		}
	}
}
