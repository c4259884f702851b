package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/francktshibala/bookbridge-speech/internal/models"
	"github.com/francktshibala/bookbridge-speech/internal/prefetch"
)

// ErrNotReady means the origin has no generated audio for the chunk yet.
// The prefetcher drops such items; playback treats it like any other miss.
var ErrNotReady = errors.New("audio not generated yet")

// ChunkAudio is one chunk's audio payload plus the timing metadata that
// rode along in the response headers. It doubles as the cache envelope:
// Fetch stores it JSON-encoded so a later cache hit restores everything
// playback needs without another round trip.
type ChunkAudio struct {
	Format      string             `json:"format"`
	DurationMs  int                `json:"duration_ms"`
	WordCount   int                `json:"word_count"`
	WordTimings models.WordTimings `json:"word_timings"`
	Audio       []byte             `json:"audio"`
}

// DecodeChunkAudio restores a cached envelope.
func DecodeChunkAudio(data []byte) (*ChunkAudio, error) {
	var ca ChunkAudio
	if err := json.Unmarshal(data, &ca); err != nil {
		return nil, fmt.Errorf("decode cached audio: %w", err)
	}
	return &ca, nil
}

// Client talks to the origin API (audio) and the content service (leveled
// text). Concurrent requests for the same chunk are collapsed into one.
type Client struct {
	baseURL    string
	apiKey     string
	contentURL string
	contentKey string
	client     *http.Client
	group      singleflight.Group
}

func New(originURL, originKey, contentURL, contentKey string) *Client {
	return &Client{
		baseURL:    originURL,
		apiKey:     originKey,
		contentURL: contentURL,
		contentKey: contentKey,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// GetChunkAudio fetches one chunk's audio from the origin. Duplicate
// concurrent calls for the same key share a single request.
func (c *Client) GetChunkAudio(ctx context.Context, key models.ChunkKey) (*ChunkAudio, error) {
	v, err, _ := c.group.Do("audio:"+key.String(), func() (interface{}, error) {
		return c.fetchAudio(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ChunkAudio), nil
}

func (c *Client) fetchAudio(ctx context.Context, key models.ChunkKey) (*ChunkAudio, error) {
	url := fmt.Sprintf("%s/v1/books/%s/levels/%s/chunks/%d/audio",
		c.baseURL, key.BookID, key.Level, key.ChunkIndex)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audio request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotReady
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("audio request returned %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio payload: %w", err)
	}

	ca := &ChunkAudio{
		Format: formatFor(resp.Header.Get("Content-Type")),
		Audio:  data,
	}

	var durationSec float64
	fmt.Sscanf(resp.Header.Get("X-Audio-Duration-Seconds"), "%f", &durationSec)
	ca.DurationMs = int(durationSec * 1000)
	fmt.Sscanf(resp.Header.Get("X-Word-Count"), "%d", &ca.WordCount)

	if raw := resp.Header.Get("X-Word-Timings"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &ca.WordTimings); err != nil {
			return nil, fmt.Errorf("invalid word timings header: %w", err)
		}
	}
	return ca, nil
}

// GetChunkText fetches one leveled text chunk from the content service.
func (c *Client) GetChunkText(ctx context.Context, key models.ChunkKey) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/books/%s/levels/%s/chunks/%d",
		c.contentURL, key.BookID, key.Level, key.ChunkIndex)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.contentKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.contentKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("text request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("text request returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Fetch implements prefetch.Fetcher. Audio payloads are stored as the
// ChunkAudio envelope; text payloads as the raw response body.
func (c *Client) Fetch(ctx context.Context, key prefetch.ItemKey) ([]byte, error) {
	chunk := models.ChunkKey{BookID: key.BookID, Level: key.Level, ChunkIndex: key.UnitIndex}

	switch key.ContentType {
	case prefetch.ContentAudio:
		ca, err := c.GetChunkAudio(ctx, chunk)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ca)
	case prefetch.ContentText:
		return c.GetChunkText(ctx, chunk)
	default:
		return nil, fmt.Errorf("unknown content type %q", key.ContentType)
	}
}

func formatFor(contentType string) string {
	switch contentType {
	case "audio/mpeg":
		return "mp3"
	case "audio/wav":
		return "wav"
	default:
		return "pcm_24000"
	}
}
