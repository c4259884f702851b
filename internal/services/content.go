package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/francktshibala/bookbridge-speech/internal/models"
)

// ---------------------------------------------------------------------------
// Content collaborator client
// The leveled-text/book-storage system is external; this is the one call
// the generation pipeline needs from it.
// ---------------------------------------------------------------------------

// ChunkText is a leveled text chunk plus its authoritative word count.
// Timing indices from synthesis providers are clipped to WordCount.
type ChunkText struct {
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
}

type ContentService struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewContentService(baseURL, apiKey string) *ContentService {
	return &ContentService{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// GetChunkText fetches the text of one chunk at one reading level.
func (s *ContentService) GetChunkText(ctx context.Context, key models.ChunkKey) (*ChunkText, error) {
	url := fmt.Sprintf("%s/v1/books/%s/levels/%s/chunks/%d", s.baseURL, key.BookID, key.Level, key.ChunkIndex)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create content request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("content service returned status %d: %s", resp.StatusCode, string(body))
	}

	var chunk ChunkText
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return nil, fmt.Errorf("failed to decode chunk text: %w", err)
	}

	if chunk.Text == "" {
		return nil, fmt.Errorf("content service returned empty chunk for %s", key)
	}
	if chunk.WordCount == 0 {
		chunk.WordCount = CountWords(chunk.Text)
	}

	return &chunk, nil
}
