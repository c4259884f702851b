package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/francktshibala/bookbridge-speech/internal/cache"
	"github.com/francktshibala/bookbridge-speech/internal/models"
	"github.com/francktshibala/bookbridge-speech/internal/playback"
	"github.com/francktshibala/bookbridge-speech/internal/prefetch"
)

// SegmentSource feeds the playback engine: cache first, direct origin
// fetch on a miss. Direct fetches land in the cache too so a seek back
// does not refetch.
type SegmentSource struct {
	cache  *cache.Store
	client *Client
	bookID string
	level  models.ReadingLevel
}

func NewSegmentSource(store *cache.Store, cl *Client, bookID string, level models.ReadingLevel) *SegmentSource {
	return &SegmentSource{cache: store, client: cl, bookID: bookID, level: level}
}

func (s *SegmentSource) LoadSegment(ctx context.Context, index int) (*playback.Segment, error) {
	itemKey := prefetch.ItemKey{
		ContentType: prefetch.ContentAudio,
		BookID:      s.bookID,
		Level:       s.level,
		UnitIndex:   index,
	}
	chunk := models.ChunkKey{BookID: s.bookID, Level: s.level, ChunkIndex: index}

	var ca *ChunkAudio
	if data, ok := s.cache.Get(itemKey.String()); ok {
		decoded, err := DecodeChunkAudio(data)
		if err != nil {
			log.Printf("[Source] corrupt cache entry for %s: %v", itemKey, err)
		} else {
			ca = decoded
		}
	}

	if ca == nil {
		fetched, err := s.client.GetChunkAudio(ctx, chunk)
		if err != nil {
			return nil, err
		}
		ca = fetched

		if data, err := json.Marshal(ca); err == nil {
			if err := s.cache.Put(itemKey.String(), data); err != nil && !errors.Is(err, cache.ErrBudgetExceeded) {
				log.Printf("[Source] cache put failed for %s: %v", itemKey, err)
			}
		}
	}

	return &playback.Segment{
		Key:         chunk,
		Audio:       ca.Audio,
		Format:      ca.Format,
		DurationMs:  ca.DurationMs,
		WordTimings: ca.WordTimings,
	}, nil
}
