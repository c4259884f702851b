package playback

import (
	"github.com/francktshibala/bookbridge-speech/internal/models"
)

// Segment is one playable unit: the audio payload of a chunk plus the
// timing metadata that drives word highlighting.
type Segment struct {
	Key         models.ChunkKey
	Audio       []byte
	Format      string
	DurationMs  int
	WordTimings models.WordTimings
}

// Listener is the boundary to the UI layer. Callbacks arrive from the
// engine's run loop and must return quickly; heavy work belongs on the
// caller's side.
type Listener interface {
	// OnWordHighlight fires when the highlighted word changes. Throttled
	// to the engine tick rate, never per audio-position update.
	OnWordHighlight(wordIndex int)

	OnSegmentStart(key models.ChunkKey)
	OnSegmentEnd(key models.ChunkKey)

	// OnAudioGap fires once per stall: the next segment was not ready
	// when the current one ended. Playback pauses at the boundary and
	// resumes on its own.
	OnAudioGap(key models.ChunkKey)

	// OnPlaybackError fires when a needed segment cannot be produced at
	// all (network loss with an empty cache).
	OnPlaybackError(err error)
}

// NopListener implements Listener with no-ops; embed it to pick only the
// callbacks you care about.
type NopListener struct{}

func (NopListener) OnWordHighlight(int)            {}
func (NopListener) OnSegmentStart(models.ChunkKey) {}
func (NopListener) OnSegmentEnd(models.ChunkKey)   {}
func (NopListener) OnAudioGap(models.ChunkKey)     {}
func (NopListener) OnPlaybackError(error)          {}
