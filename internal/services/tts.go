package services

import (
	"context"

	"github.com/francktshibala/bookbridge-speech/internal/models"
)

// ---------------------------------------------------------------------------
// Synthesizer is the common interface for text-to-speech providers
// ElevenLabs, OpenAI and Gemini all implement this interface so the worker
// can use whichever is configured without knowing the underlying provider.
// ---------------------------------------------------------------------------

// SpeechResult is the common response type from any synthesis provider.
//
// WordTimings is the provider's raw timing report and is NOT trusted: some
// providers emit indices past the end of the source text and repeat indices
// mid-word. The worker runs NormalizeWordTimings before anything persists.
type SpeechResult struct {
	AudioData   []byte
	DurationMs  int
	Format      string // "mp3", "pcm_24000", etc.
	WordTimings models.WordTimings
}

// Synthesizer is the interface that any TTS provider must implement.
type Synthesizer interface {
	// Synthesize converts text to audio. voiceID overrides the provider's
	// default voice when non-empty. Providers that cannot report word-level
	// timestamps return evenly estimated timings instead.
	Synthesize(ctx context.Context, text, voiceID string) (*SpeechResult, error)
}
