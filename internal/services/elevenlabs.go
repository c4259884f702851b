package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
	"unicode"

	"github.com/francktshibala/bookbridge-speech/internal/models"
)

// ---------------------------------------------------------------------------
// ElevenLabs Text-to-Speech Service
// Uses the with-timestamps endpoint so word-level timing can be derived
// from the character alignment the API returns alongside the audio.
// Model: eleven_flash_v2_5 (Flash v2.5, fast, ~75ms latency)
// ---------------------------------------------------------------------------

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_flash_v2_5"
	elevenLabsDefaultVoice = "pNInz6obpgDQGcFmaJgB" // Default voice ID
	elevenLabsOutputFormat = "mp3_44100_128"
)

// ElevenLabsService handles text-to-speech via the ElevenLabs API.
type ElevenLabsService struct {
	apiKey  string
	voiceID string
	modelID string
	client  *http.Client
}

// Ensure ElevenLabsService implements Synthesizer at compile time.
var _ Synthesizer = (*ElevenLabsService)(nil)

// NewElevenLabsService creates an ElevenLabs service. voiceID may be empty,
// in which case the default voice is used.
func NewElevenLabsService(apiKey, voiceID string) *ElevenLabsService {
	if voiceID == "" {
		voiceID = elevenLabsDefaultVoice
	}
	return &ElevenLabsService{
		apiKey:  apiKey,
		voiceID: voiceID,
		modelID: elevenLabsDefaultModel,
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
	Speed         *float64                 `json:"speed,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

// elevenLabsTimestampResponse is the with-timestamps response: base64 audio
// plus a character alignment (parallel arrays, times in seconds).
type elevenLabsTimestampResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Alignment   struct {
		Characters             []string  `json:"characters"`
		CharacterStartsSeconds []float64 `json:"character_start_times_seconds"`
		CharacterEndsSeconds   []float64 `json:"character_end_times_seconds"`
	} `json:"alignment"`
}

// Synthesize converts text to speech and derives word timings from the
// returned character alignment. Implements the Synthesizer interface.
func (s *ElevenLabsService) Synthesize(ctx context.Context, text, voiceID string) (*SpeechResult, error) {
	// Use per-request voice override if provided, otherwise fall back to service default
	effectiveVoice := s.voiceID
	if voiceID != "" {
		effectiveVoice = voiceID
	}

	speed := 0.9 // Slightly slower for clear read-along narration
	reqBody := elevenLabsRequest{
		Text:    text,
		ModelID: s.modelID,
		Speed:   &speed,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       0.60,
			SimilarityBoost: 0.80,
			Style:           0.20,
			UseSpeakerBoost: true,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ElevenLabs request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/with-timestamps?output_format=%s",
		elevenLabsBaseURL, effectiveVoice, elevenLabsOutputFormat)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create ElevenLabs request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	log.Printf("[ElevenLabs] Generating speech (voiceID=%s, model=%s, textLen=%d)",
		effectiveVoice, s.modelID, len(text))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ElevenLabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ElevenLabs returned status %d: %s", resp.StatusCode, string(body))
	}

	var tsResp elevenLabsTimestampResponse
	if err := json.NewDecoder(resp.Body).Decode(&tsResp); err != nil {
		return nil, fmt.Errorf("failed to decode ElevenLabs response: %w", err)
	}

	audioData, err := base64.StdEncoding.DecodeString(tsResp.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ElevenLabs audio: %w", err)
	}
	if len(audioData) == 0 {
		return nil, fmt.Errorf("ElevenLabs returned empty audio")
	}

	timings, durationMs := wordTimingsFromAlignment(
		tsResp.Alignment.Characters,
		tsResp.Alignment.CharacterStartsSeconds,
		tsResp.Alignment.CharacterEndsSeconds,
	)
	if durationMs == 0 {
		durationMs = EstimateDurationMs(text, speed)
	}

	log.Printf("[ElevenLabs] Speech generated (%d bytes, %dms, %d word timings)",
		len(audioData), durationMs, len(timings))

	return &SpeechResult{
		AudioData:   audioData,
		DurationMs:  durationMs,
		Format:      "mp3",
		WordTimings: timings,
	}, nil
}

// wordTimingsFromAlignment folds a character alignment into word timings.
// A word runs from the first non-space character after a boundary to the
// last character before the next one. The alignment arrays are parallel;
// any length mismatch truncates to the shortest. The alignment is passed
// through as reported, including events past the source text; the worker's
// normalization pass is responsible for clipping those.
func wordTimingsFromAlignment(chars []string, starts, ends []float64) (models.WordTimings, int) {
	n := len(chars)
	if len(starts) < n {
		n = len(starts)
	}
	if len(ends) < n {
		n = len(ends)
	}
	if n == 0 {
		return nil, 0
	}

	var timings models.WordTimings
	var word []byte
	wordIndex := 0
	startMs, endMs := 0, 0

	flush := func() {
		if len(word) == 0 {
			return
		}
		timings = append(timings, models.WordTiming{
			Word:        string(word),
			StartTimeMs: startMs,
			EndTimeMs:   endMs,
			WordIndex:   wordIndex,
		})
		wordIndex++
		word = word[:0]
	}

	for i := 0; i < n; i++ {
		c := chars[i]
		if c == "" || isSpace(c) {
			flush()
			continue
		}
		if len(word) == 0 {
			startMs = int(starts[i] * 1000)
		}
		endMs = int(ends[i] * 1000)
		word = append(word, c...)
	}
	flush()

	return timings, int(ends[n-1] * 1000)
}

func isSpace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
