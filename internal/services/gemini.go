package services

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Gemini Text-to-Speech Service
// Optional provider behind GEMINI_TTS_ENABLED. Uses the genai SDK's speech
// generation (audio response modality). The API returns 24kHz 16-bit PCM
// with no timing metadata, so word timings are estimated evenly.
// ---------------------------------------------------------------------------

const (
	geminiTTSModel     = "gemini-2.5-flash-preview-tts"
	geminiDefaultVoice = "Kore"

	// Output is s16le mono at 24kHz
	geminiSampleRate = 24000
	geminiBytesPerMs = geminiSampleRate * 2 / 1000
)

type GeminiService struct {
	apiKey string
	voice  string
}

// Ensure GeminiService implements Synthesizer at compile time.
var _ Synthesizer = (*GeminiService)(nil)

func NewGeminiService(apiKey, voice string) *GeminiService {
	if voice == "" {
		voice = geminiDefaultVoice
	}
	return &GeminiService{apiKey: apiKey, voice: voice}
}

// Synthesize converts text to speech via Gemini. Implements the Synthesizer
// interface. voiceID selects a prebuilt voice name when non-empty.
func (s *GeminiService) Synthesize(ctx context.Context, text, voiceID string) (*SpeechResult, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	voice := s.voice
	if voiceID != "" {
		voice = voiceID
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	log.Printf("[Gemini] Generating speech (model=%s, voice=%s, textLen=%d)", geminiTTSModel, voice, len(text))

	resp, err := client.Models.GenerateContent(ctx, geminiTTSModel, genai.Text(text), config)
	if err != nil {
		return nil, fmt.Errorf("gemini speech request failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini returned no audio candidates")
	}

	part := resp.Candidates[0].Content.Parts[0]
	if part.InlineData == nil || len(part.InlineData.Data) == 0 {
		return nil, fmt.Errorf("gemini returned empty audio")
	}

	audioData := part.InlineData.Data

	// PCM length gives an exact duration, unlike the text-based estimate
	durationMs := len(audioData) / geminiBytesPerMs

	log.Printf("[Gemini] Speech generated (%d bytes, %dms)", len(audioData), durationMs)

	return &SpeechResult{
		AudioData:   audioData,
		DurationMs:  durationMs,
		Format:      "pcm_24000",
		WordTimings: EstimateWordTimings(text, durationMs),
	}, nil
}
