package services

import (
	"context"
	"fmt"
	"io"
	"log"

	openai "github.com/sashabaranov/go-openai"
)

// ---------------------------------------------------------------------------
// OpenAI Text-to-Speech Service
// Fallback provider. The speech endpoint returns raw audio with no timing
// metadata, so word timings are estimated evenly across the chunk.
// ---------------------------------------------------------------------------

const openAISpeechSpeed = 0.9

type OpenAIService struct {
	client *openai.Client
	voice  openai.SpeechVoice
}

// Ensure OpenAIService implements Synthesizer at compile time.
var _ Synthesizer = (*OpenAIService)(nil)

func NewOpenAIService(apiKey, voice string) *OpenAIService {
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &OpenAIService{
		client: openai.NewClient(apiKey),
		voice:  openai.SpeechVoice(voice),
	}
}

// Synthesize converts text to speech using the OpenAI speech endpoint.
// Implements the Synthesizer interface.
func (s *OpenAIService) Synthesize(ctx context.Context, text, voiceID string) (*SpeechResult, error) {
	voice := s.voice
	if voiceID != "" {
		voice = openai.SpeechVoice(voiceID)
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          openAISpeechSpeed,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech request failed: %w", err)
	}
	defer resp.Close()

	audioData, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read openai audio response: %w", err)
	}
	if len(audioData) == 0 {
		return nil, fmt.Errorf("openai returned empty audio")
	}

	durationMs := EstimateDurationMs(text, openAISpeechSpeed)

	log.Printf("[OpenAI] Speech generated (voice=%s, %d bytes, estimated %dms)",
		voice, len(audioData), durationMs)

	return &SpeechResult{
		AudioData:   audioData,
		DurationMs:  durationMs,
		Format:      "mp3",
		WordTimings: EstimateWordTimings(text, durationMs),
	}, nil
}
