package services

import (
	"log"
	"sort"
	"strings"

	"github.com/francktshibala/bookbridge-speech/internal/models"
)

// CountWords returns the number of whitespace-separated words in a chunk.
// This is the authoritative word count that timing indices are clipped to.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// EstimateDurationMs estimates spoken duration from text length and speed.
// Average narration rate is ~140 words per minute at normal speed.
func EstimateDurationMs(text string, speed float64) int {
	words := CountWords(text)
	baseWPM := 140.0

	// Lower speed = fewer WPM = longer duration
	actualWPM := baseWPM * speed

	minutes := float64(words) / actualWPM
	return int(minutes * 60 * 1000)
}

// EstimateWordTimings spreads the words of text evenly across durationMs.
// Used by providers that return audio without timestamp metadata; the
// highlight cursor then advances at a constant rate through the chunk.
func EstimateWordTimings(text string, durationMs int) models.WordTimings {
	words := strings.Fields(text)
	if len(words) == 0 || durationMs <= 0 {
		return nil
	}

	per := float64(durationMs) / float64(len(words))
	timings := make(models.WordTimings, len(words))
	for i, w := range words {
		timings[i] = models.WordTiming{
			Word:        w,
			StartTimeMs: int(float64(i) * per),
			EndTimeMs:   int(float64(i+1) * per),
			WordIndex:   i,
		}
	}
	return timings
}

// NormalizeWordTimings makes a provider timing report safe for playback:
//
//   - entries are sorted by start time ascending
//   - entries whose WordIndex falls outside [0, wordCount) are discarded
//     (providers have been observed reporting events past the final word)
//   - repeated WordIndex values are merged into one continuing word,
//     keeping the earliest start and the latest end
//
// Overlap between consecutive words (end[i] > start[i+1]) is left alone;
// the highlight lookup only depends on start times.
func NormalizeWordTimings(raw models.WordTimings, wordCount int) models.WordTimings {
	if len(raw) == 0 {
		return nil
	}

	merged := make(map[int]models.WordTiming, len(raw))
	dropped := 0
	for _, t := range raw {
		if t.WordIndex < 0 || t.WordIndex >= wordCount {
			dropped++
			continue
		}
		if prev, ok := merged[t.WordIndex]; ok {
			// Same word continuing, not an error
			if t.StartTimeMs < prev.StartTimeMs {
				prev.StartTimeMs = t.StartTimeMs
			}
			if t.EndTimeMs > prev.EndTimeMs {
				prev.EndTimeMs = t.EndTimeMs
			}
			merged[t.WordIndex] = prev
			continue
		}
		merged[t.WordIndex] = t
	}

	if dropped > 0 {
		log.Printf("[Timing] dropped %d timing entries past word count %d", dropped, wordCount)
	}

	out := make(models.WordTimings, 0, len(merged))
	for _, t := range merged {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTimeMs != out[j].StartTimeMs {
			return out[i].StartTimeMs < out[j].StartTimeMs
		}
		return out[i].WordIndex < out[j].WordIndex
	})

	return out
}
