package playback

import (
	"sort"

	"github.com/francktshibala/bookbridge-speech/internal/models"
)

// wordAt returns the index (into timings) of the word that should be
// highlighted at elapsedMs: the last entry whose start time is at or
// before the elapsed position. Returns -1 before the first word starts;
// past the final entry the last word stays highlighted until segment end.
//
// Timings are normalized upstream (sorted by start, unique indices), so a
// binary search is safe.
func wordAt(timings models.WordTimings, elapsedMs int) int {
	if len(timings) == 0 {
		return -1
	}

	// First entry with start > elapsed; the word before it is current
	i := sort.Search(len(timings), func(i int) bool {
		return timings[i].StartTimeMs > elapsedMs
	})
	return i - 1
}
