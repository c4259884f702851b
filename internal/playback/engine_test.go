package playback

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francktshibala/bookbridge-speech/internal/models"
)

// fakeSource serves pre-built segments. A segment can be held back behind
// a channel to simulate a slow fetch, or made to fail outright.
type fakeSource struct {
	mu    sync.Mutex
	segs  map[int]*Segment
	hold  map[int]chan struct{}
	fail  map[int]error
	loads []int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		segs: make(map[int]*Segment),
		hold: make(map[int]chan struct{}),
		fail: make(map[int]error),
	}
}

func (f *fakeSource) add(index, durationMs, words int) {
	timings := make(models.WordTimings, words)
	step := durationMs / words
	for i := 0; i < words; i++ {
		timings[i] = models.WordTiming{
			Word:        fmt.Sprintf("w%d", i),
			StartTimeMs: i * step,
			EndTimeMs:   (i + 1) * step,
			WordIndex:   i,
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segs[index] = &Segment{
		Key:         models.ChunkKey{BookID: "alice", Level: models.LevelOriginal, ChunkIndex: index},
		Audio:       []byte{0x01},
		Format:      "mp3",
		DurationMs:  durationMs,
		WordTimings: timings,
	}
}

func (f *fakeSource) holdBack(index int) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.hold[index] = ch
	return ch
}

func (f *fakeSource) LoadSegment(ctx context.Context, index int) (*Segment, error) {
	f.mu.Lock()
	f.loads = append(f.loads, index)
	gate := f.hold[index]
	err := f.fail[index]
	seg := f.segs[index]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, fmt.Errorf("no segment %d", index)
	}
	return seg, nil
}

func (f *fakeSource) loaded() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.loads))
	copy(out, f.loads)
	return out
}

// recListener records every callback as one ordered event log.
type recListener struct {
	mu     sync.Mutex
	events []string
	words  []int
	gaps   int
	errs   []error
}

func (r *recListener) OnWordHighlight(wordIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("word:%d", wordIndex))
	r.words = append(r.words, wordIndex)
}

func (r *recListener) OnSegmentStart(key models.ChunkKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "start:"+key.String())
}

func (r *recListener) OnSegmentEnd(key models.ChunkKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "end:"+key.String())
}

func (r *recListener) OnAudioGap(key models.ChunkKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "gap:"+key.String())
	r.gaps++
}

func (r *recListener) OnPlaybackError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "error")
	r.errs = append(r.errs, err)
}

func (r *recListener) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recListener) has(ev string) bool {
	for _, e := range r.log() {
		if e == ev {
			return true
		}
	}
	return false
}

func (r *recListener) count(ev string) int {
	n := 0
	for _, e := range r.log() {
		if e == ev {
			n++
		}
	}
	return n
}

// wordsPerSegment splits the highlight stream on segment starts.
func wordsPerSegment(events []string) [][]int {
	var out [][]int
	for _, ev := range events {
		if len(ev) > 6 && ev[:6] == "start:" {
			out = append(out, nil)
			continue
		}
		var w int
		if _, err := fmt.Sscanf(ev, "word:%d", &w); err == nil && len(out) > 0 {
			out[len(out)-1] = append(out[len(out)-1], w)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func fastConfig() Config {
	return Config{TickInterval: 5 * time.Millisecond}
}

func TestGaplessHandoffInOrder(t *testing.T) {
	src := newFakeSource()
	src.add(0, 150, 3)
	src.add(1, 150, 3)
	src.add(2, 150, 3)

	out := NewMockOutput()
	rec := &recListener{}
	e := NewEngine(src, out, rec, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Play(ctx, 0))
	defer e.Stop()

	waitFor(t, func() bool { return rec.has("end:alice/original/2") })

	assert.Equal(t, []string{"alice/original/0", "alice/original/1", "alice/original/2"}, out.Started())
	assert.Equal(t, 1, rec.count("start:alice/original/1"))
	assert.Zero(t, e.GapCount())
}

func TestEveryWordHighlightedInOrder(t *testing.T) {
	src := newFakeSource()
	src.add(0, 250, 5)
	src.add(1, 250, 5)

	out := NewMockOutput()
	rec := &recListener{}
	e := NewEngine(src, out, rec, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Play(ctx, 0))
	defer e.Stop()

	waitFor(t, func() bool { return rec.has("end:alice/original/1") })

	// Each segment's highlights start at word 0, advance strictly, and
	// reach the last word before the segment ends
	perSeg := wordsPerSegment(rec.log())
	require.Len(t, perSeg, 2)
	for _, words := range perSeg {
		require.NotEmpty(t, words)
		assert.Equal(t, 0, words[0])
		assert.Equal(t, 4, words[len(words)-1])
		for i := 1; i < len(words); i++ {
			assert.Greater(t, words[i], words[i-1])
		}
	}
}

func TestHighlightMonotonicUnderDrift(t *testing.T) {
	src := newFakeSource()
	src.add(0, 300, 6)

	out := NewMockOutput()
	out.DriftMs = -60 // sink lags the wall clock, reconciliation pulls back
	rec := &recListener{}
	e := NewEngine(src, out, rec, Config{TickInterval: 5 * time.Millisecond, ReconcileThresholdMs: 20})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Play(ctx, 0))
	defer e.Stop()

	waitFor(t, func() bool { return rec.has("end:alice/original/0") })

	rec.mu.Lock()
	words := append([]int(nil), rec.words...)
	rec.mu.Unlock()

	require.NotEmpty(t, words)
	for i := 1; i < len(words); i++ {
		assert.Greater(t, words[i], words[i-1], "highlight went backward at %d", i)
	}
}

func TestGapFiresOnceAndResumesWithoutReplay(t *testing.T) {
	src := newFakeSource()
	src.add(0, 100, 2)
	src.add(1, 100, 2)
	gate := src.holdBack(1)

	out := NewMockOutput()
	rec := &recListener{}
	e := NewEngine(src, out, rec, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Play(ctx, 0))
	defer e.Stop()

	// Segment 0 ends while 1 is still held back: exactly one gap
	waitFor(t, func() bool { return rec.gapCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), e.GapCount())
	assert.Equal(t, 1, rec.count("gap:alice/original/0"))
	assert.Equal(t, []string{"alice/original/0"}, out.Started())

	close(gate)

	waitFor(t, func() bool { return rec.has("end:alice/original/1") })
	assert.Equal(t, []string{"alice/original/0", "alice/original/1"}, out.Started())
	assert.Equal(t, int64(1), e.GapCount())

	// Resume starts segment 1 fresh: its highlights begin at word 0 and
	// nothing from segment 0 is replayed after the gap
	perSeg := wordsPerSegment(rec.log())
	require.Len(t, perSeg, 2)
	require.NotEmpty(t, perSeg[1])
	assert.Equal(t, 0, perSeg[1][0])
}

func (r *recListener) gapCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gaps
}

func TestSeekDiscardsRingAndRestarts(t *testing.T) {
	src := newFakeSource()
	src.add(0, 60_000, 10) // long enough that it never finishes on its own
	src.add(1, 100, 2)
	src.add(2, 100, 2)
	src.add(5, 100, 2)
	src.add(6, 100, 2)
	src.add(7, 100, 2)

	out := NewMockOutput()
	rec := &recListener{}
	e := NewEngine(src, out, rec, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Play(ctx, 0))
	defer e.Stop()

	waitFor(t, func() bool { return rec.has("start:alice/original/0") })

	e.Seek(5)
	waitFor(t, func() bool { return rec.has("start:alice/original/5") })

	// The new ring loads the seek target's window
	loads := src.loaded()
	assert.Contains(t, loads, 5)
	assert.Contains(t, loads, 6)
	assert.Contains(t, loads, 7)

	waitFor(t, func() bool { return rec.has("end:alice/original/5") })
	started := out.Started()
	require.GreaterOrEqual(t, len(started), 2)
	assert.Equal(t, "alice/original/0", started[0])
	assert.Equal(t, "alice/original/5", started[1])
}

func TestSequenceEndIsNotAGap(t *testing.T) {
	src := newFakeSource()
	src.add(0, 100, 2)
	src.add(1, 100, 2)
	// No segment 2: the book ends after two chunks

	out := NewMockOutput()
	rec := &recListener{}
	e := NewEngine(src, out, rec, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Play(ctx, 0))
	defer e.Stop()

	waitFor(t, func() bool { return rec.has("end:alice/original/1") })
	waitFor(t, func() bool { return rec.has("error") })

	// Running out of segments ends playback; it never counts as a stall
	assert.Zero(t, e.GapCount())
	assert.Equal(t, 0, rec.gapCount())
	assert.Equal(t, []string{"alice/original/0", "alice/original/1"}, out.Started())
}

func TestUnloadableSegmentSurfacesError(t *testing.T) {
	src := newFakeSource()
	src.fail[0] = fmt.Errorf("origin unreachable")

	out := NewMockOutput()
	rec := &recListener{}
	e := NewEngine(src, out, rec, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Play(ctx, 0))
	defer e.Stop()

	waitFor(t, func() bool { return rec.has("error") })
	assert.Empty(t, out.Started())
}
