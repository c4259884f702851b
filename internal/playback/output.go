package playback

import (
	"sync"
	"time"
)

// Output is the platform audio sink. The engine owns sequencing and the
// highlight clock; the output only plays one segment at a time and reports
// its native playback position, which the engine reconciles against to
// correct wall-clock drift.
type Output interface {
	// Start begins playing a segment from its beginning. crossfadeMs
	// asks the sink to overlap the previous segment's tail by that much
	// to mask the boundary discontinuity; sinks may ignore it.
	Start(seg *Segment, crossfadeMs int) error

	// PositionMs reports the sink's position within the current segment.
	PositionMs() int

	Pause()
	Resume()

	// Stop discards the current segment immediately.
	Stop()

	Close() error
}

// MockOutput simulates a sink using wall-clock time. The playback tests
// and the AUDIO_OUTPUT_MOCK reader mode run on it. An optional drift
// skews the reported position to exercise the engine's reconciliation.
type MockOutput struct {
	mu sync.Mutex

	seg       *Segment
	startedAt time.Time
	pausedAt  time.Time
	paused    bool
	pausedFor time.Duration

	// DriftMs is added to every reported position.
	DriftMs int

	started []string // segment keys in start order, for assertions
}

func NewMockOutput() *MockOutput {
	return &MockOutput{}
}

func (m *MockOutput) Start(seg *Segment, crossfadeMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seg = seg
	m.startedAt = time.Now()
	m.paused = false
	m.pausedFor = 0
	m.started = append(m.started, seg.Key.String())
	return nil
}

func (m *MockOutput) PositionMs() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seg == nil {
		return 0
	}

	var elapsed time.Duration
	if m.paused {
		elapsed = m.pausedAt.Sub(m.startedAt) - m.pausedFor
	} else {
		elapsed = time.Since(m.startedAt) - m.pausedFor
	}

	pos := int(elapsed.Milliseconds()) + m.DriftMs
	if pos > m.seg.DurationMs {
		pos = m.seg.DurationMs
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

func (m *MockOutput) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused {
		m.paused = true
		m.pausedAt = time.Now()
	}
}

func (m *MockOutput) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		m.pausedFor += time.Since(m.pausedAt)
		m.paused = false
	}
}

func (m *MockOutput) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seg = nil
}

func (m *MockOutput) Close() error { return nil }

// Started returns the keys of segments started so far.
func (m *MockOutput) Started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.started))
	copy(out, m.started)
	return out
}
