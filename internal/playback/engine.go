package playback

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Source produces playable segments by index. Implementations consult the
// device cache first and fall back to a direct origin fetch on a miss; the
// engine only sees the result.
type Source interface {
	LoadSegment(ctx context.Context, index int) (*Segment, error)
}

// Config tunes the engine. Zero values pick the defaults.
type Config struct {
	// SlotCount is the size of the buffer ring (default 3): the playing
	// segment plus the lookahead being loaded behind it.
	SlotCount int

	// CrossfadeMs is the overlap hint for seamless handoffs (default 12).
	CrossfadeMs int

	// TickInterval is the highlight/clock update rate (default 100ms).
	// Highlight updates are throttled to this, never per position change.
	TickInterval time.Duration

	// ReconcileThresholdMs is how far the wall clock may drift from the
	// output's reported position before being snapped back (default 250).
	ReconcileThresholdMs int
}

func (c Config) withDefaults() Config {
	if c.SlotCount <= 0 {
		c.SlotCount = 3
	}
	if c.CrossfadeMs <= 0 {
		c.CrossfadeMs = 12
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.ReconcileThresholdMs <= 0 {
		c.ReconcileThresholdMs = 250
	}
	return c
}

type slotState int

const (
	slotLoading slotState = iota
	slotReady
	slotFailed
)

// slot is one ring entry. Ownership is explicit: the loader goroutine owns
// seg until it flips the slot to ready; after handoff the engine releases
// the slot and the buffer with it.
type slot struct {
	index  int
	state  slotState
	seg    *Segment
	err    error
	cancel context.CancelFunc
}

type engineState int

const (
	stateIdle engineState = iota
	statePlaying
	stateGap
	stateStopped
)

type cmdKind int

const (
	cmdSeek cmdKind = iota
	cmdStop
)

type command struct {
	kind  cmdKind
	index int
}

// Engine plays an ordered sequence of segments gaplessly and keeps the
// highlighted word aligned with real playback position. All sequencing
// runs on one loop goroutine; loads and the output sink are the only
// things that happen elsewhere.
type Engine struct {
	source   Source
	output   Output
	listener Listener
	cfg      Config

	mu      sync.Mutex
	slots   map[int]*slot
	state   engineState
	head    int // index of the segment currently playing (or pending)
	started bool

	// Transient cursor, destroyed and rebuilt on every transition/seek
	curSeg      *Segment
	curStart    time.Time
	lastWordPos int // index into WordTimings, monotonic within a segment
	highlighted int // last WordIndex reported to the listener

	gapCount    atomic.Int64
	gapReported bool

	// Listener callbacks queued under e.mu, delivered in order by the
	// run loop after it releases the lock
	pending []func()

	readyCh chan int
	cmdCh   chan command
	done    chan struct{}
}

// emitLocked queues a listener callback; callers hold e.mu.
func (e *Engine) emitLocked(fn func()) {
	e.pending = append(e.pending, fn)
}

// flush delivers queued callbacks. Only the run loop calls it, so events
// reach the listener in the order they happened.
func (e *Engine) flush() {
	e.mu.Lock()
	evs := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, fn := range evs {
		fn()
	}
}

func NewEngine(source Source, output Output, listener Listener, cfg Config) *Engine {
	if listener == nil {
		listener = NopListener{}
	}
	cfg = cfg.withDefaults()
	return &Engine{
		source:      source,
		output:      output,
		listener:    listener,
		cfg:         cfg,
		slots:       make(map[int]*slot),
		lastWordPos: -1,
		highlighted: -1,
		readyCh:     make(chan int, cfg.SlotCount*2),
		cmdCh:       make(chan command, 4),
		done:        make(chan struct{}),
	}
}

// Play starts playback at the given segment index and returns immediately;
// events arrive through the Listener. Play may be called once per Engine.
func (e *Engine) Play(ctx context.Context, startIndex int) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	go e.run(ctx, startIndex)
	return nil
}

// Seek jumps to an arbitrary segment: tears down the cursor, clears the
// ring, cancels stale loads, and reinitializes at the requested index.
func (e *Engine) Seek(index int) {
	select {
	case e.cmdCh <- command{kind: cmdSeek, index: index}:
	case <-e.done:
	}
}

// Stop ends playback and releases the ring.
func (e *Engine) Stop() {
	select {
	case e.cmdCh <- command{kind: cmdStop}:
	case <-e.done:
	}
}

// CurrentWord returns the WordIndex currently highlighted, or -1.
func (e *Engine) CurrentWord() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.highlighted
}

// GapCount returns how many audio gaps playback has hit so far.
func (e *Engine) GapCount() int64 {
	return e.gapCount.Load()
}

func (e *Engine) run(ctx context.Context, startIndex int) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.initAt(ctx, startIndex)

	for {
		select {
		case <-ctx.Done():
			e.teardown()
			return

		case cmd := <-e.cmdCh:
			switch cmd.kind {
			case cmdSeek:
				e.teardown()
				e.mu.Lock()
				e.state = stateIdle
				e.mu.Unlock()
				e.initAt(ctx, cmd.index)
			case cmdStop:
				e.teardown()
				return
			}

		case idx := <-e.readyCh:
			e.onSlotReady(ctx, idx)

		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// initAt builds the ring for index.. and waits (via readyCh) for the head.
func (e *Engine) initAt(ctx context.Context, index int) {
	e.mu.Lock()
	e.head = index
	e.state = stateGap   // nothing playing until the head slot is ready
	e.gapReported = true // initial buffering is not a mid-playback gap
	e.curSeg = nil
	e.lastWordPos = -1
	e.highlighted = -1
	e.mu.Unlock()

	e.fillRing(ctx)
}

// fillRing ensures a load is underway for every slot the ring should hold.
func (e *Engine) fillRing(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := e.head; i < e.head+e.cfg.SlotCount; i++ {
		if _, ok := e.slots[i]; ok {
			continue
		}

		loadCtx, cancel := context.WithCancel(ctx)
		s := &slot{index: i, state: slotLoading, cancel: cancel}
		e.slots[i] = s

		go func(s *slot) {
			seg, err := e.source.LoadSegment(loadCtx, s.index)

			e.mu.Lock()
			if e.slots[s.index] != s {
				// Slot removed by a seek while loading; drop the result
				e.mu.Unlock()
				return
			}
			if err != nil {
				s.state = slotFailed
				s.err = err
			} else {
				s.state = slotReady
				s.seg = seg
			}
			e.mu.Unlock()

			select {
			case e.readyCh <- s.index:
			default:
			}
		}(s)
	}
}

func (e *Engine) onSlotReady(ctx context.Context, idx int) {
	e.mu.Lock()

	s, ok := e.slots[idx]
	if !ok || idx != e.head || e.state != stateGap {
		e.mu.Unlock()
		return
	}

	if s.state == slotFailed {
		log.Printf("[Playback] cannot load segment %d: %v", idx, s.err)
		e.failLocked(idx, s.err)
		e.mu.Unlock()
		e.flush()
		return
	}
	if s.state != slotReady {
		e.mu.Unlock()
		return
	}

	// Resuming from a stall (or cold start): no crossfade, the segment
	// starts exactly at its beginning, no replay and no overlap.
	e.startSegmentLocked(s, 0)
	e.mu.Unlock()

	e.flush()
	e.fillRing(ctx)
}

// startSegmentLocked rebuilds the cursor around a ready slot and starts
// the sink. Callers hold e.mu.
func (e *Engine) startSegmentLocked(s *slot, crossfadeMs int) {
	if err := e.output.Start(s.seg, crossfadeMs); err != nil {
		s.state = slotFailed
		s.err = err
		e.emitLocked(func() {
			e.listener.OnPlaybackError(fmt.Errorf("output start failed: %w", err))
		})
		return
	}

	e.curSeg = s.seg
	e.curStart = time.Now()
	e.lastWordPos = -1
	e.highlighted = -1
	e.state = statePlaying
	e.gapReported = false

	key := s.seg.Key
	e.emitLocked(func() { e.listener.OnSegmentStart(key) })
}

func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	if e.state != statePlaying || e.curSeg == nil {
		e.mu.Unlock()
		return
	}

	elapsed := int(time.Since(e.curStart).Milliseconds())

	// Wall-clock timers drift; snap to the sink's native clock when the
	// two disagree by more than the threshold.
	pos := e.output.PositionMs()
	if diff := elapsed - pos; diff > e.cfg.ReconcileThresholdMs || diff < -e.cfg.ReconcileThresholdMs {
		elapsed = pos
		e.curStart = time.Now().Add(-time.Duration(pos) * time.Millisecond)
	}

	// Highlight: last word whose start has passed. Never moves backward
	// within a segment, even if reconciliation pulled the clock back.
	if i := wordAt(e.curSeg.WordTimings, elapsed); i > e.lastWordPos {
		e.lastWordPos = i
		e.highlighted = e.curSeg.WordTimings[i].WordIndex
		wordIndex := e.highlighted
		e.emitLocked(func() { e.listener.OnWordHighlight(wordIndex) })
	}

	if elapsed < e.curSeg.DurationMs {
		e.mu.Unlock()
		e.flush()
		return
	}

	// Natural end of the segment
	ended := e.curSeg
	e.emitLocked(func() { e.listener.OnSegmentEnd(ended.Key) })
	e.advanceLocked(ended)
	e.mu.Unlock()

	e.flush()
	e.fillRing(ctx)
}

// advanceLocked hands off from the finished head slot to the next one.
// Callers hold e.mu.
func (e *Engine) advanceLocked(ended *Segment) {
	// Release the finished slot and its buffer
	if s, ok := e.slots[e.head]; ok {
		s.cancel()
		delete(e.slots, e.head)
	}
	e.head++
	e.curSeg = nil

	next, ok := e.slots[e.head]
	if ok && next.state == slotReady {
		// Seamless handoff with a short crossfade to mask the boundary
		e.startSegmentLocked(next, e.cfg.CrossfadeMs)
		return
	}

	if ok && next.state == slotFailed {
		// The next segment cannot be produced: the source errored or the
		// sequence simply has no more segments. That ends playback; it is
		// not a stall, so no gap is counted.
		e.failLocked(e.head, next.err)
		return
	}

	// Still loading: pause at the boundary (never play silence) and
	// resume the moment the slot arrives. One gap event per stall.
	e.state = stateGap
	e.output.Pause()
	if !e.gapReported {
		e.gapReported = true
		e.gapCount.Add(1)
		key := ended.Key
		e.emitLocked(func() { e.listener.OnAudioGap(key) })
	}
}

// failLocked ends playback because the segment at index cannot be loaded.
// Callers hold e.mu.
func (e *Engine) failLocked(index int, err error) {
	e.state = stateStopped
	e.curSeg = nil
	e.output.Stop()
	e.emitLocked(func() {
		e.listener.OnPlaybackError(fmt.Errorf("segment %d unavailable: %w", index, err))
	})
}

// teardown cancels every slot load and stops the sink. The cursor does not
// survive: a later seek builds a fresh one.
func (e *Engine) teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for idx, s := range e.slots {
		s.cancel()
		delete(e.slots, idx)
	}
	e.curSeg = nil
	e.state = stateStopped
	e.output.Stop()
}
