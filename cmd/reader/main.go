package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/francktshibala/bookbridge-speech/internal/cache"
	"github.com/francktshibala/bookbridge-speech/internal/client"
	"github.com/francktshibala/bookbridge-speech/internal/config"
	"github.com/francktshibala/bookbridge-speech/internal/models"
	"github.com/francktshibala/bookbridge-speech/internal/monitor"
	"github.com/francktshibala/bookbridge-speech/internal/playback"
	"github.com/francktshibala/bookbridge-speech/internal/prefetch"
	"github.com/francktshibala/bookbridge-speech/internal/profiler"
)

// readerListener prints playback events (a real UI would render them)
// and keeps the prefetch window moving with the playback cursor.
type readerListener struct {
	playback.NopListener
	sched *prefetch.Scheduler

	mu  sync.Mutex
	pos prefetch.Position
}

func (l *readerListener) OnWordHighlight(wordIndex int) {
	fmt.Printf("\rword %d   ", wordIndex)
}

func (l *readerListener) OnSegmentStart(key models.ChunkKey) {
	fmt.Printf("\n-- %s --\n", key)

	pos := prefetch.Position{BookID: key.BookID, Level: key.Level, UnitIndex: key.ChunkIndex}
	l.mu.Lock()
	l.pos = pos
	l.mu.Unlock()
	l.sched.Schedule(pos)
}

func (l *readerListener) OnAudioGap(key models.ChunkKey) {
	fmt.Printf("\n[buffering after %s]\n", key)
}

func (l *readerListener) OnPlaybackError(err error) {
	fmt.Printf("\nplayback error: %v\n", err)
}

func (l *readerListener) position() prefetch.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos
}

func main() {
	var (
		bookID = flag.String("book", "", "book ID to read")
		level  = flag.String("level", "original", "reading level (original, a1..c2)")
		chunk  = flag.Int("chunk", 0, "chunk index to start at")
	)
	flag.Parse()

	if *bookID == "" {
		log.Fatal("usage: reader -book <id> [-level b1] [-chunk 0]")
	}

	cfg := config.LoadReader()

	// Classify the device once at startup; limits are re-derived from the
	// live network sample on every scheduling decision
	tier := profiler.ClassifyRuntime(cfg.DeviceMemoryMB)
	log.Printf("Device tier: %s (concurrency=%d distance=%d budget=%dMB)",
		tier, tier.MaxConcurrentFetches(), tier.PrefetchDistance(),
		tier.CacheByteBudget()/(1024*1024))

	sampler := profiler.NewSampler(profiler.StaticProbe{
		Info: profiler.NetworkInfo{EffectiveType: profiler.Net4G},
	})

	store := cache.New(tier.CacheByteBudget())

	cl := client.New(cfg.OriginAPIURL, cfg.OriginAPIKey, cfg.ContentAPIURL, cfg.ContentAPIKey)

	sched := prefetch.NewScheduler(store, cl, func() profiler.EffectiveLimits {
		return profiler.DeriveEffectiveLimits(tier, sampler.Current())
	})
	defer sched.Close()

	// Audio output: real device sink unless mocked out
	var out playback.Output
	if cfg.AudioOutputMock {
		out = playback.NewMockOutput()
		log.Println("Audio output: mock (no sound)")
	} else {
		real, err := playback.NewOtoOutput(24000, 1)
		if err != nil {
			log.Fatalf("Failed to open audio output: %v", err)
		}
		out = real
	}
	defer out.Close()

	source := client.NewSegmentSource(store, cl, *bookID, models.ReadingLevel(*level))
	listener := &readerListener{sched: sched, pos: prefetch.Position{
		BookID:    *bookID,
		Level:     models.ReadingLevel(*level),
		UnitIndex: *chunk,
	}}
	engine := playback.NewEngine(source, out, listener, playback.Config{})

	mon := monitor.New(uuid.NewString(), store, tier, engine,
		cfg.OriginAPIURL, cfg.OriginAPIKey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Periodic maintenance: resample the network, drop stale cache
	// entries, report stats upstream
	c := cron.New()
	c.AddFunc("@every 15s", func() { sampler.Resample() })
	c.AddFunc("@every 1m", func() { store.EvictExpired(cache.DefaultTTL) })
	c.AddFunc("@every 1m", func() {
		if err := mon.Report(ctx); err != nil {
			log.Printf("[Monitor] %v", err)
		}
	})
	c.Start()
	defer c.Stop()

	sched.Schedule(listener.position())

	// Replan the lookahead when the network profile changes; the listener
	// keeps it moving with playback
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sampler.Changes():
				sched.Schedule(listener.position())
			}
		}
	}()

	if err := engine.Play(ctx, *chunk); err != nil {
		log.Fatalf("Playback failed to start: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println()
	log.Println("Stopping reader...")
	engine.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = mon.Report(shutdownCtx)

	log.Println("Reader exited")
}
