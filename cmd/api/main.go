package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/francktshibala/bookbridge-speech/internal/api"
	"github.com/francktshibala/bookbridge-speech/internal/config"
	"github.com/francktshibala/bookbridge-speech/internal/db"
	"github.com/francktshibala/bookbridge-speech/internal/queue"
	"github.com/francktshibala/bookbridge-speech/internal/services"
	"github.com/francktshibala/bookbridge-speech/internal/storage"
	"github.com/francktshibala/bookbridge-speech/internal/worker"
)

func main() {
	log.Println("Starting BookBridge Speech API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize object storage
	stor := storage.New(cfg.StorageURL, cfg.StorageServiceKey, cfg.StorageBucket)
	log.Println("Initialized audio storage")

	// Initialize services shared by the worker and the API
	contentSvc := services.NewContentService(cfg.ContentAPIURL, cfg.ContentAPIKey)

	// TTS provider: ElevenLabs preferred (real word timings), OpenAI and
	// Gemini as alternates with estimated timings
	var ttsSvc services.Synthesizer
	switch {
	case cfg.ElevenLabsKey != "":
		ttsSvc = services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
		log.Printf("TTS provider: ElevenLabs (voice: %s)", cfg.ElevenLabsVoiceID)
	case cfg.OpenAIKey != "":
		ttsSvc = services.NewOpenAIService(cfg.OpenAIKey, cfg.OpenAIVoice)
		log.Printf("TTS provider: OpenAI (voice: %s)", cfg.OpenAIVoice)
	case cfg.GeminiTTSEnabled:
		ttsSvc = services.NewGeminiService(cfg.GeminiKey, cfg.GeminiVoice)
		log.Printf("TTS provider: Gemini (voice: %s)", cfg.GeminiVoice)
	}

	w := worker.New(database, q, stor, contentSvc, ttsSvc,
		cfg.JobMaxAttempts, time.Duration(cfg.JobTimeoutSeconds)*time.Second)

	// Create API handler
	handler := api.NewHandler(database, q, stor, w)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	var c *cron.Cron
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)

		// Maintenance schedules: recover pending jobs whose Redis wake-up
		// was lost, and purge terminally failed jobs past retention
		c = cron.New()
		c.AddFunc("@every 30s", func() {
			w.SweepPending(workerCtx)
		})
		c.AddFunc("@hourly", func() {
			retention := time.Duration(cfg.FailedJobRetentionHours) * time.Hour
			n, err := database.PurgeFailedJobs(workerCtx, retention)
			if err != nil {
				log.Printf("[Cron] failed-job purge error: %v", err)
			} else if n > 0 {
				log.Printf("[Cron] purged %d failed jobs older than %s", n, retention)
			}
		})
		c.Start()
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	if c != nil {
		c.Stop()
	}
	if workerCancel != nil {
		workerCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
