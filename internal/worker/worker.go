package worker

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/francktshibala/bookbridge-speech/internal/db"
	"github.com/francktshibala/bookbridge-speech/internal/models"
	"github.com/francktshibala/bookbridge-speech/internal/queue"
	"github.com/francktshibala/bookbridge-speech/internal/services"
	"github.com/francktshibala/bookbridge-speech/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// Retry backoff: base * 2^(attempts-1), capped. Enforced through
	// next_attempt_at eligibility, never by sleeping a worker.
	backoffBase = 30 * time.Second
	backoffMax  = 5 * time.Minute

	// How many chunk rows an EnqueueBook call writes in parallel
	enqueueFanout = 8
)

// JobStore is the durable job/asset state the pipeline runs against.
// *db.DB implements it; tests substitute an in-memory twin.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.GenerationJob) (created bool, err error)
	GetJobByKey(ctx context.Context, key models.ChunkKey) (*models.GenerationJob, error)
	ClaimJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	CompleteJob(ctx context.Context, id uuid.UUID) error
	FailJob(ctx context.Context, id uuid.UUID, errMsg string, retryAfter time.Duration) (*models.GenerationJob, error)
	ListEligiblePending(ctx context.Context, limit int) ([]models.GenerationJob, error)
	CreateAsset(ctx context.Context, asset *models.AudioAsset) error
	HasAsset(ctx context.Context, key models.ChunkKey) (bool, error)
}

var _ JobStore = (*db.DB)(nil)

type Worker struct {
	db          JobStore
	queue       *queue.Queue
	storage     *storage.Storage
	content     *services.ContentService
	tts         services.Synthesizer
	maxAttempts int
	jobTimeout  time.Duration

	processed atomic.Int64
	failed    atomic.Int64
}

func New(
	database JobStore,
	q *queue.Queue,
	stor *storage.Storage,
	contentSvc *services.ContentService,
	ttsSvc services.Synthesizer,
	maxAttempts int,
	jobTimeout time.Duration,
) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{
		db:          database,
		queue:       q,
		storage:     stor,
		content:     contentSvc,
		tts:         ttsSvc,
		maxAttempts: maxAttempts,
		jobTimeout:  jobTimeout,
	}
}

// Start begins processing generation wake-ups with the given parallelism.
// Blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("Worker started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.processLoop(ctx)
	}

	<-ctx.Done()
	log.Println("Worker shutting down...")
}

func (w *Worker) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			wake, err := w.queue.Dequeue(ctx, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Error dequeuing wake-up: %v", err)
				continue
			}

			if wake == nil {
				continue // No wake-up available, retry
			}

			w.handleWakeUp(ctx, wake)
		}
	}
}

func (w *Worker) handleWakeUp(ctx context.Context, wake *queue.WakeUp) {
	// The claim is the single-flight gate: redelivered or duplicated
	// wake-ups lose the compare-and-swap and fall through here.
	job, err := w.db.ClaimJob(ctx, wake.JobID)
	if err != nil {
		log.Printf("Failed to claim job %s: %v", wake.JobID, err)
		return
	}
	if job == nil {
		log.Printf("Job %s not claimable (already processing, terminal, or backing off)", wake.JobID)
		return
	}

	log.Printf("Processing job %s (%s, attempt %d/%d)", job.ID, job.Key(), job.Attempts+1, job.MaxAttempts)

	// Bounded per-attempt timeout; a hung provider call becomes a
	// retryable failure instead of a stuck processing row.
	attemptCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	err = w.generate(attemptCtx, job)
	cancel()

	if err == nil {
		if err := w.db.CompleteJob(ctx, job.ID); err != nil {
			log.Printf("Failed to mark job %s completed: %v", job.ID, err)
			return
		}
		w.processed.Add(1)
		log.Printf("Job %s completed (%s)", job.ID, job.Key())
		return
	}

	log.Printf("Job %s failed: %v", job.ID, err)
	w.failed.Add(1)

	updated, ferr := w.db.FailJob(ctx, job.ID, err.Error(), backoffFor(job.Attempts+1))
	if ferr != nil {
		log.Printf("Failed to record failure for job %s: %v", job.ID, ferr)
		return
	}

	if updated.Status == models.JobStatusFailed {
		log.Printf("Job %s is terminally failed after %d attempts (%s)", job.ID, updated.Attempts, job.Key())
	}
}

// generate runs one synthesis attempt: fetch the chunk text, synthesize,
// normalize the timing report, upload the payload, write the asset row.
func (w *Worker) generate(ctx context.Context, job *models.GenerationJob) error {
	key := job.Key()

	chunk, err := w.content.GetChunkText(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to fetch chunk text: %w", err)
	}

	voiceID := ""
	if job.VoiceID != nil {
		voiceID = *job.VoiceID
	}

	speech, err := w.tts.Synthesize(ctx, chunk.Text, voiceID)
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}

	// The provider timing report is untrusted: overflowing indices are
	// clipped against the chunk's word count, duplicates merged.
	timings := services.NormalizeWordTimings(speech.WordTimings, chunk.WordCount)

	storagePath := w.storage.AudioPath(key, extensionFor(speech.Format))
	if err := w.storage.Upload(ctx, storagePath, speech.AudioData, contentTypeFor(speech.Format)); err != nil {
		return fmt.Errorf("failed to upload audio: %w", err)
	}

	asset := &models.AudioAsset{
		ID:              uuid.New(),
		JobID:           job.ID,
		BookID:          key.BookID,
		Level:           key.Level,
		ChunkIndex:      key.ChunkIndex,
		StorageBucket:   w.storage.Bucket,
		StoragePath:     storagePath,
		Format:          speech.Format,
		ByteSize:        int64(len(speech.AudioData)),
		DurationSeconds: float64(speech.DurationMs) / 1000.0,
		WordCount:       chunk.WordCount,
		WordTimings:     timings,
	}

	if err := w.db.CreateAsset(ctx, asset); err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}

	return nil
}

// EnqueueChunk creates (or finds) the job for one chunk and wakes a worker.
func (w *Worker) EnqueueChunk(ctx context.Context, key models.ChunkKey, voiceID *string) (*models.GenerationJob, bool, error) {
	job := &models.GenerationJob{
		ID:            uuid.New(),
		BookID:        key.BookID,
		Level:         key.Level,
		ChunkIndex:    key.ChunkIndex,
		Status:        models.JobStatusPending,
		MaxAttempts:   w.maxAttempts,
		VoiceID:       voiceID,
		NextAttemptAt: time.Now(),
	}

	created, err := w.db.CreateJob(ctx, job)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := w.db.GetJobByKey(ctx, key)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if err := w.queue.EnqueueGenerateAudio(ctx, job.ID, key); err != nil {
		// The sweep will pick the row up even though the wake-up was lost
		log.Printf("Failed to enqueue wake-up for job %s: %v", job.ID, err)
	}

	return job, true, nil
}

// EnqueueBook stages jobs for every chunk of a (book, level), skipping
// chunks that already have audio or a live job. Row writes fan out with a
// bounded errgroup.
func (w *Worker) EnqueueBook(ctx context.Context, bookID string, level models.ReadingLevel, chunkCount int, voiceID *string) (enqueued, skipped int, err error) {
	var enq, skip atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enqueueFanout)

	for i := 0; i < chunkCount; i++ {
		key := models.ChunkKey{BookID: bookID, Level: level, ChunkIndex: i}
		g.Go(func() error {
			exists, err := w.db.HasAsset(gctx, key)
			if err != nil {
				return err
			}
			if exists {
				skip.Add(1)
				return nil
			}

			_, created, err := w.EnqueueChunk(gctx, key, voiceID)
			if err != nil {
				return err
			}
			if created {
				enq.Add(1)
			} else {
				skip.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(enq.Load()), int(skip.Load()), fmt.Errorf("failed to enqueue book: %w", err)
	}

	log.Printf("Enqueued %d jobs for %s/%s (%d skipped)", enq.Load(), bookID, level, skip.Load())
	return int(enq.Load()), int(skip.Load()), nil
}

// SweepPending re-enqueues wake-ups for pending jobs whose backoff window
// has passed. Run on a timer; covers retries and lost Redis wake-ups.
func (w *Worker) SweepPending(ctx context.Context) {
	jobs, err := w.db.ListEligiblePending(ctx, 100)
	if err != nil {
		log.Printf("Sweep failed to list eligible jobs: %v", err)
		return
	}

	for _, job := range jobs {
		if err := w.queue.EnqueueGenerateAudio(ctx, job.ID, job.Key()); err != nil {
			log.Printf("Sweep failed to enqueue job %s: %v", job.ID, err)
		}
	}

	if len(jobs) > 0 {
		log.Printf("Sweep re-enqueued %d eligible jobs", len(jobs))
	}
}

// backoffFor returns the retry delay after the given attempt count.
func backoffFor(attempts int) time.Duration {
	d := backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}

func extensionFor(format string) string {
	switch format {
	case "pcm_24000":
		return "pcm"
	default:
		return format
	}
}

func contentTypeFor(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
