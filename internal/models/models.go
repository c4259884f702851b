package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ReadingLevel is a CEFR difficulty tier for simplified text, or "original"
// for the unmodified book text.
type ReadingLevel string

const (
	LevelOriginal ReadingLevel = "original"
	LevelA1       ReadingLevel = "a1"
	LevelA2       ReadingLevel = "a2"
	LevelB1       ReadingLevel = "b1"
	LevelB2       ReadingLevel = "b2"
	LevelC1       ReadingLevel = "c1"
	LevelC2       ReadingLevel = "c2"
)

// ChunkKey identifies one generatable unit of a book: a chunk of text at a
// reading level. It is the primary identity for generation jobs and audio
// assets system-wide.
type ChunkKey struct {
	BookID     string       `json:"book_id"`
	Level      ReadingLevel `json:"level"`
	ChunkIndex int          `json:"chunk_index"`
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.BookID, k.Level, k.ChunkIndex)
}

// WordTiming maps one spoken word to its position in the audio.
// Produced by the synthesis provider and normalized before persistence:
// indices past the source word count are clipped, duplicates merged.
type WordTiming struct {
	Word        string `json:"word"`
	StartTimeMs int    `json:"start_time_ms"`
	EndTimeMs   int    `json:"end_time_ms"`
	WordIndex   int    `json:"word_index"`
}

// WordTimings is stored as a JSONB column on audio_assets.
type WordTimings []WordTiming

func (t WordTimings) Value() (driver.Value, error) {
	return json.Marshal(t)
}

func (t *WordTimings) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, t)
}

// Models

// GenerationJob is one pending/processing/completed/failed synthesis task.
// At most one worker may hold a given ChunkKey in processing at a time;
// the claim is a compare-and-swap on status in the database.
type GenerationJob struct {
	ID            uuid.UUID    `json:"id"`
	BookID        string       `json:"book_id"`
	Level         ReadingLevel `json:"level"`
	ChunkIndex    int          `json:"chunk_index"`
	Status        JobStatus    `json:"status"`
	Attempts      int          `json:"attempts"`
	MaxAttempts   int          `json:"max_attempts"`
	VoiceID       *string      `json:"voice_id,omitempty"`
	LastError     *string      `json:"last_error,omitempty"`
	NextAttemptAt time.Time    `json:"next_attempt_at"`
	ClaimedAt     *time.Time   `json:"claimed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Key returns the job's chunk identity.
func (j *GenerationJob) Key() ChunkKey {
	return ChunkKey{BookID: j.BookID, Level: j.Level, ChunkIndex: j.ChunkIndex}
}

// Terminal reports whether the job has reached a final state.
func (j *GenerationJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// AudioAsset is the durable output of a completed GenerationJob. The audio
// payload itself lives in object storage; the row carries its address plus
// the word-timing metadata playback needs for highlighting.
type AudioAsset struct {
	ID              uuid.UUID    `json:"id"`
	JobID           uuid.UUID    `json:"job_id"`
	BookID          string       `json:"book_id"`
	Level           ReadingLevel `json:"level"`
	ChunkIndex      int          `json:"chunk_index"`
	StorageBucket   string       `json:"storage_bucket"`
	StoragePath     string       `json:"storage_path"`
	Format          string       `json:"format"` // "mp3", "wav"
	ByteSize        int64        `json:"byte_size"`
	DurationSeconds float64      `json:"duration_seconds"`
	WordCount       int          `json:"word_count"`
	WordTimings     WordTimings  `json:"word_timings"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Key returns the asset's chunk identity.
func (a *AudioAsset) Key() ChunkKey {
	return ChunkKey{BookID: a.BookID, Level: a.Level, ChunkIndex: a.ChunkIndex}
}

// Requests / responses

type EnqueueChunkRequest struct {
	BookID     string       `json:"book_id"`
	Level      ReadingLevel `json:"level"`
	ChunkIndex int          `json:"chunk_index"`
	VoiceID    *string      `json:"voice_id,omitempty"`
}

type EnqueueBookRequest struct {
	BookID     string       `json:"book_id"`
	Level      ReadingLevel `json:"level"`
	ChunkCount int          `json:"chunk_count"`
	VoiceID    *string      `json:"voice_id,omitempty"`
}

type EnqueueBookResponse struct {
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"` // already queued or already generated
}

type PurgeResponse struct {
	Purged int64 `json:"purged"`
}

// ReaderStats is the observability snapshot a reader reports and the
// operator dashboard consumes.
type ReaderStats struct {
	CacheHitRate   float64 `json:"cache_hit_rate"`
	CacheWasteRate float64 `json:"cache_waste_rate"`
	ActiveTier     string  `json:"active_tier"`
	AudioGapCount  int64   `json:"audio_gap_count"`
}
