package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/francktshibala/bookbridge-speech/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueueGenerateAudio = "queue:generate_audio"
)

// Queue carries wake-ups for the generation workers. Redis only wakes
// workers; the Postgres row is authoritative and the claim there is what
// prevents duplicate work, so a lost or duplicated wake-up is harmless.
type Queue struct {
	client *redis.Client
}

// WakeUp points a worker at one generation job.
type WakeUp struct {
	JobID     uuid.UUID       `json:"job_id"`
	Key       models.ChunkKey `json:"key"`
	CreatedAt time.Time       `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueueGenerateAudio pushes a wake-up for a generation job.
func (q *Queue) EnqueueGenerateAudio(ctx context.Context, jobID uuid.UUID, key models.ChunkKey) error {
	wake := &WakeUp{
		JobID:     jobID,
		Key:       key,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(wake)
	if err != nil {
		return fmt.Errorf("failed to marshal wake-up: %w", err)
	}

	return q.client.RPush(ctx, QueueGenerateAudio, data).Err()
}

// Dequeue blocks up to timeout waiting for a wake-up. Returns nil when the
// queue stayed empty.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*WakeUp, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueGenerateAudio).Result()
	if err == redis.Nil {
		return nil, nil // No wake-up available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var wake WakeUp
	if err := json.Unmarshal([]byte(result[1]), &wake); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wake-up: %w", err)
	}

	return &wake, nil
}

// Length returns the pending wake-up count for the stats endpoint.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueGenerateAudio).Result()
}
