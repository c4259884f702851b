package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/francktshibala/bookbridge-speech/internal/models"
)

// memJobStore mirrors the SQL job state machine in memory so the claim and
// retry semantics can be exercised without Postgres.
type memJobStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*models.GenerationJob
	byKey  map[models.ChunkKey]uuid.UUID
	assets map[models.ChunkKey]*models.AudioAsset
}

func newMemJobStore() *memJobStore {
	return &memJobStore{
		jobs:   make(map[uuid.UUID]*models.GenerationJob),
		byKey:  make(map[models.ChunkKey]uuid.UUID),
		assets: make(map[models.ChunkKey]*models.AudioAsset),
	}
}

func copyJob(j *models.GenerationJob) *models.GenerationJob {
	cp := *j
	return &cp
}

func (m *memJobStore) CreateJob(ctx context.Context, job *models.GenerationJob) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := job.Key()
	if _, exists := m.byKey[key]; exists {
		return false, nil
	}

	cp := copyJob(job)
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.jobs[cp.ID] = cp
	m.byKey[key] = cp.ID
	return true, nil
}

func (m *memJobStore) GetJobByKey(ctx context.Context, key models.ChunkKey) (*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byKey[key]
	if !ok {
		return nil, fmt.Errorf("job not found")
	}
	return copyJob(m.jobs[id]), nil
}

func (m *memJobStore) ClaimJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != models.JobStatusPending || job.NextAttemptAt.After(time.Now()) {
		return nil, nil
	}

	now := time.Now()
	job.Status = models.JobStatusProcessing
	job.ClaimedAt = &now
	job.UpdatedAt = now
	return copyJob(job), nil
}

func (m *memJobStore) CompleteJob(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		return fmt.Errorf("job %s not in processing state", id)
	}
	job.Status = models.JobStatusCompleted
	job.LastError = nil
	job.UpdatedAt = time.Now()
	return nil
}

func (m *memJobStore) FailJob(ctx context.Context, id uuid.UUID, errMsg string, retryAfter time.Duration) (*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		return nil, fmt.Errorf("job %s not in processing state", id)
	}

	job.Attempts++
	job.LastError = &errMsg
	if job.Attempts >= job.MaxAttempts {
		job.Status = models.JobStatusFailed
	} else {
		job.Status = models.JobStatusPending
	}
	job.NextAttemptAt = time.Now().Add(retryAfter)
	job.ClaimedAt = nil
	job.UpdatedAt = time.Now()
	return copyJob(job), nil
}

func (m *memJobStore) ListEligiblePending(ctx context.Context, limit int) ([]models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.GenerationJob
	now := time.Now()
	for _, job := range m.jobs {
		if job.Status == models.JobStatusPending && !job.NextAttemptAt.After(now) {
			out = append(out, *job)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memJobStore) CreateAsset(ctx context.Context, asset *models.AudioAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *asset
	m.assets[asset.Key()] = &cp
	return nil
}

func (m *memJobStore) HasAsset(ctx context.Context, key models.ChunkKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.assets[key]
	return ok, nil
}

var _ JobStore = (*memJobStore)(nil)

// job returns the stored row for assertions.
func (m *memJobStore) job(id uuid.UUID) models.GenerationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

// rewind makes a backing-off job immediately eligible again.
func (m *memJobStore) rewind(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].NextAttemptAt = time.Now().Add(-time.Second)
}
