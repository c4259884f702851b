package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWordTimingsValue(t *testing.T) {
	timings := WordTimings{
		{Word: "once", StartTimeMs: 0, EndTimeMs: 300, WordIndex: 0},
		{Word: "upon", StartTimeMs: 300, EndTimeMs: 550, WordIndex: 1},
	}

	data, err := timings.Value()
	if err != nil {
		t.Fatalf("failed to marshal word timings: %v", err)
	}

	var result []map[string]interface{}
	if err := json.Unmarshal(data.([]byte), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result))
	}

	if result[1]["word"] != "upon" {
		t.Errorf("expected word=upon, got %v", result[1]["word"])
	}
}

func TestWordTimingsScan(t *testing.T) {
	jsonData := []byte(`[{"word":"the","start_time_ms":0,"end_time_ms":120,"word_index":0}]`)

	var timings WordTimings
	if err := timings.Scan(jsonData); err != nil {
		t.Fatalf("failed to scan: %v", err)
	}

	if len(timings) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(timings))
	}

	if timings[0].Word != "the" || timings[0].EndTimeMs != 120 {
		t.Errorf("unexpected entry: %+v", timings[0])
	}
}

func TestWordTimingsScanNil(t *testing.T) {
	timings := WordTimings{{Word: "stale"}}
	if err := timings.Scan(nil); err != nil {
		t.Fatalf("scan nil failed: %v", err)
	}
	if timings != nil {
		t.Errorf("expected nil timings after scanning NULL, got %+v", timings)
	}
}

func TestChunkKeyString(t *testing.T) {
	key := ChunkKey{BookID: "pride-and-prejudice", Level: LevelB1, ChunkIndex: 12}
	if got := key.String(); got != "pride-and-prejudice/b1/12" {
		t.Errorf("unexpected key string: %s", got)
	}
}

func TestJobStatus(t *testing.T) {
	statuses := []JobStatus{
		JobStatusPending,
		JobStatusProcessing,
		JobStatusCompleted,
		JobStatusFailed,
	}

	for _, status := range statuses {
		if status == "" {
			t.Errorf("empty status found")
		}
	}
}

func TestJobTerminal(t *testing.T) {
	job := &GenerationJob{
		ID:            uuid.New(),
		BookID:        "alice",
		Level:         LevelA2,
		ChunkIndex:    3,
		Status:        JobStatusProcessing,
		NextAttemptAt: time.Now(),
	}

	if job.Terminal() {
		t.Error("processing job reported terminal")
	}

	job.Status = JobStatusFailed
	if !job.Terminal() {
		t.Error("failed job not reported terminal")
	}

	if job.Key() != (ChunkKey{BookID: "alice", Level: LevelA2, ChunkIndex: 3}) {
		t.Errorf("unexpected key: %v", job.Key())
	}
}
