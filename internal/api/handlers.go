package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/francktshibala/bookbridge-speech/internal/db"
	"github.com/francktshibala/bookbridge-speech/internal/models"
	"github.com/francktshibala/bookbridge-speech/internal/queue"
	"github.com/francktshibala/bookbridge-speech/internal/storage"
	"github.com/francktshibala/bookbridge-speech/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	db      *db.DB
	queue   *queue.Queue
	storage *storage.Storage
	worker  *worker.Worker

	// Last snapshot per reader, keyed by the reader-supplied id
	statsMu     sync.Mutex
	readerStats map[string]models.ReaderStats
}

func NewHandler(database *db.DB, q *queue.Queue, stor *storage.Storage, w *worker.Worker) *Handler {
	return &Handler{
		db:          database,
		queue:       q,
		storage:     stor,
		worker:      w,
		readerStats: make(map[string]models.ReaderStats),
	}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// EnqueueChunk handles POST /v1/generate/chunks
func (h *Handler) EnqueueChunk(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.BookID == "" || req.Level == "" || req.ChunkIndex < 0 {
		respondError(w, http.StatusBadRequest, "book_id, level and chunk_index are required")
		return
	}

	key := models.ChunkKey{BookID: req.BookID, Level: req.Level, ChunkIndex: req.ChunkIndex}
	job, created, err := h.worker.EnqueueChunk(r.Context(), key, req.VoiceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue chunk")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, job)
}

// EnqueueBook handles POST /v1/generate/books
func (h *Handler) EnqueueBook(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.BookID == "" || req.Level == "" || req.ChunkCount <= 0 {
		respondError(w, http.StatusBadRequest, "book_id, level and chunk_count are required")
		return
	}

	enqueued, skipped, err := h.worker.EnqueueBook(r.Context(), req.BookID, req.Level, req.ChunkCount, req.VoiceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue book")
		return
	}

	respondJSON(w, http.StatusAccepted, models.EnqueueBookResponse{Enqueued: enqueued, Skipped: skipped})
}

func chunkKeyFromURL(r *http.Request) (models.ChunkKey, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "chunkIndex"))
	if err != nil || idx < 0 {
		return models.ChunkKey{}, false
	}
	return models.ChunkKey{
		BookID:     chi.URLParam(r, "bookId"),
		Level:      models.ReadingLevel(chi.URLParam(r, "level")),
		ChunkIndex: idx,
	}, true
}

// GetChunkAsset handles GET /v1/books/{bookId}/levels/{level}/chunks/{chunkIndex}/asset
// Returns the asset row (duration, word timings, payload address).
func (h *Handler) GetChunkAsset(w http.ResponseWriter, r *http.Request) {
	key, ok := chunkKeyFromURL(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid chunk index")
		return
	}

	asset, err := h.db.GetAssetByKey(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get asset")
		return
	}
	if asset == nil {
		respondError(w, http.StatusNotFound, "No audio generated for this chunk yet")
		return
	}

	respondJSON(w, http.StatusOK, asset)
}

// GetChunkAudio handles GET /v1/books/{bookId}/levels/{level}/chunks/{chunkIndex}/audio
// Streams the audio payload. Word timings ride along in a header so one
// round trip serves the prefetcher.
func (h *Handler) GetChunkAudio(w http.ResponseWriter, r *http.Request) {
	key, ok := chunkKeyFromURL(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid chunk index")
		return
	}

	asset, err := h.db.GetAssetByKey(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get asset")
		return
	}
	if asset == nil {
		respondError(w, http.StatusNotFound, "No audio generated for this chunk yet")
		return
	}

	data, err := h.storage.Download(r.Context(), asset.StoragePath)
	if err != nil {
		respondError(w, http.StatusBadGateway, "Failed to fetch audio payload")
		return
	}

	timings, _ := json.Marshal(asset.WordTimings)

	w.Header().Set("Content-Type", contentTypeFor(asset.Format))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Audio-Duration-Seconds", strconv.FormatFloat(asset.DurationSeconds, 'f', 3, 64))
	w.Header().Set("X-Word-Count", strconv.Itoa(asset.WordCount))
	w.Header().Set("X-Word-Timings", string(timings))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ListJobs handles GET /v1/jobs?status=failed&limit=50
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed:
	default:
		respondError(w, http.StatusBadRequest, "status must be one of pending|processing|completed|failed")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	jobs, err := h.db.ListJobsByStatus(r.Context(), status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// RequeueJob handles POST /v1/jobs/{id}/requeue: operator reset of a
// terminally failed job back to pending with zero attempts.
func (h *Handler) RequeueJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job id")
		return
	}

	job, err := h.db.RequeueJob(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found or not in failed state")
		return
	}

	if err := h.queue.EnqueueGenerateAudio(r.Context(), job.ID, job.Key()); err != nil {
		// Sweep will recover it; report success with the row as truth
		respondJSON(w, http.StatusOK, job)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// PurgeFailedJobs handles DELETE /v1/jobs/failed?older_than_hours=72
func (h *Handler) PurgeFailedJobs(w http.ResponseWriter, r *http.Request) {
	hours := 72
	if v := r.URL.Query().Get("older_than_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "older_than_hours must be a non-negative integer")
			return
		}
		hours = n
	}

	purged, err := h.db.PurgeFailedJobs(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to purge jobs")
		return
	}

	respondJSON(w, http.StatusOK, models.PurgeResponse{Purged: purged})
}

// GetStats handles GET /v1/stats: job counts, queue depth, and the last
// snapshot reported by each reader device.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.db.CountJobsByStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count jobs")
		return
	}

	depth, err := h.queue.Length(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read queue depth")
		return
	}

	h.statsMu.Lock()
	readers := make(map[string]models.ReaderStats, len(h.readerStats))
	for k, v := range h.readerStats {
		readers[k] = v
	}
	h.statsMu.Unlock()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":        counts,
		"queue_depth": depth,
		"readers":     readers,
	})
}

// ReportReaderStats handles POST /v1/stats/readers
func (h *Handler) ReportReaderStats(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReaderID string             `json:"reader_id"`
		Stats    models.ReaderStats `json:"stats"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ReaderID == "" {
		respondError(w, http.StatusBadRequest, "reader_id is required")
		return
	}

	h.statsMu.Lock()
	h.readerStats[req.ReaderID] = req.Stats
	h.statsMu.Unlock()

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
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

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
