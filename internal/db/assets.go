package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/francktshibala/bookbridge-speech/internal/models"
)

// CreateAsset inserts a completed audio asset row.
func (db *DB) CreateAsset(ctx context.Context, asset *models.AudioAsset) error {
	query := `
		INSERT INTO audio_assets (
			id, job_id, book_id, level, chunk_index,
			storage_bucket, storage_path, format, byte_size,
			duration_seconds, word_count, word_timings
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		asset.ID, asset.JobID, asset.BookID, asset.Level, asset.ChunkIndex,
		asset.StorageBucket, asset.StoragePath, asset.Format, asset.ByteSize,
		asset.DurationSeconds, asset.WordCount, asset.WordTimings,
	).Scan(&asset.CreatedAt)
}

// GetAssetByKey retrieves the audio asset for a chunk, if one exists.
func (db *DB) GetAssetByKey(ctx context.Context, key models.ChunkKey) (*models.AudioAsset, error) {
	query := `
		SELECT
			id, job_id, book_id, level, chunk_index,
			storage_bucket, storage_path, format, byte_size,
			duration_seconds, word_count, word_timings, created_at
		FROM audio_assets
		WHERE book_id = $1 AND level = $2 AND chunk_index = $3
	`

	asset := &models.AudioAsset{}
	err := db.QueryRowContext(ctx, query, key.BookID, key.Level, key.ChunkIndex).Scan(
		&asset.ID, &asset.JobID, &asset.BookID, &asset.Level, &asset.ChunkIndex,
		&asset.StorageBucket, &asset.StoragePath, &asset.Format, &asset.ByteSize,
		&asset.DurationSeconds, &asset.WordCount, &asset.WordTimings, &asset.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	return asset, nil
}

// HasAsset reports whether audio already exists for a chunk. Used to skip
// redundant generation when a whole book level is enqueued.
func (db *DB) HasAsset(ctx context.Context, key models.ChunkKey) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM audio_assets WHERE book_id = $1 AND level = $2 AND chunk_index = $3)`,
		key.BookID, key.Level, key.ChunkIndex,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check asset: %w", err)
	}
	return exists, nil
}
