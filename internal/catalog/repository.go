// Package catalog reads the engine's view of the video catalog and resolves
// authoritative durations from external providers and heuristics.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uplay-learning/engagement/internal/models"
)

// ErrVideoNotFound is returned for unknown video ids.
var ErrVideoNotFound = errors.New("video not found")

// Repository reads catalog rows. The catalog is owned by the content platform;
// the engine only consumes it.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a catalog repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one video.
func (r *Repository) Get(ctx context.Context, videoID string) (*models.Video, error) {
	const q = `SELECT video_id, title, content, platform, external_id, stored_duration, updated_at
		FROM videos WHERE video_id = $1`
	var v models.Video
	err := r.pool.QueryRow(ctx, q, videoID).Scan(
		&v.VideoID, &v.Title, &v.Content, &v.Platform, &v.ExternalID, &v.StoredDuration, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVideoNotFound
		}
		return nil, fmt.Errorf("get video: %w", err)
	}
	return &v, nil
}

// List returns all catalog rows, for full reconciliation passes.
func (r *Repository) List(ctx context.Context) ([]models.Video, error) {
	const q = `SELECT video_id, title, content, platform, external_id, stored_duration, updated_at
		FROM videos ORDER BY video_id`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Video
	for rows.Next() {
		var v models.Video
		if err := rows.Scan(&v.VideoID, &v.Title, &v.Content, &v.Platform, &v.ExternalID,
			&v.StoredDuration, &v.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}
