package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uplay-learning/engagement/internal/models"
)

// ErrSnapshotNotFound is returned when a video has no persisted snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Repository persists per-video metric snapshots as JSONB documents.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a snapshot repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save upserts a video's snapshot.
func (r *Repository) Save(ctx context.Context, snap *models.VideoMetricsSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	const q = `INSERT INTO video_metrics_snapshots (video_id, snapshot, last_computed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (video_id) DO UPDATE SET
		 snapshot = EXCLUDED.snapshot,
		 last_computed_at = EXCLUDED.last_computed_at`
	if _, err := r.pool.Exec(ctx, q, snap.VideoID, body, snap.LastComputedAt); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Get loads a video's persisted snapshot.
func (r *Repository) Get(ctx context.Context, videoID string) (*models.VideoMetricsSnapshot, error) {
	const q = `SELECT snapshot FROM video_metrics_snapshots WHERE video_id = $1`
	var body []byte
	if err := r.pool.QueryRow(ctx, q, videoID).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	var snap models.VideoMetricsSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
