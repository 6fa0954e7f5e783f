// Package reconcile compares stored video durations against authoritative
// sources and tracks significant mismatches through their resolution
// lifecycle.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uplay-learning/engagement/internal/models"
)

// ErrDiscrepancyNotFound is returned when no matching discrepancy exists.
var ErrDiscrepancyNotFound = errors.New("discrepancy not found")

// Repository persists duration discrepancies. At most one unresolved record
// exists per video, enforced by a partial unique index.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a discrepancy repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertOpen records a discrepancy. A later detection for the same video
// refreshes the unresolved record in place, keeping its id and any
// acknowledgement.
func (r *Repository) UpsertOpen(ctx context.Context, d *models.DurationDiscrepancy) error {
	const q = `INSERT INTO duration_discrepancies
		(id, video_id, stored_duration, authoritative_duration, delta_seconds, confidence, detected_at, resolution_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (video_id) WHERE resolution_status <> 'resolved' DO UPDATE SET
		 stored_duration = EXCLUDED.stored_duration,
		 authoritative_duration = EXCLUDED.authoritative_duration,
		 delta_seconds = EXCLUDED.delta_seconds,
		 confidence = EXCLUDED.confidence,
		 detected_at = EXCLUDED.detected_at`
	_, err := r.pool.Exec(ctx, q,
		d.ID, d.VideoID, d.StoredDuration, d.AuthoritativeDuration, d.DeltaSeconds,
		string(d.Confidence), d.DetectedAt, string(d.ResolutionStatus))
	if err != nil {
		return fmt.Errorf("upsert discrepancy: %w", err)
	}
	return nil
}

// ResolveOpen marks a video's unresolved discrepancy resolved. Reports whether
// a record was updated.
func (r *Repository) ResolveOpen(ctx context.Context, videoID string) (bool, error) {
	const q = `UPDATE duration_discrepancies
		SET resolution_status = 'resolved', resolved_at = now()
		WHERE video_id = $1 AND resolution_status <> 'resolved'`
	tag, err := r.pool.Exec(ctx, q, videoID)
	if err != nil {
		return false, fmt.Errorf("resolve discrepancy: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Acknowledge moves an open discrepancy to acknowledged.
func (r *Repository) Acknowledge(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE duration_discrepancies
		SET resolution_status = 'acknowledged'
		WHERE id = $1 AND resolution_status = 'open'`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("acknowledge discrepancy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDiscrepancyNotFound
	}
	return nil
}

// List returns discrepancies, optionally filtered by resolution status,
// newest first.
func (r *Repository) List(ctx context.Context, status models.ResolutionStatus) ([]models.DurationDiscrepancy, error) {
	q := `SELECT id, video_id, stored_duration, authoritative_duration, delta_seconds, confidence, detected_at, resolution_status, resolved_at
		FROM duration_discrepancies`
	args := []any{}
	if status != "" {
		q += ` WHERE resolution_status = $1`
		args = append(args, string(status))
	}
	q += ` ORDER BY detected_at DESC`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.DurationDiscrepancy
	for rows.Next() {
		var (
			d          models.DurationDiscrepancy
			confidence string
			st         string
		)
		if err := rows.Scan(&d.ID, &d.VideoID, &d.StoredDuration, &d.AuthoritativeDuration,
			&d.DeltaSeconds, &confidence, &d.DetectedAt, &st, &d.ResolvedAt); err != nil {
			return nil, err
		}
		d.Confidence = models.Confidence(confidence)
		d.ResolutionStatus = models.ResolutionStatus(st)
		list = append(list, d)
	}
	return list, rows.Err()
}
