package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uplay-learning/engagement/internal/models"
)

// Repository persists the append-only engagement event log. Events are keyed
// by (session_id, server_timestamp); inserting the same identity twice is a
// no-op, which makes replays idempotent.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an event log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts an event. Returns false when an event with the same identity
// already exists.
func (r *Repository) Append(ctx context.Context, attempt int, ev *models.EngagementEvent) (bool, error) {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	const q = `INSERT INTO engagement_events
		(id, session_id, attempt, user_id, video_id, event_type, video_timestamp, video_duration, total_watch_time, metadata, server_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT ON CONSTRAINT engagement_events_identity DO NOTHING`
	tag, err := r.pool.Exec(ctx, q,
		ev.ID, ev.SessionID, attempt, ev.UserID, ev.VideoID, string(ev.EventType),
		ev.VideoTimestamp, ev.VideoDuration, ev.TotalWatchTime, meta, ev.ServerTimestamp)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListBySession returns all events for a session ordered by server timestamp.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]models.EngagementEvent, error) {
	const q = `SELECT id, session_id, user_id, video_id, event_type, video_timestamp, video_duration, total_watch_time, metadata, server_timestamp
		FROM engagement_events WHERE session_id = $1 ORDER BY server_timestamp`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByVideo returns all events for a video ordered by session then server
// timestamp, for snapshot rebuilds.
func (r *Repository) ListByVideo(ctx context.Context, videoID string) ([]models.EngagementEvent, error) {
	const q = `SELECT id, session_id, user_id, video_id, event_type, video_timestamp, video_duration, total_watch_time, metadata, server_timestamp
		FROM engagement_events WHERE video_id = $1 ORDER BY session_id, server_timestamp`
	rows, err := r.pool.Query(ctx, q, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListBySessionAttempt returns events for one logical session record.
func (r *Repository) ListBySessionAttempt(ctx context.Context, sessionID string, attempt int) ([]models.EngagementEvent, error) {
	const q = `SELECT id, session_id, user_id, video_id, event_type, video_timestamp, video_duration, total_watch_time, metadata, server_timestamp
		FROM engagement_events WHERE session_id = $1 AND attempt = $2 ORDER BY server_timestamp`
	rows, err := r.pool.Query(ctx, q, sessionID, attempt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows pgxRows) ([]models.EngagementEvent, error) {
	var list []models.EngagementEvent
	for rows.Next() {
		var (
			ev        models.EngagementEvent
			eventType string
			meta      []byte
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.UserID, &ev.VideoID, &eventType,
			&ev.VideoTimestamp, &ev.VideoDuration, &ev.TotalWatchTime, &meta, &ev.ServerTimestamp); err != nil {
			return nil, err
		}
		ev.EventType = models.EventType(eventType)
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &ev.Metadata)
		}
		list = append(list, ev)
	}
	return list, rows.Err()
}
