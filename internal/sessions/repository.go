package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uplay-learning/engagement/internal/models"
)

// Repository persists reconstructed session records. The stored row is
// derived state keyed by (session_id, attempt); every upsert replaces it
// wholesale with the latest fold result.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert writes the session record, replacing any prior fold of the same
// (session_id, attempt).
func (r *Repository) Upsert(ctx context.Context, s *models.Session) error {
	intervals, err := json.Marshal(s.WatchedIntervals)
	if err != nil {
		return fmt.Errorf("marshal intervals: %w", err)
	}
	anomalies, err := json.Marshal(s.Anomalies)
	if err != nil {
		return fmt.Errorf("marshal anomalies: %w", err)
	}
	const q = `INSERT INTO viewing_sessions
		(session_id, attempt, user_id, video_id, state, watched_intervals, anomalies, quarantined,
		 client_watch_time, watched_seconds, last_known_timestamp, last_known_duration,
		 opened_at, last_event_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (session_id, attempt) DO UPDATE SET
		 state = EXCLUDED.state,
		 watched_intervals = EXCLUDED.watched_intervals,
		 anomalies = EXCLUDED.anomalies,
		 quarantined = EXCLUDED.quarantined,
		 client_watch_time = EXCLUDED.client_watch_time,
		 watched_seconds = EXCLUDED.watched_seconds,
		 last_known_timestamp = EXCLUDED.last_known_timestamp,
		 last_known_duration = EXCLUDED.last_known_duration,
		 last_event_at = EXCLUDED.last_event_at,
		 closed_at = EXCLUDED.closed_at`
	_, err = r.pool.Exec(ctx, q,
		s.SessionID, s.Attempt, s.UserID, s.VideoID, string(s.State), intervals, anomalies, s.Quarantined,
		s.ClientWatchTime, s.WatchedSeconds(), s.LastKnownTimestamp, s.LastKnownDuration,
		s.OpenedAt, s.LastEventAt, s.ClosedAt)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ListOpenSessionIDs returns the ids of sessions whose latest derived record
// is still open, for recovery after a restart.
func (r *Repository) ListOpenSessionIDs(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT session_id FROM viewing_sessions WHERE state = 'open' ORDER BY session_id`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByVideo returns session records for a video, newest first.
func (r *Repository) ListByVideo(ctx context.Context, videoID string, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT session_id, attempt, user_id, video_id, state, watched_intervals, anomalies, quarantined,
		 client_watch_time, watched_seconds, last_known_timestamp, last_known_duration,
		 opened_at, last_event_at, closed_at
		FROM viewing_sessions WHERE video_id = $1 ORDER BY opened_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, videoID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Session
	for rows.Next() {
		var (
			s              models.Session
			state          string
			intervals      []byte
			anomalies      []byte
			watchedSeconds float64
		)
		if err := rows.Scan(&s.SessionID, &s.Attempt, &s.UserID, &s.VideoID, &state, &intervals, &anomalies,
			&s.Quarantined, &s.ClientWatchTime, &watchedSeconds, &s.LastKnownTimestamp, &s.LastKnownDuration,
			&s.OpenedAt, &s.LastEventAt, &s.ClosedAt); err != nil {
			return nil, err
		}
		s.State = models.SessionState(state)
		_ = json.Unmarshal(intervals, &s.WatchedIntervals)
		_ = json.Unmarshal(anomalies, &s.Anomalies)
		list = append(list, s)
	}
	return list, rows.Err()
}

// ReportRange aggregates closed, non-quarantined sessions whose close time
// falls within [start, end).
func (r *Repository) ReportRange(ctx context.Context, start, end time.Time) (*models.RangeReport, error) {
	const q = `SELECT
		 COUNT(DISTINCT video_id),
		 COUNT(*),
		 COUNT(*) FILTER (WHERE state = 'completed'),
		 COUNT(*) FILTER (WHERE state = 'abandoned'),
		 COALESCE(AVG(GREATEST(watched_seconds, COALESCE(client_watch_time, 0))), 0)
		FROM viewing_sessions
		WHERE closed_at >= $1 AND closed_at < $2 AND NOT quarantined`
	rep := &models.RangeReport{StartDate: start, EndDate: end, GeneratedAt: time.Now().UTC()}
	err := r.pool.QueryRow(ctx, q, start, end).Scan(
		&rep.VideosActive, &rep.TotalSessions, &rep.CompletedSessions, &rep.AbandonedSessions, &rep.AvgWatchSeconds)
	if err != nil {
		return nil, fmt.Errorf("range report: %w", err)
	}
	if rep.TotalSessions > 0 {
		rep.CompletionRate = float64(rep.CompletedSessions) / float64(rep.TotalSessions)
	}
	return rep, nil
}
