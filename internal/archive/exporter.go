// Package archive exports closed sessions' event logs to object storage. The
// hot store keeps the log indefinitely; archives give downstream analytics a
// cheap bulk-read path.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uplay-learning/engagement/internal/models"
	"github.com/uplay-learning/engagement/pkg/queue"
	"github.com/uplay-learning/engagement/pkg/storage"
)

// EventSource reads one logical session record's events.
type EventSource interface {
	ListBySessionAttempt(ctx context.Context, sessionID string, attempt int) ([]models.EngagementEvent, error)
}

// Enqueuer schedules background jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.JobType, payload interface{}) error
}

// Scheduler queues archive jobs for closed sessions. It satisfies the session
// store's archiver hook.
type Scheduler struct {
	jobs Enqueuer
}

// NewScheduler creates an archive scheduler.
func NewScheduler(jobs Enqueuer) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// ScheduleArchive enqueues an export for one closed session record.
func (s *Scheduler) ScheduleArchive(ctx context.Context, sessionID string, attempt int, videoID string) error {
	return s.jobs.Enqueue(ctx, queue.JobTypeArchive, queue.ArchivePayload{
		SessionID: sessionID,
		Attempt:   attempt,
		VideoID:   videoID,
	})
}

// document is the archived object layout.
type document struct {
	SessionID  string                   `json:"sessionId"`
	Attempt    int                      `json:"attempt"`
	VideoID    string                   `json:"videoId"`
	ArchivedAt time.Time                `json:"archivedAt"`
	Events     []models.EngagementEvent `json:"events"`
}

// Exporter writes session event logs to S3.
type Exporter struct {
	source EventSource
	store  *storage.S3
	logger *zap.Logger
}

// NewExporter creates an exporter.
func NewExporter(source EventSource, store *storage.S3, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{source: source, store: store, logger: logger}
}

// Export uploads one session record's events and returns the object location.
func (e *Exporter) Export(ctx context.Context, sessionID string, attempt int, videoID string) (string, error) {
	events, err := e.source.ListBySessionAttempt(ctx, sessionID, attempt)
	if err != nil {
		return "", fmt.Errorf("load events: %w", err)
	}
	if len(events) == 0 {
		return "", fmt.Errorf("no events for session %s attempt %d", sessionID, attempt)
	}

	doc := document{
		SessionID:  sessionID,
		Attempt:    attempt,
		VideoID:    videoID,
		ArchivedAt: time.Now().UTC(),
		Events:     events,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal archive: %w", err)
	}

	key := storage.ArchiveKey(videoID, sessionID, attempt)
	location, err := e.store.Upload(ctx, e.store.ArchiveBucket(), key, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	e.logger.Info("session archived",
		zap.String("session_id", sessionID),
		zap.Int("attempt", attempt),
		zap.String("key", key),
		zap.Int("events", len(events)))
	return location, nil
}
