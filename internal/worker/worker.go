// Package worker consumes background jobs: snapshot rebuilds, duration
// reconciliation passes and session archive exports.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uplay-learning/engagement/internal/aggregator"
	"github.com/uplay-learning/engagement/internal/archive"
	"github.com/uplay-learning/engagement/internal/reconcile"
	"github.com/uplay-learning/engagement/pkg/queue"
)

// Worker processes jobs from the engagement queue. Failed jobs are retried
// with backoff and dead-lettered after exhausting retries.
type Worker struct {
	queue      *queue.Queue
	aggregator *aggregator.Aggregator
	reconciler *reconcile.Service
	exporter   *archive.Exporter
	logger     *zap.Logger
}

// New creates a worker. exporter may be nil when object storage is not
// configured; archive jobs then fail into the DLQ.
func New(q *queue.Queue, agg *aggregator.Aggregator, reconciler *reconcile.Service,
	exporter *archive.Exporter, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:      q,
		aggregator: agg,
		reconciler: reconciler,
		exporter:   exporter,
		logger:     logger,
	}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopped")
				return
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}

		if err := w.handle(ctx, job); err != nil {
			w.logger.Warn("job failed",
				zap.String("job_id", job.ID),
				zap.String("type", string(job.Type)),
				zap.Int("attempt", job.Attempt),
				zap.Error(err))
			if err := w.queue.Retry(ctx, job); err != nil {
				w.logger.Error("retry failed", zap.Error(err), zap.String("job_id", job.ID))
			}
			select {
			case <-ctx.Done():
			case <-time.After(queue.RetryBackoff):
			}
			continue
		}
		w.logger.Debug("job done", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	}
}

func (w *Worker) handle(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeRebuild:
		var p queue.RebuildPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode rebuild payload: %w", err)
		}
		_, err := w.aggregator.Rebuild(ctx, p.VideoID)
		return err

	case queue.JobTypeReconcile:
		var p queue.ReconcilePayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode reconcile payload: %w", err)
		}
		if p.VideoID != "" {
			_, err := w.reconciler.CheckVideo(ctx, p.VideoID)
			return err
		}
		return w.reconciler.RunOnce(ctx)

	case queue.JobTypeArchive:
		var p queue.ArchivePayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode archive payload: %w", err)
		}
		if w.exporter == nil {
			return fmt.Errorf("archive storage not configured")
		}
		_, err := w.exporter.Export(ctx, p.SessionID, p.Attempt, p.VideoID)
		return err

	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}
