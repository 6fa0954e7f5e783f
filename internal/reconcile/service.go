package reconcile

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uplay-learning/engagement/internal/models"
	"github.com/uplay-learning/engagement/pkg/metrics"
)

// CatalogSource reads catalog rows.
type CatalogSource interface {
	Get(ctx context.Context, videoID string) (*models.Video, error)
	List(ctx context.Context) ([]models.Video, error)
}

// DurationLookup resolves authoritative durations.
type DurationLookup interface {
	Estimate(ctx context.Context, v *models.Video) (models.DurationEstimate, error)
}

// DiscrepancyStore persists detected mismatches.
type DiscrepancyStore interface {
	UpsertOpen(ctx context.Context, d *models.DurationDiscrepancy) error
	ResolveOpen(ctx context.Context, videoID string) (bool, error)
}

// Rebuilder recomputes a video's metrics snapshot from its event log.
type Rebuilder interface {
	Rebuild(ctx context.Context, videoID string) (*models.VideoMetricsSnapshot, error)
}

// Notifier pushes discrepancy detections to realtime subscribers.
type Notifier interface {
	DiscrepancyDetected(d *models.DurationDiscrepancy)
}

// Service runs duration reconciliation. Lookups are time-bounded; a failed
// lookup skips the video for the cycle without touching its records.
type Service struct {
	catalog       CatalogSource
	lookup        DurationLookup
	store         DiscrepancyStore
	rebuilder     Rebuilder
	notifier      Notifier
	minDelta      float64
	lookupTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewService creates a reconciliation service. rebuilder and notifier may be
// nil.
func NewService(catalog CatalogSource, lookup DurationLookup, store DiscrepancyStore,
	rebuilder Rebuilder, notifier Notifier, minDelta float64, lookupTimeout time.Duration,
	logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		catalog:       catalog,
		lookup:        lookup,
		store:         store,
		rebuilder:     rebuilder,
		notifier:      notifier,
		minDelta:      minDelta,
		lookupTimeout: lookupTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CheckVideo reconciles one video. Returns the discrepancy when the delta is
// significant, nil when durations agree (resolving any open record).
func (s *Service) CheckVideo(ctx context.Context, videoID string) (*models.DurationDiscrepancy, error) {
	v, err := s.catalog.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	return s.checkVideo(ctx, v)
}

func (s *Service) checkVideo(ctx context.Context, v *models.Video) (*models.DurationDiscrepancy, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()
	est, err := s.lookup.Estimate(lookupCtx, v)
	if err != nil {
		metrics.ReconcileLookups.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.ReconcileLookups.WithLabelValues("ok").Inc()

	delta := est.Seconds - v.StoredDuration
	if math.Abs(delta) < s.minDelta {
		resolved, err := s.store.ResolveOpen(ctx, v.VideoID)
		if err != nil {
			return nil, err
		}
		if resolved {
			s.logger.Info("duration discrepancy resolved",
				zap.String("video_id", v.VideoID), zap.Float64("authoritative", est.Seconds))
		}
		return nil, nil
	}

	d := &models.DurationDiscrepancy{
		ID:                    uuid.New(),
		VideoID:               v.VideoID,
		StoredDuration:        v.StoredDuration,
		AuthoritativeDuration: est.Seconds,
		DeltaSeconds:          delta,
		Confidence:            est.Confidence,
		DetectedAt:            s.now().UTC(),
		ResolutionStatus:      models.DiscrepancyOpen,
	}
	if err := s.store.UpsertOpen(ctx, d); err != nil {
		return nil, err
	}
	metrics.DiscrepanciesFlagged.Inc()
	s.logger.Warn("duration discrepancy flagged",
		zap.String("video_id", v.VideoID),
		zap.Float64("stored", v.StoredDuration),
		zap.Float64("authoritative", est.Seconds),
		zap.Float64("delta_seconds", delta),
		zap.String("confidence", string(est.Confidence)))
	if s.notifier != nil {
		s.notifier.DiscrepancyDetected(d)
	}
	return d, nil
}

// RunOnce reconciles the full catalog. Per-video failures are logged and
// skipped; the pass continues.
func (s *Service) RunOnce(ctx context.Context) error {
	videos, err := s.catalog.List(ctx)
	if err != nil {
		return err
	}
	flagged := 0
	for i := range videos {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d, err := s.checkVideo(ctx, &videos[i])
		if err != nil {
			s.logger.Warn("reconcile skipped video", zap.Error(err), zap.String("video_id", videos[i].VideoID))
			continue
		}
		if d != nil {
			flagged++
		}
	}
	s.logger.Info("reconciliation pass finished",
		zap.Int("videos", len(videos)), zap.Int("flagged", flagged))
	return nil
}

// Run reconciles on a fixed interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	s.logger.Info("duration reconciliation started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("duration reconciliation stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

// ForceRecompute rebuilds a video's snapshot from its event log and runs a
// duration check in the same pass.
func (s *Service) ForceRecompute(ctx context.Context, videoID string) (*models.VideoMetricsSnapshot, *models.DurationDiscrepancy, error) {
	v, err := s.catalog.Get(ctx, videoID)
	if err != nil {
		return nil, nil, err
	}
	snap, err := s.rebuilder.Rebuild(ctx, videoID)
	if err != nil {
		return nil, nil, err
	}
	d, err := s.checkVideo(ctx, v)
	if err != nil {
		// The rebuild stands on its own; a failed lookup only skips the
		// duration check.
		s.logger.Warn("duration check skipped during recompute", zap.Error(err), zap.String("video_id", videoID))
		return snap, nil, nil
	}
	return snap, d, nil
}
