// Package aggregator maintains rolling per-video engagement metrics. Snapshots
// are derived state: the same numbers can always be recomputed by replaying a
// video's event log, which is how Rebuild repairs drift.
package aggregator

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/uplay-learning/engagement/internal/models"
	"github.com/uplay-learning/engagement/internal/sessions"
	"github.com/uplay-learning/engagement/pkg/metrics"
)

// Engagement score weights, applied to watch rate, completion rate and
// question accuracy respectively.
const (
	weightWatchRate  = 0.4
	weightCompletion = 0.3
	weightAccuracy   = 0.3
)

// SnapshotStore persists per-video snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap *models.VideoMetricsSnapshot) error
}

// EventSource reads a video's full event log for rebuilds.
type EventSource interface {
	ListByVideo(ctx context.Context, videoID string) ([]models.EngagementEvent, error)
}

// Notifier pushes snapshot updates to realtime subscribers.
type Notifier interface {
	SnapshotUpdated(snap *models.VideoMetricsSnapshot)
}

// Aggregator accumulates closed sessions into per-video rolling metrics.
// Mutations for one video serialize on that video's state; a rebuild swaps
// the state wholesale under the same lock.
type Aggregator struct {
	states    syncMap
	store     SnapshotStore
	source    EventSource
	notifier  Notifier
	bucketSec int
	logger    *zap.Logger
}

// New creates an aggregator. store, source and notifier may be nil (tests,
// or a worker that only rebuilds).
func New(store SnapshotStore, source EventSource, notifier Notifier, bucketSec int, logger *zap.Logger) *Aggregator {
	if bucketSec <= 0 {
		bucketSec = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		states:    newSyncMap(),
		store:     store,
		source:    source,
		notifier:  notifier,
		bucketSec: bucketSec,
		logger:    logger,
	}
}

// OnSessionOpened counts a new session record into the video's total. Each
// logical record increments the total exactly once, at open; watch-time and
// outcome counters only move on close.
func (a *Aggregator) OnSessionOpened(videoID string) {
	vs := a.states.get(videoID)
	vs.mu.Lock()
	vs.opened++
	vs.dirty = true
	vs.mu.Unlock()
}

// OnSessionClosed folds one closed session record into the video's rolling
// metrics. A record that closed quarantined is excluded from aggregation,
// which includes un-counting its open.
func (a *Aggregator) OnSessionClosed(s *models.Session) {
	if s == nil || !s.State.Closed() {
		return
	}
	vs := a.states.get(s.VideoID)
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if s.Quarantined {
		if vs.opened > 0 {
			vs.opened--
		}
		vs.dirty = true
		return
	}
	vs.apply(s, a.bucketSec)
	vs.dirty = true
}

// Snapshot returns the current rolling snapshot for a video.
func (a *Aggregator) Snapshot(videoID string) *models.VideoMetricsSnapshot {
	vs := a.states.get(videoID)
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.snapshot(videoID)
}

// Peek returns the rolling snapshot if the video has state, without creating
// any. Read paths use this so arbitrary lookups don't grow the state map.
func (a *Aggregator) Peek(videoID string) *models.VideoMetricsSnapshot {
	vs := a.states.peek(videoID)
	if vs == nil {
		return nil
	}
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.snapshot(videoID)
}

// Rebuild recomputes a video's metrics from scratch by replaying its event
// log, then swaps the rolling state and persists the result.
func (a *Aggregator) Rebuild(ctx context.Context, videoID string) (*models.VideoMetricsSnapshot, error) {
	evs, err := a.source.ListByVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}

	fresh := newVideoState()
	bySession := make(map[string][]models.EngagementEvent)
	var order []string
	for _, ev := range evs {
		if _, ok := bySession[ev.SessionID]; !ok {
			order = append(order, ev.SessionID)
		}
		bySession[ev.SessionID] = append(bySession[ev.SessionID], ev)
	}
	for _, sessionID := range order {
		for _, rec := range sessions.ReconstructAll(bySession[sessionID]) {
			if rec.Quarantined {
				continue
			}
			fresh.opened++
			if rec.State.Closed() {
				fresh.apply(rec, a.bucketSec)
			}
		}
	}

	vs := a.states.get(videoID)
	vs.mu.Lock()
	fresh.copyInto(vs)
	snap := vs.snapshot(videoID)
	vs.dirty = false
	vs.mu.Unlock()

	metrics.SnapshotRebuilds.Inc()
	a.logger.Info("snapshot rebuilt", zap.String("video_id", videoID),
		zap.Int64("total_sessions", snap.TotalSessions))
	if a.store != nil {
		if err := a.store.Save(ctx, snap); err != nil {
			return snap, err
		}
	}
	if a.notifier != nil {
		a.notifier.SnapshotUpdated(snap)
	}
	return snap, nil
}

// Run flushes dirty snapshots on a fixed cadence until ctx is cancelled. A
// final flush runs on shutdown.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	if a.store == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.flush(context.Background())
			return
		case <-ticker.C:
			a.flush(ctx)
		}
	}
}

func (a *Aggregator) flush(ctx context.Context) {
	for _, videoID := range a.states.keys() {
		vs := a.states.get(videoID)
		vs.mu.Lock()
		if !vs.dirty {
			vs.mu.Unlock()
			continue
		}
		snap := vs.snapshot(videoID)
		vs.dirty = false
		vs.mu.Unlock()

		if err := a.store.Save(ctx, snap); err != nil {
			a.logger.Warn("snapshot flush failed", zap.Error(err), zap.String("video_id", videoID))
			vs.mu.Lock()
			vs.dirty = true
			vs.mu.Unlock()
			continue
		}
		if a.notifier != nil {
			a.notifier.SnapshotUpdated(snap)
		}
	}
}

func bucketKey(position float64, bucketSec int) string {
	if position < 0 {
		position = 0
	}
	bucket := (int(position) / bucketSec) * bucketSec
	return strconv.Itoa(bucket)
}
