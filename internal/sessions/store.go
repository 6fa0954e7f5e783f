package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uplay-learning/engagement/internal/models"
	"github.com/uplay-learning/engagement/pkg/metrics"
)

// EventLog persists accepted events. Append reports false for duplicates.
type EventLog interface {
	Append(ctx context.Context, attempt int, ev *models.EngagementEvent) (bool, error)
}

// EventLoader reads a session's full event history, for recovery.
type EventLoader interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.EngagementEvent, error)
}

// SessionWriter persists reconstructed session records.
type SessionWriter interface {
	Upsert(ctx context.Context, s *models.Session) error
}

// Aggregator receives session lifecycle callbacks for rolling metrics.
type Aggregator interface {
	OnSessionOpened(videoID string)
	OnSessionClosed(s *models.Session)
}

// Notifier pushes session-close notifications to realtime subscribers.
type Notifier interface {
	SessionClosed(s *models.Session)
}

// Archiver schedules cold-storage export of a closed session's event log.
type Archiver interface {
	ScheduleArchive(ctx context.Context, sessionID string, attempt int, videoID string) error
}

// Store applies events to in-memory session records. All mutations for one
// session id go through that session's entry lock, so concurrent submissions
// for the same session serialize while distinct sessions proceed in parallel.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	log      EventLog
	writer   SessionWriter
	agg      Aggregator
	notifier Notifier
	archiver Archiver
	logger   *zap.Logger
	now      func() time.Time
}

type entry struct {
	mu         sync.Mutex
	attempt    int
	events     []models.EngagementEvent
	session    *models.Session
	seen       map[int64]struct{}
	outOfOrder bool
	lastServer time.Time
	lastSeen   time.Time
}

// NewStore creates a session store. notifier and archiver may be nil.
func NewStore(log EventLog, writer SessionWriter, agg Aggregator, notifier Notifier, archiver Archiver, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		entries:  make(map[string]*entry),
		log:      log,
		writer:   writer,
		agg:      agg,
		notifier: notifier,
		archiver: archiver,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the store clock, for tests.
func (st *Store) WithClock(now func() time.Time) *Store {
	st.now = now
	return st
}

func (st *Store) entryFor(sessionID string) *entry {
	st.mu.RLock()
	e, ok := st.entries[sessionID]
	st.mu.RUnlock()
	if ok {
		return e
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if e, ok = st.entries[sessionID]; ok {
		return e
	}
	e = &entry{attempt: 1, seen: make(map[int64]struct{})}
	st.entries[sessionID] = e
	return e
}

// Ingest applies a validated event to its session, persisting the event first
// and re-folding the full record. Duplicate deliveries (same session id and
// server timestamp) return the current record unchanged.
func (st *Store) Ingest(ctx context.Context, ev *models.EngagementEvent) (*models.Session, error) {
	e := st.entryFor(ev.SessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return st.ingestLocked(ctx, e, ev)
}

func (st *Store) ingestLocked(ctx context.Context, e *entry, ev *models.EngagementEvent) (*models.Session, error) {
	key := ev.ServerTimestamp.UnixNano()
	if _, dup := e.seen[key]; dup {
		return e.session, nil
	}

	inserted, err := st.log.Append(ctx, e.attempt, ev)
	if err != nil {
		return nil, err
	}
	e.seen[key] = struct{}{}
	if !inserted {
		return e.session, nil
	}
	metrics.EventsIngested.WithLabelValues(string(ev.EventType)).Inc()

	if !e.lastServer.IsZero() && ev.ServerTimestamp.Before(e.lastServer) {
		e.outOfOrder = true
		metrics.OutOfOrderAnomalies.Inc()
		st.logger.Debug("out-of-order delivery",
			zap.String("session_id", ev.SessionID),
			zap.Time("server_timestamp", ev.ServerTimestamp))
	}
	if ev.ServerTimestamp.After(e.lastServer) {
		e.lastServer = ev.ServerTimestamp
	}
	e.lastSeen = st.now()

	if len(e.events) == 0 {
		st.agg.OnSessionOpened(ev.VideoID)
		metrics.OpenSessions.Inc()
	}
	e.events = append(e.events, *ev)

	s := Reconstruct(e.events)
	s.Attempt = e.attempt
	if e.outOfOrder {
		s.Flag(models.AnomalyOutOfOrder)
	}
	e.session = s

	if err := st.writer.Upsert(ctx, s); err != nil {
		// The event log is the source of truth; the derived record will be
		// rewritten on the next event or rebuild.
		st.logger.Warn("session upsert failed", zap.Error(err), zap.String("session_id", s.SessionID))
	}

	if s.State.Closed() {
		st.closeLocked(ctx, e, s)
	}
	return s, nil
}

func (st *Store) closeLocked(ctx context.Context, e *entry, s *models.Session) {
	st.agg.OnSessionClosed(s)
	metrics.SessionsClosed.WithLabelValues(string(s.State)).Inc()
	metrics.OpenSessions.Dec()
	if st.notifier != nil {
		st.notifier.SessionClosed(s)
	}
	if st.archiver != nil {
		if err := st.archiver.ScheduleArchive(ctx, s.SessionID, s.Attempt, s.VideoID); err != nil {
			st.logger.Warn("archive scheduling failed", zap.Error(err), zap.String("session_id", s.SessionID))
		}
	}
	st.logger.Info("session closed",
		zap.String("session_id", s.SessionID),
		zap.Int("attempt", s.Attempt),
		zap.String("video_id", s.VideoID),
		zap.String("state", string(s.State)),
		zap.Float64("watched_seconds", s.WatchedSeconds()))

	// Reset for a possible re-entry under the same session id; the dedupe set
	// spans attempts since the event identity does too.
	e.attempt++
	e.events = nil
	e.session = nil
	e.outOfOrder = false
	e.lastServer = time.Time{}
}

// Recover reloads in-memory state for sessions the derived store recorded as
// open, by replaying their event logs. Recovered sessions keep their original
// last-event time, so ones already past the idle window are closed by the
// next sweep rather than lingering forever. Logs whose tail turned out to be
// terminal only get their derived row repaired.
func (st *Store) Recover(ctx context.Context, loader EventLoader, sessionIDs []string) error {
	recovered := 0
	for _, sessionID := range sessionIDs {
		evs, err := loader.ListBySession(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			continue
		}
		records := ReconstructAll(evs)
		last := records[len(records)-1]
		if last.State.Closed() {
			// The derived row lagged the log before the restart.
			if err := st.writer.Upsert(ctx, last); err != nil {
				st.logger.Warn("session repair failed", zap.Error(err), zap.String("session_id", sessionID))
			}
			continue
		}

		e := st.entryFor(sessionID)
		e.mu.Lock()
		if len(e.events) > 0 {
			e.mu.Unlock()
			continue
		}
		e.attempt = last.Attempt
		e.events = append([]models.EngagementEvent(nil), last.Events...)
		e.session = last
		for _, ev := range evs {
			e.seen[ev.ServerTimestamp.UnixNano()] = struct{}{}
		}
		e.lastServer = last.LastEventAt
		e.lastSeen = last.LastEventAt
		e.mu.Unlock()

		st.agg.OnSessionOpened(last.VideoID)
		metrics.OpenSessions.Inc()
		recovered++
	}
	if recovered > 0 {
		st.logger.Info("open sessions recovered", zap.Int("count", recovered))
	}
	return nil
}

// Sweep force-closes sessions idle for longer than window by synthesizing an
// abandon event at the last known playback position and running it through
// the normal fold. Returns the number of sessions closed.
func (st *Store) Sweep(ctx context.Context, window time.Duration) int {
	st.mu.RLock()
	snapshot := make(map[string]*entry, len(st.entries))
	for id, e := range st.entries {
		snapshot[id] = e
	}
	st.mu.RUnlock()

	now := st.now()
	closed := 0
	for sessionID, e := range snapshot {
		e.mu.Lock()
		s := e.session
		if s == nil || s.State.Closed() || now.Sub(e.lastSeen) < window {
			e.mu.Unlock()
			continue
		}
		synthetic := newIdleAbandon(s, now)
		if _, err := st.ingestLocked(ctx, e, synthetic); err != nil {
			st.logger.Warn("idle sweep close failed", zap.Error(err), zap.String("session_id", sessionID))
			e.mu.Unlock()
			continue
		}
		closed++
		metrics.SessionsSwept.Inc()
		e.mu.Unlock()
	}
	return closed
}

// Open returns the current open record for a session id, if any.
func (st *Store) Open(sessionID string) *models.Session {
	st.mu.RLock()
	e, ok := st.entries[sessionID]
	st.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func newIdleAbandon(s *models.Session, now time.Time) *models.EngagementEvent {
	ev := &models.EngagementEvent{
		ID:              uuid.New(),
		EventType:       models.EventAbandon,
		UserID:          s.UserID,
		VideoID:         s.VideoID,
		SessionID:       s.SessionID,
		VideoTimestamp:  s.LastKnownTimestamp,
		VideoDuration:   s.LastKnownDuration,
		Metadata:        map[string]interface{}{models.MetaAbandonReason: models.AnomalyIdleTimeout},
		ServerTimestamp: now.UTC(),
	}
	return ev
}
