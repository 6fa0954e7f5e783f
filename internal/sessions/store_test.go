package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/uplay-learning/engagement/internal/models"
)

type fakeLog struct {
	mu     sync.Mutex
	events []models.EngagementEvent
	seen   map[string]struct{}
}

func newFakeLog() *fakeLog {
	return &fakeLog{seen: make(map[string]struct{})}
}

func (f *fakeLog) Append(_ context.Context, _ int, ev *models.EngagementEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ev.SessionID + "|" + ev.ServerTimestamp.Format(time.RFC3339Nano)
	if _, dup := f.seen[key]; dup {
		return false, nil
	}
	f.seen[key] = struct{}{}
	f.events = append(f.events, *ev)
	return true, nil
}

func (f *fakeLog) ListBySession(_ context.Context, sessionID string) ([]models.EngagementEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EngagementEvent
	for _, ev := range f.events {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeWriter struct {
	mu   sync.Mutex
	last *models.Session
}

func (f *fakeWriter) Upsert(_ context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = s
	return nil
}

type fakeAgg struct {
	mu     sync.Mutex
	opened int
	closed []*models.Session
}

func (f *fakeAgg) OnSessionOpened(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
}

func (f *fakeAgg) OnSessionClosed(s *models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, s)
}

func newTestStore() (*Store, *fakeLog, *fakeAgg) {
	log := newFakeLog()
	agg := &fakeAgg{}
	st := NewStore(log, &fakeWriter{}, agg, nil, nil, nil)
	return st, log, agg
}

func TestStoreIngestLifecycle(t *testing.T) {
	st, _, agg := newTestStore()
	ctx := context.Background()

	s, err := st.Ingest(ctx, eventPtr(ev(models.EventStart, 0, 0, 300, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if s.State != models.SessionOpen {
		t.Fatalf("state = %s, want open", s.State)
	}
	if agg.opened != 1 {
		t.Fatalf("opened = %d, want 1", agg.opened)
	}

	s, err = st.Ingest(ctx, eventPtr(ev(models.EventComplete, 290, 300, 300, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if s.State != models.SessionCompleted {
		t.Fatalf("state = %s, want completed", s.State)
	}
	if len(agg.closed) != 1 {
		t.Fatalf("closed = %d, want 1", len(agg.closed))
	}
	if got := agg.closed[0].WatchedSeconds(); got != 300 {
		t.Fatalf("closed watched = %v, want 300", got)
	}
	if st.Open("session-1") != nil {
		t.Fatal("record should be reset after close")
	}
}

func TestStoreDuplicateDeliveryIdempotent(t *testing.T) {
	st, log, _ := newTestStore()
	ctx := context.Background()

	first := ev(models.EventStart, 0, 0, 300, nil)
	if _, err := st.Ingest(ctx, eventPtr(first)); err != nil {
		t.Fatal(err)
	}
	// Same identity delivered again.
	if _, err := st.Ingest(ctx, eventPtr(first)); err != nil {
		t.Fatal(err)
	}
	if len(log.events) != 1 {
		t.Fatalf("log has %d events, want 1", len(log.events))
	}
	after := st.Open("session-1")
	if len(after.Events) != 1 {
		t.Fatalf("session has %d events, want 1", len(after.Events))
	}
}

func TestStoreOutOfOrderFlagged(t *testing.T) {
	st, _, _ := newTestStore()
	ctx := context.Background()

	if _, err := st.Ingest(ctx, eventPtr(ev(models.EventStart, 10, 0, 300, nil))); err != nil {
		t.Fatal(err)
	}
	// Earlier server timestamp arrives second.
	s, err := st.Ingest(ctx, eventPtr(ev(models.EventPause, 5, 2, 300, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if !hasAnomaly(s, models.AnomalyOutOfOrder) {
		t.Fatalf("anomalies = %v, want out_of_order_delivery", s.Anomalies)
	}
	// The fold replays in timestamp order: the pause precedes the start, so no
	// interval closes and the session stays open and playing.
	if s.State != models.SessionOpen {
		t.Fatalf("state = %s, want open", s.State)
	}
}

func TestStoreSweepClosesIdleSessions(t *testing.T) {
	st, _, agg := newTestStore()
	ctx := context.Background()

	clock := testBase
	st.WithClock(func() time.Time { return clock })

	if _, err := st.Ingest(ctx, eventPtr(ev(models.EventStart, 0, 0, 300, nil))); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Ingest(ctx, eventPtr(ev(models.EventPause, 60, 60, 300, nil))); err != nil {
		t.Fatal(err)
	}

	clock = testBase.Add(10 * time.Minute)
	if n := st.Sweep(ctx, 30*time.Minute); n != 0 {
		t.Fatalf("swept %d before window, want 0", n)
	}

	clock = testBase.Add(31 * time.Minute)
	if n := st.Sweep(ctx, 30*time.Minute); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if len(agg.closed) != 1 {
		t.Fatalf("closed = %d, want 1", len(agg.closed))
	}
	closed := agg.closed[0]
	if closed.State != models.SessionAbandoned {
		t.Fatalf("state = %s, want abandoned", closed.State)
	}
	if !hasAnomaly(closed, models.AnomalyIdleTimeout) {
		t.Fatalf("anomalies = %v, want idle_timeout", closed.Anomalies)
	}
	// Paused at 60: the forced close adds no playing interval.
	if got := closed.WatchedSeconds(); got != 60 {
		t.Fatalf("watched = %v, want 60", got)
	}
}

func TestStoreReentryStartsNewAttempt(t *testing.T) {
	st, _, agg := newTestStore()
	ctx := context.Background()

	if _, err := st.Ingest(ctx, eventPtr(ev(models.EventStart, 0, 0, 120, nil))); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Ingest(ctx, eventPtr(ev(models.EventComplete, 120, 120, 120, nil))); err != nil {
		t.Fatal(err)
	}

	s, err := st.Ingest(ctx, eventPtr(ev(models.EventStart, 300, 0, 120, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if s.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", s.Attempt)
	}
	if s.State != models.SessionOpen {
		t.Fatalf("state = %s, want open", s.State)
	}
	if agg.opened != 2 {
		t.Fatalf("opened = %d, want 2", agg.opened)
	}
}

func TestStoreRecoverRestoresOpenSessions(t *testing.T) {
	ctx := context.Background()

	st1, log, _ := newTestStore()
	if _, err := st1.Ingest(ctx, eventPtr(ev(models.EventStart, 0, 0, 300, nil))); err != nil {
		t.Fatal(err)
	}
	if _, err := st1.Ingest(ctx, eventPtr(ev(models.EventPause, 60, 60, 300, nil))); err != nil {
		t.Fatal(err)
	}

	// A fresh store over the same log stands in for a restarted process.
	agg2 := &fakeAgg{}
	st2 := NewStore(log, &fakeWriter{}, agg2, nil, nil, nil)
	clock := testBase.Add(2 * time.Minute)
	st2.WithClock(func() time.Time { return clock })

	if err := st2.Recover(ctx, log, []string{"session-1"}); err != nil {
		t.Fatal(err)
	}
	if agg2.opened != 1 {
		t.Fatalf("opened = %d, want 1 after recovery", agg2.opened)
	}
	recovered := st2.Open("session-1")
	if recovered == nil || recovered.State != models.SessionOpen {
		t.Fatalf("recovered session = %+v, want open", recovered)
	}
	if got := recovered.WatchedSeconds(); got != 60 {
		t.Fatalf("recovered watched = %v, want 60", got)
	}

	// Duplicate delivery of an already-logged event stays deduped.
	if _, err := st2.Ingest(ctx, eventPtr(ev(models.EventPause, 60, 60, 300, nil))); err != nil {
		t.Fatal(err)
	}
	if len(log.events) != 2 {
		t.Fatalf("log has %d events after replay, want 2", len(log.events))
	}

	// Ingestion continues on the recovered record.
	s, err := st2.Ingest(ctx, eventPtr(ev(models.EventResume, 120, 60, 300, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if s.Attempt != 1 || len(s.Events) != 3 {
		t.Fatalf("attempt = %d, events = %d, want 1/3", s.Attempt, len(s.Events))
	}

	// A recovered session past the idle window is closed by the sweep.
	clock = testBase.Add(40 * time.Minute)
	if n := st2.Sweep(ctx, 30*time.Minute); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if len(agg2.closed) != 1 || agg2.closed[0].State != models.SessionAbandoned {
		t.Fatalf("closed = %+v, want one abandoned session", agg2.closed)
	}
}

func TestStoreRecoverRepairsStaleOpenRow(t *testing.T) {
	ctx := context.Background()

	st1, log, _ := newTestStore()
	if _, err := st1.Ingest(ctx, eventPtr(ev(models.EventStart, 0, 0, 300, nil))); err != nil {
		t.Fatal(err)
	}
	if _, err := st1.Ingest(ctx, eventPtr(ev(models.EventComplete, 290, 300, 300, nil))); err != nil {
		t.Fatal(err)
	}

	// The log is terminal even though the derived row claimed open.
	agg2 := &fakeAgg{}
	writer := &fakeWriter{}
	st2 := NewStore(log, writer, agg2, nil, nil, nil)
	if err := st2.Recover(ctx, log, []string{"session-1"}); err != nil {
		t.Fatal(err)
	}
	if agg2.opened != 0 {
		t.Fatalf("opened = %d, want 0 for a terminal log", agg2.opened)
	}
	if st2.Open("session-1") != nil {
		t.Fatal("terminal session must not be recovered as open")
	}
	if writer.last == nil || writer.last.State != models.SessionCompleted {
		t.Fatalf("repaired row = %+v, want completed", writer.last)
	}
}

func eventPtr(e models.EngagementEvent) *models.EngagementEvent {
	return &e
}
