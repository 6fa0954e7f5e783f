package aggregator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/uplay-learning/engagement/internal/models"
)

var testBase = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type memSource struct {
	events []models.EngagementEvent
}

func (m *memSource) ListByVideo(_ context.Context, videoID string) ([]models.EngagementEvent, error) {
	var out []models.EngagementEvent
	for _, ev := range m.events {
		if ev.VideoID == videoID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func closedSession(sessionID string, state models.SessionState, watched, duration, lastPos float64, events ...models.EngagementEvent) *models.Session {
	closedAt := testBase.Add(time.Hour)
	return &models.Session{
		SessionID:          sessionID,
		Attempt:            1,
		UserID:             "user-1",
		VideoID:            "video-1",
		Events:             events,
		WatchedIntervals:   []models.Interval{{Start: 0, End: watched}},
		State:              state,
		LastKnownTimestamp: lastPos,
		LastKnownDuration:  duration,
		OpenedAt:           testBase,
		LastEventAt:        closedAt,
		ClosedAt:           &closedAt,
	}
}

func questionEvent(qid string, correct bool, timeSpent float64) models.EngagementEvent {
	return models.EngagementEvent{
		EventType: models.EventQuestionAnswered,
		VideoID:   "video-1",
		SessionID: "session-1",
		Metadata: map[string]interface{}{
			models.MetaQuestionID: qid,
			models.MetaIsCorrect:  correct,
			models.MetaTimeSpent:  timeSpent,
		},
		ServerTimestamp: testBase,
	}
}

func TestAggregatorRollingCounters(t *testing.T) {
	agg := New(nil, nil, nil, 30, nil)

	agg.OnSessionOpened("video-1")
	agg.OnSessionOpened("video-1")
	agg.OnSessionClosed(closedSession("s1", models.SessionCompleted, 300, 300, 300,
		questionEvent("q1", true, 4)))
	agg.OnSessionClosed(closedSession("s2", models.SessionAbandoned, 100, 300, 100,
		questionEvent("q1", false, 8)))

	snap := agg.Snapshot("video-1")
	if snap.TotalSessions != 2 || snap.CompletedSessions != 1 || snap.AbandonedSessions != 1 {
		t.Fatalf("counts = %d/%d/%d", snap.TotalSessions, snap.CompletedSessions, snap.AbandonedSessions)
	}
	if snap.CompletionRate != 0.5 {
		t.Fatalf("completion rate = %v, want 0.5", snap.CompletionRate)
	}
	if snap.AvgDistinctWatchTime != 200 {
		t.Fatalf("avg watch = %v, want 200", snap.AvgDistinctWatchTime)
	}
	if got := snap.DropOffHistogram["90"]; got != 1 {
		t.Fatalf("drop-off bucket 90 = %d, want 1 (histogram %v)", got, snap.DropOffHistogram)
	}
	if snap.QuestionAccuracy.Overall != 0.5 {
		t.Fatalf("overall accuracy = %v, want 0.5", snap.QuestionAccuracy.Overall)
	}
	q1 := snap.QuestionAccuracy.PerQuestion["q1"]
	if q1.Total != 2 || q1.Correct != 1 || q1.AvgResponseTime != 6 {
		t.Fatalf("q1 stat = %+v", q1)
	}

	// watchRate 200/300, completion 0.5, accuracy 0.5
	wantScore := 0.4*(200.0/300.0) + 0.3*0.5 + 0.3*0.5
	if math.Abs(snap.EngagementScore-wantScore) > 1e-9 {
		t.Fatalf("engagement score = %v, want %v", snap.EngagementScore, wantScore)
	}
}

func TestAggregatorSkipsQuarantined(t *testing.T) {
	agg := New(nil, nil, nil, 30, nil)

	agg.OnSessionOpened("video-1")
	agg.OnSessionOpened("video-1")
	bad := closedSession("s1", models.SessionAbandoned, 50, 300, 50)
	bad.Quarantined = true
	agg.OnSessionClosed(bad)
	agg.OnSessionClosed(closedSession("s2", models.SessionCompleted, 300, 300, 300))

	snap := agg.Snapshot("video-1")
	if snap.TotalSessions != 1 {
		t.Fatalf("total = %d, want 1 (quarantined excluded)", snap.TotalSessions)
	}
	if snap.CompletionRate != 1 {
		t.Fatalf("completion rate = %v, want 1", snap.CompletionRate)
	}
}

func TestAggregatorCountsOpenSessions(t *testing.T) {
	agg := New(nil, nil, nil, 30, nil)

	agg.OnSessionOpened("video-1")
	agg.OnSessionOpened("video-1")
	agg.OnSessionClosed(closedSession("s1", models.SessionCompleted, 300, 300, 300))

	snap := agg.Snapshot("video-1")
	if snap.TotalSessions != 2 {
		t.Fatalf("total = %d, want 2 (one closed + one open)", snap.TotalSessions)
	}
	if snap.CompletedSessions != 1 {
		t.Fatalf("completed = %d, want 1", snap.CompletedSessions)
	}
	if snap.CompletionRate != 0.5 {
		t.Fatalf("completion rate = %v, want 0.5", snap.CompletionRate)
	}
}

func TestAggregatorWelfordMean(t *testing.T) {
	agg := New(nil, nil, nil, 30, nil)
	watches := []float64{120, 180, 240, 60, 300}
	var sum float64
	for i, w := range watches {
		agg.OnSessionClosed(closedSession("s", models.SessionCompleted, w, 300, 300))
		sum += w
		snap := agg.Snapshot("video-1")
		want := sum / float64(i+1)
		if math.Abs(snap.AvgDistinctWatchTime-want) > 1e-9 {
			t.Fatalf("after %d sessions: mean = %v, want %v", i+1, snap.AvgDistinctWatchTime, want)
		}
	}
}

func TestRebuildMatchesRolling(t *testing.T) {
	makeEvents := func(sessionID string, startOffset int) []models.EngagementEvent {
		mk := func(t models.EventType, off int, ts float64) models.EngagementEvent {
			return models.EngagementEvent{
				EventType:       t,
				UserID:          "user-1",
				VideoID:         "video-1",
				SessionID:       sessionID,
				VideoTimestamp:  ts,
				VideoDuration:   300,
				ServerTimestamp: testBase.Add(time.Duration(startOffset+off) * time.Second),
			}
		}
		return []models.EngagementEvent{
			mk(models.EventStart, 0, 0),
			mk(models.EventPause, 100, 100),
			mk(models.EventResume, 110, 100),
			mk(models.EventComplete, 320, 300),
		}
	}

	var all []models.EngagementEvent
	all = append(all, makeEvents("s1", 0)...)
	all = append(all, makeEvents("s2", 1000)...)
	// A session still open at rebuild time counts toward the total.
	all = append(all, models.EngagementEvent{
		EventType:       models.EventStart,
		UserID:          "user-1",
		VideoID:         "video-1",
		SessionID:       "s3",
		VideoDuration:   300,
		ServerTimestamp: testBase.Add(2000 * time.Second),
	})

	source := &memSource{events: all}
	agg := New(nil, source, nil, 30, nil)

	snap, err := agg.Rebuild(context.Background(), "video-1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.TotalSessions != 3 || snap.CompletedSessions != 2 {
		t.Fatalf("rebuilt counts = %d/%d, want 3/2", snap.TotalSessions, snap.CompletedSessions)
	}
	if snap.AvgDistinctWatchTime != 300 {
		t.Fatalf("rebuilt avg watch = %v, want 300", snap.AvgDistinctWatchTime)
	}

	// Rebuilding again from the same log is idempotent.
	again, err := agg.Rebuild(context.Background(), "video-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.TotalSessions != snap.TotalSessions || again.AvgDistinctWatchTime != snap.AvgDistinctWatchTime {
		t.Fatalf("second rebuild diverged: %+v vs %+v", again, snap)
	}
}
