package aggregator

import (
	"sync"
	"time"

	"github.com/uplay-learning/engagement/internal/models"
)

// videoState is the rolling accumulator for one video. Means use Welford's
// incremental update so no per-session history is retained.
type videoState struct {
	mu    sync.Mutex
	dirty bool

	opened    int64
	completed int64
	abandoned int64

	watchCount int64
	watchMean  float64

	durCount int64
	durMean  float64

	dropOff map[string]int64

	qCorrect  int64
	qTotal    int64
	questions map[string]*questionCounter
}

type questionCounter struct {
	correct int64
	total   int64
	rtCount int64
	rtMean  float64
}

func newVideoState() *videoState {
	return &videoState{
		dropOff:   make(map[string]int64),
		questions: make(map[string]*questionCounter),
	}
}

// apply folds one closed, non-quarantined session record in. Caller holds mu.
func (vs *videoState) apply(s *models.Session, bucketSec int) {
	switch s.State {
	case models.SessionCompleted:
		vs.completed++
	case models.SessionAbandoned:
		vs.abandoned++
		vs.dropOff[bucketKey(s.LastKnownTimestamp, bucketSec)]++
	}

	vs.watchCount++
	vs.watchMean += (s.EffectiveWatchTime() - vs.watchMean) / float64(vs.watchCount)

	if s.LastKnownDuration > 0 {
		vs.durCount++
		vs.durMean += (s.LastKnownDuration - vs.durMean) / float64(vs.durCount)
	}

	for i := range s.Events {
		ev := &s.Events[i]
		if ev.EventType != models.EventQuestionAnswered {
			continue
		}
		qid, ok := ev.MetaString(models.MetaQuestionID)
		if !ok || qid == "" {
			continue
		}
		correct, _ := ev.MetaBool(models.MetaIsCorrect)
		qc := vs.questions[qid]
		if qc == nil {
			qc = &questionCounter{}
			vs.questions[qid] = qc
		}
		qc.total++
		vs.qTotal++
		if correct {
			qc.correct++
			vs.qCorrect++
		}
		if rt, ok := ev.MetaFloat(models.MetaTimeSpent); ok {
			qc.rtCount++
			qc.rtMean += (rt - qc.rtMean) / float64(qc.rtCount)
		}
	}
}

// snapshot materializes the accumulator. Caller holds mu.
func (vs *videoState) snapshot(videoID string) *models.VideoMetricsSnapshot {
	// Total counts every distinct session record, open ones included. A close
	// replayed without its matching open still keeps the total consistent.
	total := vs.opened
	if total < vs.completed+vs.abandoned {
		total = vs.completed + vs.abandoned
	}
	snap := &models.VideoMetricsSnapshot{
		VideoID:              videoID,
		TotalSessions:        total,
		CompletedSessions:    vs.completed,
		AbandonedSessions:    vs.abandoned,
		AvgDistinctWatchTime: vs.watchMean,
		DropOffHistogram:     make(map[string]int64, len(vs.dropOff)),
		LastComputedAt:       time.Now().UTC(),
	}
	for k, v := range vs.dropOff {
		snap.DropOffHistogram[k] = v
	}
	if total > 0 {
		snap.CompletionRate = float64(vs.completed) / float64(total)
	}

	qa := models.QuestionAccuracy{Correct: vs.qCorrect, Total: vs.qTotal}
	if vs.qTotal > 0 {
		qa.Overall = float64(vs.qCorrect) / float64(vs.qTotal)
	}
	if len(vs.questions) > 0 {
		qa.PerQuestion = make(map[string]models.QuestionStat, len(vs.questions))
		for qid, qc := range vs.questions {
			stat := models.QuestionStat{
				Correct:         qc.correct,
				Total:           qc.total,
				AvgResponseTime: qc.rtMean,
			}
			if qc.total > 0 {
				stat.Accuracy = float64(qc.correct) / float64(qc.total)
			}
			qa.PerQuestion[qid] = stat
		}
	}
	snap.QuestionAccuracy = qa

	watchRate := 0.0
	if vs.durMean > 0 {
		watchRate = vs.watchMean / vs.durMean
		if watchRate > 1 {
			watchRate = 1
		}
	}
	snap.EngagementScore = weightWatchRate*watchRate +
		weightCompletion*snap.CompletionRate +
		weightAccuracy*qa.Overall
	return snap
}

// copyInto replaces dst's counters with vs's. Caller holds dst.mu; vs is a
// freshly built state not visible to other goroutines.
func (vs *videoState) copyInto(dst *videoState) {
	dst.opened = vs.opened
	dst.completed = vs.completed
	dst.abandoned = vs.abandoned
	dst.watchCount = vs.watchCount
	dst.watchMean = vs.watchMean
	dst.durCount = vs.durCount
	dst.durMean = vs.durMean
	dst.dropOff = vs.dropOff
	dst.qCorrect = vs.qCorrect
	dst.qTotal = vs.qTotal
	dst.questions = vs.questions
}

// syncMap is a keyed set of video states with get-or-create semantics.
type syncMap struct {
	mu sync.RWMutex
	m  map[string]*videoState
}

func newSyncMap() syncMap {
	return syncMap{m: make(map[string]*videoState)}
}

func (sm *syncMap) get(videoID string) *videoState {
	sm.mu.RLock()
	vs, ok := sm.m[videoID]
	sm.mu.RUnlock()
	if ok {
		return vs
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if vs, ok = sm.m[videoID]; ok {
		return vs
	}
	vs = newVideoState()
	sm.m[videoID] = vs
	return vs
}

func (sm *syncMap) peek(videoID string) *videoState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.m[videoID]
}

func (sm *syncMap) keys() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]string, 0, len(sm.m))
	for k := range sm.m {
		out = append(out, k)
	}
	return out
}
