// Package sessions reconstructs viewing-session timelines from engagement
// event logs and owns the per-session serialization point for ingestion.
package sessions

import (
	"sort"

	"github.com/uplay-learning/engagement/internal/models"
)

// Reconstruct folds an event list into a session record. The fold is pure:
// it sorts a copy of the input by server timestamp (stable, so arrival order
// breaks ties) and replays it, which makes the result independent of delivery
// order. Events after a terminal event are flagged and ignored; callers split
// re-entry into new logical records before folding.
//
// Individually valid but structurally odd streams are tolerated: a session
// whose first event is not a start is treated as started at that event's
// timestamp with a zero-length initial interval, and the session is flagged.
func Reconstruct(evs []models.EngagementEvent) *models.Session {
	if len(evs) == 0 {
		return nil
	}
	ordered := make([]models.EngagementEvent, len(evs))
	copy(ordered, evs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ServerTimestamp.Before(ordered[j].ServerTimestamp)
	})

	first := ordered[0]
	s := &models.Session{
		SessionID:   first.SessionID,
		Attempt:     1,
		UserID:      first.UserID,
		VideoID:     first.VideoID,
		Events:      ordered,
		State:       models.SessionOpen,
		OpenedAt:    first.ServerTimestamp,
		LastEventAt: first.ServerTimestamp,
	}

	var (
		cursor  float64
		playing bool
		started bool
	)
	for _, ev := range ordered {
		if s.State.Closed() {
			s.Flag(models.AnomalyEventAfterTerminal)
			continue
		}
		if !started && ev.EventType != models.EventStart {
			// Implicit start: zero-length initial interval at the first
			// event's position.
			cursor = ev.VideoTimestamp
			started = true
			addInterval(s, cursor, cursor)
			s.Flag(models.AnomalyImplicitStart)
		}

		switch ev.EventType {
		case models.EventStart:
			started = true
			cursor = ev.VideoTimestamp
			playing = true

		case models.EventResume:
			cursor = ev.VideoTimestamp
			playing = true

		case models.EventPause:
			if playing {
				closeInterval(s, cursor, ev.VideoTimestamp)
			} else {
				s.Flag(models.AnomalyPauseWhileStopped)
			}
			playing = false
			cursor = ev.VideoTimestamp

		case models.EventSeek:
			// VideoTimestamp is the destination; the watched segment ends at
			// the origin position carried in metadata. The skipped range is
			// never counted. Without the origin the segment played since the
			// cursor cannot be bounded, so it is dropped and flagged.
			from, hasOrigin := ev.MetaFloat(models.MetaSeekFrom)
			if !hasOrigin {
				from = cursor
				if playing {
					s.Flag(models.AnomalySeekOriginMissing)
				}
			}
			if playing {
				closeInterval(s, cursor, from)
			}
			cursor = ev.VideoTimestamp

		case models.EventQuestionAnswered:
			// Tallied by the aggregator; no interval effect.

		case models.EventComplete:
			end := ev.VideoDuration
			if ev.VideoTimestamp < end {
				end = ev.VideoTimestamp
			}
			if playing {
				closeInterval(s, cursor, end)
			}
			playing = false
			s.State = models.SessionCompleted
			closedAt := ev.ServerTimestamp
			s.ClosedAt = &closedAt

		case models.EventAbandon:
			if playing {
				closeInterval(s, cursor, ev.VideoTimestamp)
			}
			playing = false
			s.State = models.SessionAbandoned
			closedAt := ev.ServerTimestamp
			s.ClosedAt = &closedAt
			if reason, ok := ev.MetaString(models.MetaAbandonReason); ok && reason == models.AnomalyIdleTimeout {
				s.Flag(models.AnomalyIdleTimeout)
			}
		}

		s.LastKnownTimestamp = ev.VideoTimestamp
		if ev.VideoDuration > 0 {
			s.LastKnownDuration = ev.VideoDuration
		}
		if ev.TotalWatchTime != nil && ev.EventType.Terminal() {
			s.ClientWatchTime = ev.TotalWatchTime
		}
		if ev.ServerTimestamp.After(s.LastEventAt) {
			s.LastEventAt = ev.ServerTimestamp
		}
	}

	// A stream that produced a negative interval is structurally inconsistent;
	// keep the record but exclude it from aggregation until reviewed.
	for _, a := range s.Anomalies {
		if a == models.AnomalyNegativeInterval {
			s.Quarantined = true
		}
	}
	return s
}

// ReconstructAll splits a session's full event history into logical records,
// starting a new record after each terminal event (re-entry into a finished
// video), and folds each. Used by snapshot rebuilds.
func ReconstructAll(evs []models.EngagementEvent) []*models.Session {
	if len(evs) == 0 {
		return nil
	}
	ordered := make([]models.EngagementEvent, len(evs))
	copy(ordered, evs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ServerTimestamp.Before(ordered[j].ServerTimestamp)
	})

	var out []*models.Session
	var chunk []models.EngagementEvent
	flush := func() {
		if len(chunk) == 0 {
			return
		}
		s := Reconstruct(chunk)
		s.Attempt = len(out) + 1
		out = append(out, s)
		chunk = nil
	}
	for _, ev := range ordered {
		chunk = append(chunk, ev)
		if ev.EventType.Terminal() {
			flush()
		}
	}
	flush()
	return out
}

// closeInterval appends [from, to] when the gap is non-negative; a negative
// gap is recorded as an anomaly and dropped.
func closeInterval(s *models.Session, from, to float64) {
	if to < from {
		s.Flag(models.AnomalyNegativeInterval)
		return
	}
	addInterval(s, from, to)
}

// addInterval inserts [start, end] keeping WatchedIntervals sorted, pairwise
// disjoint and strictly increasing; touching or overlapping ranges merge.
func addInterval(s *models.Session, start, end float64) {
	merged := models.Interval{Start: start, End: end}
	var out []models.Interval
	inserted := false
	for _, iv := range s.WatchedIntervals {
		switch {
		case iv.End < merged.Start:
			out = append(out, iv)
		case merged.End < iv.Start:
			if !inserted {
				out = append(out, merged)
				inserted = true
			}
			out = append(out, iv)
		default:
			if iv.Start < merged.Start {
				merged.Start = iv.Start
			}
			if iv.End > merged.End {
				merged.End = iv.End
			}
		}
	}
	if !inserted {
		out = append(out, merged)
	}
	s.WatchedIntervals = out
}
