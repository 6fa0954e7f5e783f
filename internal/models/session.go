package models

import "time"

// SessionState is the lifecycle state of a viewing session.
type SessionState string

const (
	SessionOpen      SessionState = "open"
	SessionCompleted SessionState = "completed"
	SessionAbandoned SessionState = "abandoned"
)

// Closed reports whether the state is terminal.
func (s SessionState) Closed() bool {
	return s == SessionCompleted || s == SessionAbandoned
}

// Anomaly flags recorded during reconstruction. Flagged sessions are kept,
// never dropped; quarantined ones are excluded from aggregation.
const (
	AnomalyImplicitStart      = "implicit_start"
	AnomalyOutOfOrder         = "out_of_order_delivery"
	AnomalyNegativeInterval   = "negative_interval"
	AnomalyPauseWhileStopped  = "pause_while_stopped"
	AnomalyEventAfterTerminal = "event_after_terminal"
	AnomalySeekOriginMissing  = "seek_origin_missing"
	AnomalyIdleTimeout        = "idle_timeout"
)

// Interval is a contiguous range of video seconds inferred to have been
// actually played. Start <= End always holds.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Length returns the interval length in seconds.
func (iv Interval) Length() float64 { return iv.End - iv.Start }

// Session is one viewing attempt, derived by folding the session's event log.
// Attempt distinguishes logical records when a session id re-enters a video
// after a terminal event.
type Session struct {
	SessionID          string            `json:"sessionId"`
	Attempt            int               `json:"attempt"`
	UserID             string            `json:"userId"`
	VideoID            string            `json:"videoId"`
	Events             []EngagementEvent `json:"events,omitempty"`
	WatchedIntervals   []Interval        `json:"watchedIntervals"`
	State              SessionState      `json:"state"`
	Anomalies          []string          `json:"anomalies,omitempty"`
	Quarantined        bool              `json:"quarantined,omitempty"`
	ClientWatchTime    *float64          `json:"clientWatchTime,omitempty"`
	LastKnownTimestamp float64           `json:"lastKnownTimestamp"`
	LastKnownDuration  float64           `json:"lastKnownDuration"`
	OpenedAt           time.Time         `json:"openedAt"`
	LastEventAt        time.Time         `json:"lastEventAt"`
	ClosedAt           *time.Time        `json:"closedAt,omitempty"`
}

// WatchedSeconds returns the sum of watched-interval lengths.
func (s *Session) WatchedSeconds() float64 {
	var total float64
	for _, iv := range s.WatchedIntervals {
		total += iv.Length()
	}
	return total
}

// EffectiveWatchTime is the watched duration used for aggregation: the larger
// of the reconstructed interval sum and the client-reported tally, since
// client self-reports can undercount when pause events are missed.
func (s *Session) EffectiveWatchTime() float64 {
	watched := s.WatchedSeconds()
	if s.ClientWatchTime != nil && *s.ClientWatchTime > watched {
		return *s.ClientWatchTime
	}
	return watched
}

// Flag records an anomaly once.
func (s *Session) Flag(anomaly string) {
	for _, a := range s.Anomalies {
		if a == anomaly {
			return
		}
	}
	s.Anomalies = append(s.Anomalies, anomaly)
}
