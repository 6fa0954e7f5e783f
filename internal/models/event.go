package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a playback interaction kind.
type EventType string

const (
	EventStart            EventType = "start"
	EventPause            EventType = "pause"
	EventResume           EventType = "resume"
	EventSeek             EventType = "seek"
	EventQuestionAnswered EventType = "question_answered"
	EventComplete         EventType = "complete"
	EventAbandon          EventType = "abandon"
)

// Valid reports whether t is a recognized event type.
func (t EventType) Valid() bool {
	switch t {
	case EventStart, EventPause, EventResume, EventSeek, EventQuestionAnswered, EventComplete, EventAbandon:
		return true
	}
	return false
}

// Terminal reports whether t closes a session.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventAbandon
}

// Well-known metadata keys. Metadata is otherwise opaque to validation.
const (
	MetaQuestionID     = "questionId"
	MetaSelectedOption = "selectedOption"
	MetaIsCorrect      = "isCorrect"
	MetaTimeSpent      = "timeSpent"
	MetaSeekFrom       = "fromTime"
	MetaSeekTo         = "toTime"
	MetaSeekDistance   = "seekDistance"
	MetaAbandonReason  = "reason"
)

// EngagementEvent is one immutable playback interaction, as accepted by the
// validator. For seek events VideoTimestamp is the destination position.
type EngagementEvent struct {
	ID              uuid.UUID              `json:"id"`
	EventType       EventType              `json:"eventType"`
	UserID          string                 `json:"userId"`
	VideoID         string                 `json:"videoId"`
	SessionID       string                 `json:"sessionId"`
	VideoTimestamp  float64                `json:"videoTimestamp"`
	VideoDuration   float64                `json:"videoDuration"`
	TotalWatchTime  *float64               `json:"totalWatchTime,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	ServerTimestamp time.Time              `json:"serverTimestamp"`
}

// MetaFloat returns a numeric metadata value. JSON decoding yields float64 for
// numbers; int is accepted for events constructed in process.
func (e *EngagementEvent) MetaFloat(key string) (float64, bool) {
	v, ok := e.Metadata[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// MetaString returns a string metadata value.
func (e *EngagementEvent) MetaString(key string) (string, bool) {
	s, ok := e.Metadata[key].(string)
	return s, ok
}

// MetaBool returns a boolean metadata value.
func (e *EngagementEvent) MetaBool(key string) (bool, bool) {
	b, ok := e.Metadata[key].(bool)
	return b, ok
}
