package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/uplay-learning/engagement/internal/models"
)

// Validation reason codes, surfaced to callers for machine handling.
const (
	CodeUnknownEventType  = "unknown_event_type"
	CodeMissingIdentifier = "missing_identifier"
	CodeNegativeTimestamp = "negative_timestamp"
	CodeTimestampBeyond   = "timestamp_beyond_duration"
	CodeInvalidDuration   = "invalid_duration"
	CodeWatchTimePresence = "watch_time_on_non_terminal"
	CodeNegativeWatchTime = "negative_watch_time"
	CodeWatchTimeBeyond   = "watch_time_beyond_duration"
)

// ValidationError rejects a submitted event before any state mutation. Safe to
// retry after correcting the payload.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Code, e.Message)
}

// SubmitRequest is a raw event payload as submitted by a caller. The server
// assigns the event id and server timestamp on acceptance.
type SubmitRequest struct {
	EventType      string                 `json:"eventType"`
	UserID         string                 `json:"userId"`
	VideoID        string                 `json:"videoId"`
	SessionID      string                 `json:"sessionId"`
	VideoTimestamp float64                `json:"videoTimestamp"`
	VideoDuration  float64                `json:"videoDuration"`
	TotalWatchTime *float64               `json:"totalWatchTime,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Validator normalizes and validates single submitted events. Validation is
// pure aside from assigning the server timestamp from the validator's clock.
type Validator struct {
	tolerance float64
	now       func() time.Time
}

// NewValidator creates a validator. tolerance absorbs client-side rounding on
// position and watch-time checks (seconds).
func NewValidator(tolerance float64) *Validator {
	return &Validator{tolerance: tolerance, now: time.Now}
}

// WithClock overrides the validator clock, for tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate checks req and, on success, returns a normalized EngagementEvent
// with the server timestamp assigned.
func (v *Validator) Validate(req SubmitRequest) (*models.EngagementEvent, *ValidationError) {
	et := models.EventType(req.EventType)
	if !et.Valid() {
		return nil, &ValidationError{Code: CodeUnknownEventType, Field: "eventType",
			Message: fmt.Sprintf("unrecognized event type %q", req.EventType)}
	}
	if req.SessionID == "" {
		return nil, &ValidationError{Code: CodeMissingIdentifier, Field: "sessionId", Message: "sessionId is required"}
	}
	if req.UserID == "" {
		return nil, &ValidationError{Code: CodeMissingIdentifier, Field: "userId", Message: "userId is required"}
	}
	if req.VideoID == "" {
		return nil, &ValidationError{Code: CodeMissingIdentifier, Field: "videoId", Message: "videoId is required"}
	}
	if req.VideoDuration < 0 {
		return nil, &ValidationError{Code: CodeInvalidDuration, Field: "videoDuration", Message: "videoDuration must be non-negative"}
	}
	if req.VideoTimestamp < 0 {
		return nil, &ValidationError{Code: CodeNegativeTimestamp, Field: "videoTimestamp", Message: "videoTimestamp must be non-negative"}
	}
	// For seek the timestamp is the destination, which players may report past
	// the stored duration when that duration is stale, so seek skips the bound.
	if et != models.EventSeek && req.VideoTimestamp > req.VideoDuration+v.tolerance {
		return nil, &ValidationError{Code: CodeTimestampBeyond, Field: "videoTimestamp",
			Message: fmt.Sprintf("videoTimestamp %.1f exceeds duration %.1f", req.VideoTimestamp, req.VideoDuration)}
	}
	if req.TotalWatchTime != nil {
		if !et.Terminal() {
			return nil, &ValidationError{Code: CodeWatchTimePresence, Field: "totalWatchTime",
				Message: "totalWatchTime is only accepted on complete/abandon events"}
		}
		if *req.TotalWatchTime < 0 {
			return nil, &ValidationError{Code: CodeNegativeWatchTime, Field: "totalWatchTime", Message: "totalWatchTime must be non-negative"}
		}
		if *req.TotalWatchTime > req.VideoDuration+v.tolerance {
			return nil, &ValidationError{Code: CodeWatchTimeBeyond, Field: "totalWatchTime",
				Message: fmt.Sprintf("totalWatchTime %.1f exceeds duration %.1f", *req.TotalWatchTime, req.VideoDuration)}
		}
	}

	return &models.EngagementEvent{
		ID:              uuid.New(),
		EventType:       et,
		UserID:          req.UserID,
		VideoID:         req.VideoID,
		SessionID:       req.SessionID,
		VideoTimestamp:  req.VideoTimestamp,
		VideoDuration:   req.VideoDuration,
		TotalWatchTime:  req.TotalWatchTime,
		Metadata:        req.Metadata,
		ServerTimestamp: v.now().UTC(),
	}, nil
}
