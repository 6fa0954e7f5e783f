package events

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/uplay-learning/engagement/internal/models"
)

func testValidator() *Validator {
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return NewValidator(2).WithClock(func() time.Time { return fixed })
}

func validReq() SubmitRequest {
	return SubmitRequest{
		EventType:      "start",
		UserID:         "user-1",
		VideoID:        "video-1",
		SessionID:      "session-1",
		VideoTimestamp: 0,
		VideoDuration:  300,
	}
}

func TestValidateAssignsIdentity(t *testing.T) {
	v := testValidator()
	ev, verr := v.Validate(validReq())
	if verr != nil {
		t.Fatalf("unexpected rejection: %v", verr)
	}
	if ev.ID == uuid.Nil {
		t.Fatal("event id not assigned")
	}
	if ev.ServerTimestamp.IsZero() {
		t.Fatal("server timestamp not assigned")
	}
	if ev.EventType != models.EventStart {
		t.Fatalf("event type = %s", ev.EventType)
	}
}

func TestValidateRejections(t *testing.T) {
	watch := func(f float64) *float64 { return &f }
	tests := []struct {
		name     string
		mutate   func(*SubmitRequest)
		wantCode string
	}{
		{"unknown type", func(r *SubmitRequest) { r.EventType = "buffering" }, CodeUnknownEventType},
		{"missing session", func(r *SubmitRequest) { r.SessionID = "" }, CodeMissingIdentifier},
		{"missing user", func(r *SubmitRequest) { r.UserID = "" }, CodeMissingIdentifier},
		{"missing video", func(r *SubmitRequest) { r.VideoID = "" }, CodeMissingIdentifier},
		{"negative timestamp", func(r *SubmitRequest) { r.VideoTimestamp = -1 }, CodeNegativeTimestamp},
		{"negative duration", func(r *SubmitRequest) { r.VideoDuration = -10 }, CodeInvalidDuration},
		{"timestamp beyond duration", func(r *SubmitRequest) { r.VideoTimestamp = 305 }, CodeTimestampBeyond},
		{"watch time on start", func(r *SubmitRequest) { r.TotalWatchTime = watch(100) }, CodeWatchTimePresence},
		{"negative watch time", func(r *SubmitRequest) {
			r.EventType = "complete"
			r.VideoTimestamp = 300
			r.TotalWatchTime = watch(-5)
		}, CodeNegativeWatchTime},
		{"watch time beyond duration", func(r *SubmitRequest) {
			r.EventType = "abandon"
			r.TotalWatchTime = watch(500)
		}, CodeWatchTimeBeyond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testValidator()
			req := validReq()
			tt.mutate(&req)
			_, verr := v.Validate(req)
			if verr == nil {
				t.Fatal("want rejection")
			}
			if verr.Code != tt.wantCode {
				t.Fatalf("code = %s, want %s", verr.Code, tt.wantCode)
			}
		})
	}
}

func TestValidateToleranceAbsorbsRounding(t *testing.T) {
	v := testValidator()
	req := validReq()
	req.EventType = "complete"
	req.VideoTimestamp = 301.5 // within the 2s tolerance of a 300s video
	if _, verr := v.Validate(req); verr != nil {
		t.Fatalf("unexpected rejection: %v", verr)
	}
}

func TestValidateSeekDestinationBeyondDuration(t *testing.T) {
	v := testValidator()
	req := validReq()
	req.EventType = "seek"
	req.VideoTimestamp = 290
	req.Metadata = map[string]interface{}{models.MetaSeekFrom: 30.0}
	if _, verr := v.Validate(req); verr != nil {
		t.Fatalf("unexpected rejection: %v", verr)
	}
}
