package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/uplay-learning/engagement/internal/models"
)

func TestParseISO8601Duration(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"PT5M", 300, true},
		{"PT1H2M3S", 3723, true},
		{"PT45S", 45, true},
		{"PT2H", 7200, true},
		{"PT0S", 0, false},
		{"5M", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseISO8601Duration(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseISO8601Duration(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHeuristicEstimate(t *testing.T) {
	lookup := NewLookup("", time.Second, nil)
	tests := []struct {
		name       string
		title      string
		content    string
		want       float64
		confidence models.Confidence
	}{
		{"bracket mm:ss", "Kubernetes basics [12:30]", "", 750, models.ConfidenceMedium},
		{"bracket hh:mm:ss", "Conference keynote [1:05:00]", "", 3900, models.ConfidenceMedium},
		{"paren timestamp", "Demo (4:15)", "", 255, models.ConfidenceMedium},
		{"text minutes", "Quick guide", "A 25 minutes walkthrough", 1500, models.ConfidenceMedium},
		{"text hours", "Deep dive", "about 2 hours of material", 7200, models.ConfidenceMedium},
		{"keyword trailer", "Official Trailer", "", 120, models.ConfidenceLow},
		{"keyword tutorial", "Go tutorial for beginners", "", 600, models.ConfidenceLow},
		{"keyword podcast", "Engineering podcast ep. 4", "", 2400, models.ConfidenceLow},
		{"default", "Untitled upload", "", 480, models.ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lookup.heuristicEstimate(&models.Video{Title: tt.title, Content: tt.content})
			if got.Seconds != tt.want || got.Confidence != tt.confidence {
				t.Fatalf("estimate = %+v, want %v seconds at %s", got, tt.want, tt.confidence)
			}
		})
	}
}

func TestEstimateFallsThroughWithoutProviderConfig(t *testing.T) {
	lookup := NewLookup("", time.Second, nil)
	v := &models.Video{VideoID: "v1", Title: "Lecture [10:00]", Platform: "youtube", ExternalID: "abc123"}
	got, err := lookup.Estimate(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	if got.Seconds != 600 || got.Confidence != models.ConfidenceMedium {
		t.Fatalf("estimate = %+v, want 600s medium", got)
	}
}
