package models

import (
	"time"

	"github.com/google/uuid"
)

// ResolutionStatus is the lifecycle state of a duration discrepancy.
// open -> acknowledged (manual) -> resolved (automatic), or open -> resolved
// directly once the stored duration is corrected.
type ResolutionStatus string

const (
	DiscrepancyOpen         ResolutionStatus = "open"
	DiscrepancyAcknowledged ResolutionStatus = "acknowledged"
	DiscrepancyResolved     ResolutionStatus = "resolved"
)

// Confidence qualifies how an authoritative duration was obtained. The
// external lookup is best-effort: provider APIs, title patterns, or estimates.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DurationEstimate is an authoritative-duration lookup result. The engine
// treats the value as advisory.
type DurationEstimate struct {
	Seconds    float64    `json:"seconds"`
	Confidence Confidence `json:"confidence"`
}

// DurationDiscrepancy records a significant mismatch between a video's stored
// duration and its authoritative duration.
// DeltaSeconds = AuthoritativeDuration - StoredDuration.
type DurationDiscrepancy struct {
	ID                    uuid.UUID        `json:"id"`
	VideoID               string           `json:"videoId"`
	StoredDuration        float64          `json:"storedDuration"`
	AuthoritativeDuration float64          `json:"authoritativeDuration"`
	DeltaSeconds          float64          `json:"deltaSeconds"`
	Confidence            Confidence       `json:"confidence"`
	DetectedAt            time.Time        `json:"detectedAt"`
	ResolutionStatus      ResolutionStatus `json:"resolutionStatus"`
	ResolvedAt            *time.Time       `json:"resolvedAt,omitempty"`
}
