package models

import "time"

// Video is the engine's view of a catalog entry: enough to read the stored
// duration and to feed the authoritative-duration lookup heuristics. The
// catalog's full metadata lives with the content catalog collaborator.
type Video struct {
	VideoID        string    `json:"videoId"`
	Title          string    `json:"title"`
	Content        string    `json:"content"` // source URL or embed markup
	Platform       string    `json:"platform"`
	ExternalID     string    `json:"externalId,omitempty"`
	StoredDuration float64   `json:"storedDuration"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
