package models

import "time"

// QuestionStat holds accuracy counters for a single in-video question.
type QuestionStat struct {
	Correct         int64   `json:"correct"`
	Total           int64   `json:"total"`
	Accuracy        float64 `json:"accuracy"`
	AvgResponseTime float64 `json:"avgResponseTime"`
}

// QuestionAccuracy holds overall and per-question answer accuracy.
type QuestionAccuracy struct {
	Correct     int64                   `json:"correct"`
	Total       int64                   `json:"total"`
	Overall     float64                 `json:"overall"`
	PerQuestion map[string]QuestionStat `json:"perQuestion,omitempty"`
}

// VideoMetricsSnapshot is the rolling per-video engagement snapshot. It is
// derived state: it can always be rebuilt by replaying the event log.
// DropOffHistogram keys are bucket start seconds ("0", "30", ...).
type VideoMetricsSnapshot struct {
	VideoID              string           `json:"videoId"`
	TotalSessions        int64            `json:"totalSessions"`
	CompletedSessions    int64            `json:"completedSessions"`
	AbandonedSessions    int64            `json:"abandonedSessions"`
	CompletionRate       float64          `json:"completionRate"`
	AvgDistinctWatchTime float64          `json:"avgDistinctWatchTime"`
	EngagementScore      float64          `json:"engagementScore"`
	DropOffHistogram     map[string]int64 `json:"dropOffHistogram"`
	QuestionAccuracy     QuestionAccuracy `json:"questionAccuracy"`
	LastComputedAt       time.Time        `json:"lastComputedAt"`
}

// RangeReport aggregates engagement across videos active in a date range.
type RangeReport struct {
	StartDate         time.Time `json:"startDate"`
	EndDate           time.Time `json:"endDate"`
	VideosActive      int       `json:"videosActive"`
	TotalSessions     int64     `json:"totalSessions"`
	CompletedSessions int64     `json:"completedSessions"`
	AbandonedSessions int64     `json:"abandonedSessions"`
	CompletionRate    float64   `json:"completionRate"`
	AvgWatchSeconds   float64   `json:"avgWatchSeconds"`
	GeneratedAt       time.Time `json:"generatedAt"`
}
