package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uplay-learning/engagement/internal/models"
)

// Fallback duration estimates in seconds, keyed by title keyword. Applied in
// order; first match wins.
var keywordEstimates = []struct {
	keyword string
	seconds float64
}{
	{"trailer", 120},
	{"teaser", 120},
	{"short", 60},
	{"intro", 480},
	{"tutorial", 600},
	{"course", 900},
	{"lesson", 900},
	{"ted", 1080},
	{"podcast", 2400},
	{"interview", 2400},
	{"webinar", 3600},
	{"live", 3600},
	{"movie", 6000},
	{"film", 6000},
}

const defaultEstimateSeconds = 480

var (
	iso8601Duration  = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)
	bracketTimestamp = regexp.MustCompile(`[\[(](?:(\d{1,2}):)?(\d{1,3}):(\d{2})[\])]`)
	textMinutes      = regexp.MustCompile(`(\d+)\s*(?:minutes|mins|min)\b`)
	textHours        = regexp.MustCompile(`(\d+)\s*(?:hours|hrs|hour|hr)\b`)
)

// Lookup resolves a video's authoritative duration. Provider APIs give high
// confidence; title and description patterns give medium; keyword estimates
// and the default give low. Provider failures are returned as errors so the
// caller can skip the video for the cycle rather than act on a weak guess.
type Lookup struct {
	http       *http.Client
	youtubeKey string
	logger     *zap.Logger
}

// NewLookup creates a duration lookup. youtubeKey may be empty, in which case
// YouTube videos fall through to pattern heuristics.
func NewLookup(youtubeKey string, timeout time.Duration, logger *zap.Logger) *Lookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lookup{
		http:       &http.Client{Timeout: timeout},
		youtubeKey: youtubeKey,
		logger:     logger,
	}
}

// Estimate resolves the authoritative duration for v.
func (l *Lookup) Estimate(ctx context.Context, v *models.Video) (models.DurationEstimate, error) {
	switch strings.ToLower(v.Platform) {
	case "youtube":
		if l.youtubeKey != "" && v.ExternalID != "" {
			return l.youtubeDuration(ctx, v.ExternalID)
		}
	case "vimeo":
		if ref := vimeoRef(v); ref != "" {
			return l.vimeoDuration(ctx, ref)
		}
	}
	return l.heuristicEstimate(v), nil
}

func (l *Lookup) youtubeDuration(ctx context.Context, externalID string) (models.DurationEstimate, error) {
	endpoint := "https://www.googleapis.com/youtube/v3/videos?part=contentDetails&id=" +
		url.QueryEscape(externalID) + "&key=" + url.QueryEscape(l.youtubeKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.DurationEstimate{}, err
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return models.DurationEstimate{}, fmt.Errorf("youtube lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.DurationEstimate{}, fmt.Errorf("youtube lookup: status %d", resp.StatusCode)
	}

	var body struct {
		Items []struct {
			ContentDetails struct {
				Duration string `json:"duration"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.DurationEstimate{}, fmt.Errorf("youtube lookup: decode: %w", err)
	}
	if len(body.Items) == 0 {
		return models.DurationEstimate{}, fmt.Errorf("youtube lookup: video %s not found", externalID)
	}
	seconds, ok := ParseISO8601Duration(body.Items[0].ContentDetails.Duration)
	if !ok {
		return models.DurationEstimate{}, fmt.Errorf("youtube lookup: bad duration %q", body.Items[0].ContentDetails.Duration)
	}
	return models.DurationEstimate{Seconds: seconds, Confidence: models.ConfidenceHigh}, nil
}

func (l *Lookup) vimeoDuration(ctx context.Context, videoURL string) (models.DurationEstimate, error) {
	endpoint := "https://vimeo.com/api/oembed.json?url=" + url.QueryEscape(videoURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.DurationEstimate{}, err
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return models.DurationEstimate{}, fmt.Errorf("vimeo lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.DurationEstimate{}, fmt.Errorf("vimeo lookup: status %d", resp.StatusCode)
	}

	var body struct {
		Duration float64 `json:"duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.DurationEstimate{}, fmt.Errorf("vimeo lookup: decode: %w", err)
	}
	if body.Duration <= 0 {
		return models.DurationEstimate{}, fmt.Errorf("vimeo lookup: no duration in response")
	}
	return models.DurationEstimate{Seconds: body.Duration, Confidence: models.ConfidenceHigh}, nil
}

func vimeoRef(v *models.Video) string {
	if v.ExternalID != "" {
		return "https://vimeo.com/" + v.ExternalID
	}
	if strings.Contains(v.Content, "vimeo.com") {
		return v.Content
	}
	return ""
}

// heuristicEstimate guesses from title and description text.
func (l *Lookup) heuristicEstimate(v *models.Video) models.DurationEstimate {
	text := v.Title + " " + v.Content

	if m := bracketTimestamp.FindStringSubmatch(text); m != nil {
		var hours, minutes, seconds int
		if m[1] != "" {
			hours, _ = strconv.Atoi(m[1])
		}
		minutes, _ = strconv.Atoi(m[2])
		seconds, _ = strconv.Atoi(m[3])
		total := float64(hours*3600 + minutes*60 + seconds)
		if total > 0 {
			return models.DurationEstimate{Seconds: total, Confidence: models.ConfidenceMedium}
		}
	}

	lower := strings.ToLower(text)
	if m := textHours.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return models.DurationEstimate{Seconds: float64(n * 3600), Confidence: models.ConfidenceMedium}
		}
	}
	if m := textMinutes.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return models.DurationEstimate{Seconds: float64(n * 60), Confidence: models.ConfidenceMedium}
		}
	}

	for _, ke := range keywordEstimates {
		if strings.Contains(lower, ke.keyword) {
			return models.DurationEstimate{Seconds: ke.seconds, Confidence: models.ConfidenceLow}
		}
	}
	return models.DurationEstimate{Seconds: defaultEstimateSeconds, Confidence: models.ConfidenceLow}
}

// ParseISO8601Duration parses durations of the PT#H#M#S form used by the
// YouTube API.
func ParseISO8601Duration(s string) (float64, bool) {
	m := iso8601Duration.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	var total float64
	if m[1] != "" {
		n, _ := strconv.Atoi(m[1])
		total += float64(n) * 3600
	}
	if m[2] != "" {
		n, _ := strconv.Atoi(m[2])
		total += float64(n) * 60
	}
	if m[3] != "" {
		n, _ := strconv.Atoi(m[3])
		total += float64(n)
	}
	if total == 0 {
		return 0, false
	}
	return total, true
}
