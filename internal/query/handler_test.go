package query

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/uplay-learning/engagement/internal/aggregator"
	"github.com/uplay-learning/engagement/internal/catalog"
	"github.com/uplay-learning/engagement/internal/models"
)

type fakeLive struct {
	snaps map[string]*models.VideoMetricsSnapshot
}

func (f *fakeLive) Peek(videoID string) *models.VideoMetricsSnapshot {
	return f.snaps[videoID]
}

type fakeSnapshots struct {
	snaps map[string]*models.VideoMetricsSnapshot
}

func (f *fakeSnapshots) Get(_ context.Context, videoID string) (*models.VideoMetricsSnapshot, error) {
	snap, ok := f.snaps[videoID]
	if !ok {
		return nil, aggregator.ErrSnapshotNotFound
	}
	return snap, nil
}

type fakeVideos struct {
	known map[string]bool
}

func (f *fakeVideos) Get(_ context.Context, videoID string) (*models.Video, error) {
	if !f.known[videoID] {
		return nil, catalog.ErrVideoNotFound
	}
	return &models.Video{VideoID: videoID}, nil
}

type fakeReports struct {
	report *models.RangeReport
}

func (f *fakeReports) ReportRange(_ context.Context, start, end time.Time) (*models.RangeReport, error) {
	rep := *f.report
	rep.StartDate = start
	rep.EndDate = end
	return &rep, nil
}

type fakeDiscrepancies struct {
	list []models.DurationDiscrepancy
}

func (f *fakeDiscrepancies) List(_ context.Context, status models.ResolutionStatus) ([]models.DurationDiscrepancy, error) {
	if status == "" {
		return f.list, nil
	}
	var out []models.DurationDiscrepancy
	for _, d := range f.list {
		if d.ResolutionStatus == status {
			out = append(out, d)
		}
	}
	return out, nil
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/videos/:id/metrics", h.GetVideoMetrics)
	r.GET("/reports", h.GetReport)
	r.GET("/discrepancies", h.GetDiscrepancies)
	return r
}

func newTestHandler() *Handler {
	live := &fakeLive{snaps: map[string]*models.VideoMetricsSnapshot{
		"video-live": {VideoID: "video-live", TotalSessions: 4, CompletedSessions: 2},
	}}
	persisted := &fakeSnapshots{snaps: map[string]*models.VideoMetricsSnapshot{
		"video-persisted": {VideoID: "video-persisted", TotalSessions: 9},
	}}
	videos := &fakeVideos{known: map[string]bool{
		"video-live": true, "video-persisted": true, "video-quiet": true,
	}}
	reports := &fakeReports{report: &models.RangeReport{TotalSessions: 12, CompletedSessions: 6, CompletionRate: 0.5}}
	discrepancies := &fakeDiscrepancies{list: []models.DurationDiscrepancy{
		{VideoID: "video-live", ResolutionStatus: models.DiscrepancyOpen},
		{VideoID: "video-persisted", ResolutionStatus: models.DiscrepancyResolved},
	}}
	cache := NewSnapshotCache(nil, time.Minute, nil)
	return NewHandler(live, persisted, videos, reports, discrepancies, cache, nil)
}

func doGet(t *testing.T, r *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	return w, body
}

func TestGetVideoMetricsLiveWins(t *testing.T) {
	r := newTestRouter(newTestHandler())
	w, body := doGet(t, r, "/videos/video-live/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var snap models.VideoMetricsSnapshot
	if err := json.Unmarshal(body["data"], &snap); err != nil {
		t.Fatal(err)
	}
	if snap.TotalSessions != 4 {
		t.Fatalf("total = %d, want live value 4", snap.TotalSessions)
	}
}

func TestGetVideoMetricsFallsBackToPersisted(t *testing.T) {
	r := newTestRouter(newTestHandler())
	w, body := doGet(t, r, "/videos/video-persisted/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var snap models.VideoMetricsSnapshot
	if err := json.Unmarshal(body["data"], &snap); err != nil {
		t.Fatal(err)
	}
	if snap.TotalSessions != 9 {
		t.Fatalf("total = %d, want persisted value 9", snap.TotalSessions)
	}
}

func TestGetVideoMetricsQuietVideoEmptySnapshot(t *testing.T) {
	r := newTestRouter(newTestHandler())
	w, body := doGet(t, r, "/videos/video-quiet/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var snap models.VideoMetricsSnapshot
	if err := json.Unmarshal(body["data"], &snap); err != nil {
		t.Fatal(err)
	}
	if snap.TotalSessions != 0 || snap.VideoID != "video-quiet" {
		t.Fatalf("snapshot = %+v, want empty for quiet video", snap)
	}
}

func TestGetVideoMetricsUnknownVideo(t *testing.T) {
	r := newTestRouter(newTestHandler())
	w, _ := doGet(t, r, "/videos/nope/metrics")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetReportValidation(t *testing.T) {
	r := newTestRouter(newTestHandler())
	tests := []struct {
		path string
		want int
	}{
		{"/reports?start_date=2026-03-01&end_date=2026-03-31", http.StatusOK},
		{"/reports?start_date=bogus&end_date=2026-03-31", http.StatusBadRequest},
		{"/reports?start_date=2026-03-01", http.StatusBadRequest},
		{"/reports?start_date=2026-03-31&end_date=2026-03-01", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w, _ := doGet(t, r, tt.path)
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestGetDiscrepanciesStatusFilter(t *testing.T) {
	r := newTestRouter(newTestHandler())

	w, body := doGet(t, r, "/discrepancies?status=open")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list []models.DurationDiscrepancy
	if err := json.Unmarshal(body["data"], &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].VideoID != "video-live" {
		t.Fatalf("list = %+v, want single open record", list)
	}

	w, _ = doGet(t, r, "/discrepancies?status=bogus")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid filter", w.Code)
	}
}
