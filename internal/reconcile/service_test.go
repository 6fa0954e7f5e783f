package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/uplay-learning/engagement/internal/models"
)

type fakeCatalog struct {
	videos map[string]*models.Video
}

func (f *fakeCatalog) Get(_ context.Context, videoID string) (*models.Video, error) {
	v, ok := f.videos[videoID]
	if !ok {
		return nil, errors.New("video not found")
	}
	return v, nil
}

func (f *fakeCatalog) List(_ context.Context) ([]models.Video, error) {
	var out []models.Video
	for _, v := range f.videos {
		out = append(out, *v)
	}
	return out, nil
}

type fakeLookup struct {
	estimates map[string]models.DurationEstimate
	err       error
}

func (f *fakeLookup) Estimate(_ context.Context, v *models.Video) (models.DurationEstimate, error) {
	if f.err != nil {
		return models.DurationEstimate{}, f.err
	}
	return f.estimates[v.VideoID], nil
}

type fakeDiscrepancies struct {
	upserts  []*models.DurationDiscrepancy
	resolved []string
	hasOpen  map[string]bool
}

func newFakeDiscrepancies() *fakeDiscrepancies {
	return &fakeDiscrepancies{hasOpen: make(map[string]bool)}
}

func (f *fakeDiscrepancies) UpsertOpen(_ context.Context, d *models.DurationDiscrepancy) error {
	f.upserts = append(f.upserts, d)
	f.hasOpen[d.VideoID] = true
	return nil
}

func (f *fakeDiscrepancies) ResolveOpen(_ context.Context, videoID string) (bool, error) {
	f.resolved = append(f.resolved, videoID)
	had := f.hasOpen[videoID]
	f.hasOpen[videoID] = false
	return had, nil
}

func newTestService(lookup *fakeLookup, store *fakeDiscrepancies) *Service {
	catalog := &fakeCatalog{videos: map[string]*models.Video{
		"video-1": {VideoID: "video-1", Title: "Lecture", StoredDuration: 300},
	}}
	return NewService(catalog, lookup, store, nil, nil, 5, time.Second, nil)
}

func TestCheckVideoWithinToleranceNoRecord(t *testing.T) {
	store := newFakeDiscrepancies()
	svc := newTestService(&fakeLookup{estimates: map[string]models.DurationEstimate{
		"video-1": {Seconds: 304, Confidence: models.ConfidenceHigh},
	}}, store)

	d, err := svc.CheckVideo(context.Background(), "video-1")
	if err != nil {
		t.Fatal(err)
	}
	if d != nil {
		t.Fatalf("got discrepancy %+v, want none for delta below threshold", d)
	}
	if len(store.upserts) != 0 {
		t.Fatalf("upserts = %d, want 0", len(store.upserts))
	}
}

func TestCheckVideoSignificantDeltaFlagged(t *testing.T) {
	store := newFakeDiscrepancies()
	svc := newTestService(&fakeLookup{estimates: map[string]models.DurationEstimate{
		"video-1": {Seconds: 310, Confidence: models.ConfidenceHigh},
	}}, store)

	d, err := svc.CheckVideo(context.Background(), "video-1")
	if err != nil {
		t.Fatal(err)
	}
	if d == nil {
		t.Fatal("want discrepancy for 10s delta")
	}
	if d.DeltaSeconds != 10 {
		t.Fatalf("delta = %v, want 10", d.DeltaSeconds)
	}
	if d.StoredDuration != 300 || d.AuthoritativeDuration != 310 {
		t.Fatalf("durations = %v/%v", d.StoredDuration, d.AuthoritativeDuration)
	}
	if d.ResolutionStatus != models.DiscrepancyOpen {
		t.Fatalf("status = %s, want open", d.ResolutionStatus)
	}
	if d.Confidence != models.ConfidenceHigh {
		t.Fatalf("confidence = %s, want high", d.Confidence)
	}
}

func TestCheckVideoNegativeDelta(t *testing.T) {
	store := newFakeDiscrepancies()
	svc := newTestService(&fakeLookup{estimates: map[string]models.DurationEstimate{
		"video-1": {Seconds: 280, Confidence: models.ConfidenceMedium},
	}}, store)

	d, err := svc.CheckVideo(context.Background(), "video-1")
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.DeltaSeconds != -20 {
		t.Fatalf("discrepancy = %+v, want delta -20", d)
	}
}

func TestCheckVideoLookupFailureSkips(t *testing.T) {
	store := newFakeDiscrepancies()
	svc := newTestService(&fakeLookup{err: errors.New("provider timeout")}, store)

	_, err := svc.CheckVideo(context.Background(), "video-1")
	if err == nil {
		t.Fatal("want error on lookup failure")
	}
	if len(store.upserts) != 0 || len(store.resolved) != 0 {
		t.Fatal("lookup failure must not touch discrepancy records")
	}
}

func TestCheckVideoResolvesWhenDurationsConverge(t *testing.T) {
	store := newFakeDiscrepancies()
	lookup := &fakeLookup{estimates: map[string]models.DurationEstimate{
		"video-1": {Seconds: 360, Confidence: models.ConfidenceHigh},
	}}
	svc := newTestService(lookup, store)

	if _, err := svc.CheckVideo(context.Background(), "video-1"); err != nil {
		t.Fatal(err)
	}
	if !store.hasOpen["video-1"] {
		t.Fatal("expected open discrepancy after first check")
	}

	// Authoritative source now agrees with the stored duration.
	lookup.estimates["video-1"] = models.DurationEstimate{Seconds: 301, Confidence: models.ConfidenceHigh}
	d, err := svc.CheckVideo(context.Background(), "video-1")
	if err != nil {
		t.Fatal(err)
	}
	if d != nil {
		t.Fatalf("got discrepancy %+v after convergence", d)
	}
	if store.hasOpen["video-1"] {
		t.Fatal("open discrepancy should be resolved")
	}
}
