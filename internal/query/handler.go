package query

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/uplay-learning/engagement/internal/aggregator"
	"github.com/uplay-learning/engagement/internal/catalog"
	"github.com/uplay-learning/engagement/internal/models"
	"github.com/uplay-learning/engagement/pkg/response"
)

const dateLayout = "2006-01-02"

// LiveSnapshots reads the in-process rolling aggregator.
type LiveSnapshots interface {
	Peek(videoID string) *models.VideoMetricsSnapshot
}

// SnapshotReader reads persisted snapshots.
type SnapshotReader interface {
	Get(ctx context.Context, videoID string) (*models.VideoMetricsSnapshot, error)
}

// CatalogReader checks video existence.
type CatalogReader interface {
	Get(ctx context.Context, videoID string) (*models.Video, error)
}

// Reporter aggregates closed sessions over a date range.
type Reporter interface {
	ReportRange(ctx context.Context, start, end time.Time) (*models.RangeReport, error)
}

// DiscrepancyLister lists duration discrepancies.
type DiscrepancyLister interface {
	List(ctx context.Context, status models.ResolutionStatus) ([]models.DurationDiscrepancy, error)
}

// Handler serves the read-only query endpoints.
type Handler struct {
	live          LiveSnapshots
	snapshots     SnapshotReader
	videos        CatalogReader
	reports       Reporter
	discrepancies DiscrepancyLister
	cache         *SnapshotCache
	logger        *zap.Logger
}

// NewHandler creates a query handler.
func NewHandler(live LiveSnapshots, snapshots SnapshotReader, videos CatalogReader,
	reports Reporter, discrepancies DiscrepancyLister, cache *SnapshotCache, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		live:          live,
		snapshots:     snapshots,
		videos:        videos,
		reports:       reports,
		discrepancies: discrepancies,
		cache:         cache,
		logger:        logger,
	}
}

// GetVideoMetrics handles GET /videos/:id/metrics. The live rolling snapshot
// wins when present; otherwise the persisted one (fresh after a restart).
func (h *Handler) GetVideoMetrics(c *gin.Context) {
	videoID := c.Param("id")
	ctx := c.Request.Context()

	if snap := h.cache.Get(ctx, videoID); snap != nil {
		response.OK(c, snap)
		return
	}

	if snap := h.live.Peek(videoID); snap != nil && snap.TotalSessions > 0 {
		h.cache.Set(ctx, snap)
		response.OK(c, snap)
		return
	}

	snap, err := h.snapshots.Get(ctx, videoID)
	if err == nil {
		h.cache.Set(ctx, snap)
		response.OK(c, snap)
		return
	}
	if !errors.Is(err, aggregator.ErrSnapshotNotFound) {
		h.logger.Error("snapshot read failed", zap.Error(err), zap.String("video_id", videoID))
		response.Internal(c, "failed to load metrics")
		return
	}

	// No metrics yet; distinguish a quiet video from an unknown one.
	if _, err := h.videos.Get(ctx, videoID); err != nil {
		if errors.Is(err, catalog.ErrVideoNotFound) {
			response.NotFound(c, "video not found")
			return
		}
		h.logger.Error("catalog read failed", zap.Error(err), zap.String("video_id", videoID))
		response.Internal(c, "failed to load metrics")
		return
	}
	response.OK(c, emptySnapshot(videoID))
}

func emptySnapshot(videoID string) *models.VideoMetricsSnapshot {
	return &models.VideoMetricsSnapshot{
		VideoID:          videoID,
		DropOffHistogram: map[string]int64{},
		LastComputedAt:   time.Now().UTC(),
	}
}

// GetReport handles GET /reports?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD.
// Both dates are inclusive.
func (h *Handler) GetReport(c *gin.Context) {
	start, err := time.Parse(dateLayout, c.Query("start_date"))
	if err != nil {
		response.BadRequest(c, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse(dateLayout, c.Query("end_date"))
	if err != nil {
		response.BadRequest(c, "end_date must be YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		response.BadRequest(c, "end_date precedes start_date")
		return
	}

	rep, err := h.reports.ReportRange(c.Request.Context(), start, end.Add(24*time.Hour))
	if err != nil {
		h.logger.Error("range report failed", zap.Error(err))
		response.Internal(c, "failed to build report")
		return
	}
	rep.StartDate = start
	rep.EndDate = end
	response.OK(c, rep)
}

// GetDiscrepancies handles GET /discrepancies?status=.
func (h *Handler) GetDiscrepancies(c *gin.Context) {
	status := models.ResolutionStatus(c.Query("status"))
	switch status {
	case "", models.DiscrepancyOpen, models.DiscrepancyAcknowledged, models.DiscrepancyResolved:
	default:
		response.BadRequest(c, "status must be open, acknowledged or resolved")
		return
	}

	list, err := h.discrepancies.List(c.Request.Context(), status)
	if err != nil {
		h.logger.Error("discrepancy list failed", zap.Error(err))
		response.Internal(c, "failed to list discrepancies")
		return
	}
	if list == nil {
		list = []models.DurationDiscrepancy{}
	}
	response.OK(c, list)
}
