package reconcile

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uplay-learning/engagement/internal/catalog"
	"github.com/uplay-learning/engagement/internal/models"
	"github.com/uplay-learning/engagement/pkg/queue"
	"github.com/uplay-learning/engagement/pkg/response"
)

// Enqueuer schedules background jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.JobType, payload interface{}) error
}

// Acknowledger moves open discrepancies to acknowledged.
type Acknowledger interface {
	Acknowledge(ctx context.Context, id uuid.UUID) error
}

// Handler serves reconciliation endpoints.
type Handler struct {
	service *Service
	acks    Acknowledger
	jobs    Enqueuer
	logger  *zap.Logger
}

// NewHandler creates a reconciliation handler.
func NewHandler(service *Service, acks Acknowledger, jobs Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, acks: acks, jobs: jobs, logger: logger}
}

// AcknowledgeDiscrepancy handles PATCH /discrepancies/:id/acknowledge.
func (h *Handler) AcknowledgeDiscrepancy(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid discrepancy id")
		return
	}
	if err := h.acks.Acknowledge(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrDiscrepancyNotFound) {
			response.NotFound(c, "no open discrepancy with that id")
			return
		}
		h.logger.Error("acknowledge failed", zap.Error(err), zap.String("discrepancy_id", id.String()))
		response.Internal(c, "failed to acknowledge discrepancy")
		return
	}
	response.OK(c, gin.H{"id": id, "resolutionStatus": models.DiscrepancyAcknowledged})
}

// RecomputeVideo handles POST /videos/:id/recompute: a synchronous snapshot
// rebuild plus duration check for one video.
func (h *Handler) RecomputeVideo(c *gin.Context) {
	videoID := c.Param("id")
	snap, d, err := h.service.ForceRecompute(c.Request.Context(), videoID)
	if err != nil {
		if errors.Is(err, catalog.ErrVideoNotFound) {
			response.NotFound(c, "video not found")
			return
		}
		h.logger.Error("recompute failed", zap.Error(err), zap.String("video_id", videoID))
		response.Internal(c, "failed to recompute metrics")
		return
	}
	body := gin.H{"snapshot": snap}
	if d != nil {
		body["discrepancy"] = d
	}
	response.OK(c, body)
}

// RunReconciliation handles POST /reconcile/run: schedules a full catalog
// pass on the background worker.
func (h *Handler) RunReconciliation(c *gin.Context) {
	if err := h.jobs.Enqueue(c.Request.Context(), queue.JobTypeReconcile, queue.ReconcilePayload{}); err != nil {
		h.logger.Error("reconcile enqueue failed", zap.Error(err))
		response.Internal(c, "failed to schedule reconciliation")
		return
	}
	response.Accepted(c, gin.H{"status": "scheduled"})
}
