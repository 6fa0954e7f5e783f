package events

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/uplay-learning/engagement/internal/models"
	"github.com/uplay-learning/engagement/pkg/metrics"
	"github.com/uplay-learning/engagement/pkg/response"
)

// Ingester applies validated events to session state.
type Ingester interface {
	Ingest(ctx context.Context, ev *models.EngagementEvent) (*models.Session, error)
}

// Handler serves event ingestion endpoints.
type Handler struct {
	validator *Validator
	ingester  Ingester
	logger    *zap.Logger
}

// NewHandler creates an ingestion handler.
func NewHandler(validator *Validator, ingester Ingester, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{validator: validator, ingester: ingester, logger: logger}
}

// sessionView is the ingestion response: the current session record without
// its event list.
type sessionView struct {
	SessionID       string              `json:"sessionId"`
	Attempt         int                 `json:"attempt"`
	State           models.SessionState `json:"state"`
	WatchedSeconds  float64             `json:"watchedSeconds"`
	Intervals       []models.Interval   `json:"watchedIntervals"`
	Anomalies       []string            `json:"anomalies,omitempty"`
	ServerTimestamp string              `json:"serverTimestamp"`
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func viewOf(s *models.Session, ev *models.EngagementEvent) sessionView {
	return sessionView{
		SessionID:       s.SessionID,
		Attempt:         s.Attempt,
		State:           s.State,
		WatchedSeconds:  s.WatchedSeconds(),
		Intervals:       s.WatchedIntervals,
		Anomalies:       s.Anomalies,
		ServerTimestamp: ev.ServerTimestamp.Format(timestampLayout),
	}
}

// Submit handles POST /analytics/video-event.
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	ev, verr := h.validator.Validate(req)
	if verr != nil {
		metrics.ValidationFailures.WithLabelValues(verr.Code).Inc()
		response.ValidationFailed(c, verr.Code, verr.Message)
		return
	}
	s, err := h.ingester.Ingest(c.Request.Context(), ev)
	if err != nil {
		h.logger.Error("event ingestion failed", zap.Error(err),
			zap.String("session_id", ev.SessionID), zap.String("event_type", string(ev.EventType)))
		response.Internal(c, "failed to record event")
		return
	}
	response.Created(c, viewOf(s, ev))
}

type batchRequest struct {
	Events []SubmitRequest `json:"events" binding:"required"`
}

type batchRejection struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// batchAccepted echoes the server timestamp assigned to an accepted event, so
// clients can correlate retries with what the server already recorded.
type batchAccepted struct {
	Index           int    `json:"index"`
	ServerTimestamp string `json:"serverTimestamp"`
}

type batchResult struct {
	Accepted       int              `json:"accepted"`
	AcceptedEvents []batchAccepted  `json:"acceptedEvents,omitempty"`
	Rejected       []batchRejection `json:"rejected,omitempty"`
}

// SubmitBatch handles POST /analytics/video-events. Events are validated and
// applied independently; one bad event never blocks the rest of the batch.
func (h *Handler) SubmitBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: events array required")
		return
	}
	result := batchResult{}
	for i, item := range req.Events {
		ev, verr := h.validator.Validate(item)
		if verr != nil {
			metrics.ValidationFailures.WithLabelValues(verr.Code).Inc()
			result.Rejected = append(result.Rejected, batchRejection{
				Index: i, Code: verr.Code, Field: verr.Field, Message: verr.Message,
			})
			continue
		}
		if _, err := h.ingester.Ingest(c.Request.Context(), ev); err != nil {
			h.logger.Error("batch event ingestion failed", zap.Error(err),
				zap.String("session_id", ev.SessionID), zap.Int("index", i))
			result.Rejected = append(result.Rejected, batchRejection{
				Index: i, Code: "ingest_failed", Message: "failed to record event",
			})
			continue
		}
		result.Accepted++
		result.AcceptedEvents = append(result.AcceptedEvents, batchAccepted{
			Index: i, ServerTimestamp: ev.ServerTimestamp.Format(timestampLayout),
		})
	}
	response.Created(c, result)
}
