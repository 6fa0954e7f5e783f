// Package realtime pushes engagement updates to WebSocket subscribers. Each
// subscriber watches one video; snapshot updates, session closes and
// discrepancy detections for that video are broadcast to its room.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uplay-learning/engagement/internal/models"
)

// Broadcast message types.
const (
	TypeSnapshotUpdated     = "snapshot_updated"
	TypeSessionClosed       = "session_closed"
	TypeDiscrepancyDetected = "discrepancy_detected"
)

// Message is the wire envelope for broadcasts.
type Message struct {
	Type    string      `json:"type"`
	VideoID string      `json:"videoId"`
	Payload interface{} `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub routes broadcasts to per-video rooms.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]bool
	logger *zap.Logger
}

// NewHub creates a hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[*Client]bool),
		logger: logger,
	}
}

// ServeWS handles GET /ws?video_id=. The connection subscribes to one video's
// update stream.
func (h *Hub) ServeWS(c *gin.Context) {
	videoID := c.Query("video_id")
	if videoID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "video_id is required"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(h, conn, videoID)
	h.add(client)
	go client.writePump()
	go client.readPump()
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.videoID]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[c.videoID] = room
	}
	room[c] = true
	h.logger.Debug("subscriber joined", zap.String("video_id", c.videoID), zap.Int("room_size", len(room)))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.videoID]
	if !ok {
		return
	}
	if _, present := room[c]; !present {
		return
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, c.videoID)
	}
}

func (h *Hub) broadcast(videoID string, msg Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	room := h.rooms[videoID]
	var stale []*Client
	for c := range room {
		select {
		case c.send <- raw:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range stale {
		h.remove(c)
	}
}

// SnapshotUpdated broadcasts a refreshed per-video snapshot.
func (h *Hub) SnapshotUpdated(snap *models.VideoMetricsSnapshot) {
	h.broadcast(snap.VideoID, Message{Type: TypeSnapshotUpdated, VideoID: snap.VideoID, Payload: snap})
}

// SessionClosed broadcasts a session close with its final watched intervals.
func (h *Hub) SessionClosed(s *models.Session) {
	payload := map[string]interface{}{
		"sessionId":        s.SessionID,
		"attempt":          s.Attempt,
		"state":            s.State,
		"watchedSeconds":   s.WatchedSeconds(),
		"watchedIntervals": s.WatchedIntervals,
	}
	h.broadcast(s.VideoID, Message{Type: TypeSessionClosed, VideoID: s.VideoID, Payload: payload})
}

// DiscrepancyDetected broadcasts a flagged duration mismatch.
func (h *Hub) DiscrepancyDetected(d *models.DurationDiscrepancy) {
	h.broadcast(d.VideoID, Message{Type: TypeDiscrepancyDetected, VideoID: d.VideoID, Payload: d})
}

// Shutdown closes all subscriber connections.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for videoID, room := range h.rooms {
		for c := range room {
			close(c.send)
			_ = c.conn.Close()
		}
		delete(h.rooms, videoID)
	}
}
