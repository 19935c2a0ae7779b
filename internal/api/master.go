package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"replicatedlog/internal/apperr"
	"replicatedlog/internal/logstore"
	"replicatedlog/internal/replication"
)

// MasterHandler holds the dependencies for the master's public API.
type MasterHandler struct {
	coord *replication.Coordinator
	log   *zap.SugaredLogger
}

// NewMasterHandler creates a MasterHandler.
func NewMasterHandler(coord *replication.Coordinator, log *zap.SugaredLogger) *MasterHandler {
	return &MasterHandler{coord: coord, log: log}
}

// Register mounts every master route on r.
func (h *MasterHandler) Register(r *gin.Engine) {
	r.POST("/messages", h.Append)
	r.GET("/messages", h.ListMessages)
	r.POST("/secondaries", h.RegisterSecondary)
	r.GET("/health", h.Health)
}

type appendRequest struct {
	Message   string `json:"message" binding:"required"`
	W         int    `json:"w"`
	TimeoutMs int    `json:"timeout_ms"`
}

// Append handles POST /messages per spec.md §6.
func (h *MasterHandler) Append(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var timeout time.Duration
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	msg, status, err := h.coord.Append([]byte(req.Message), req.W, timeout)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInvalidArgument {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	switch status {
	case replication.AppendCommitted:
		c.JSON(http.StatusCreated, gin.H{"id": msg.ID, "message": msg.Text})
	default:
		c.JSON(http.StatusAccepted, gin.H{
			"id":      msg.ID,
			"message": msg.Text,
			"warning": "write concern not satisfied before timeout; replication continues in the background",
		})
	}
}

// ListMessages handles GET /messages.
func (h *MasterHandler) ListMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": toWireMessages(h.coord.GetLog())})
}

type registerSecondaryRequest struct {
	URL string `json:"url" binding:"required"`
}

// RegisterSecondary handles POST /secondaries.
func (h *MasterHandler) RegisterSecondary(c *gin.Context) {
	var req registerSecondaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	isNew := h.coord.RegisterSecondary(req.URL)
	c.JSON(http.StatusOK, gin.H{"registered": req.URL, "new": isNew})
}

// Health handles GET /health.
func (h *MasterHandler) Health(c *gin.Context) {
	report := h.coord.HealthReport()
	secondaries := make([]gin.H, 0, len(report))
	for _, s := range report {
		secondaries = append(secondaries, gin.H{
			"url":            s.URL,
			"status":         s.Status.String(),
			"last_heartbeat": s.LastHeartbeat,
			"failure_count":  s.FailureCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"role":        "master",
		"secondaries": secondaries,
	})
}

type wireMessage struct {
	ID      uint64 `json:"id"`
	Message string `json:"message"`
}

func toWireMessages(msgs []logstore.Message) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireMessage{ID: m.ID, Message: m.Text}
	}
	return out
}
