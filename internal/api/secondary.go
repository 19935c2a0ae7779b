package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"replicatedlog/internal/apperr"
	"replicatedlog/internal/logstore"
	"replicatedlog/internal/replication"
)

// SecondaryHandler holds the dependencies for a secondary's internal API.
type SecondaryHandler struct {
	recv *replication.Receiver
	log  *zap.SugaredLogger
}

// NewSecondaryHandler creates a SecondaryHandler.
func NewSecondaryHandler(recv *replication.Receiver, log *zap.SugaredLogger) *SecondaryHandler {
	return &SecondaryHandler{recv: recv, log: log}
}

// Register mounts every secondary route on r.
func (h *SecondaryHandler) Register(r *gin.Engine) {
	r.POST("/replicate", h.Replicate)
	r.GET("/messages", h.ListMessages)
	r.GET("/health", h.Health)
}

type replicateRequest struct {
	ID        uint64 `json:"id" binding:"required"`
	Sequence  uint64 `json:"sequence" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Timestamp string `json:"timestamp" binding:"required"`
	Hash      string `json:"hash" binding:"required"`
}

// Replicate handles POST /replicate. A post-commit error-injection firing
// still reports the commit in the JSON body (status/total_messages are
// accurate) but responds 500 so the master's worker retries — dedup on
// the retry is what makes the eventual delivery exactly-once.
func (h *SecondaryHandler) Replicate(c *gin.Context) {
	var req replicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := logstore.Message{
		ID:          req.ID,
		Sequence:    req.Sequence,
		Text:        req.Message,
		Timestamp:   req.Timestamp,
		ContentHash: req.Hash,
	}

	status, total, err := h.recv.Replicate(msg)
	if err != nil && apperr.KindOf(err) == apperr.KindBadRequest {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	body := gin.H{
		"status":         statusLabel(status),
		"message_id":     req.ID,
		"sequence":       req.Sequence,
		"total_messages": total,
	}

	if err != nil {
		// ErrSimulatedFailure: the message is already committed, but this
		// response must still surface as a 500 so the master's worker
		// retries — dedup on the retry is what makes delivery exactly-once.
		if h.log != nil {
			h.log.Warnw("replicate commit reported with injected failure", "message_id", req.ID, "err", err)
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func statusLabel(s replication.ReplicateStatus) string {
	if s == replication.StatusDuplicate {
		return "duplicate"
	}
	return "replicated"
}

// ListMessages handles GET /messages.
func (h *SecondaryHandler) ListMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": toWireMessages(h.recv.GetLog())})
}

// Health handles GET /health.
func (h *SecondaryHandler) Health(c *gin.Context) {
	info := h.recv.Health()
	c.JSON(http.StatusOK, gin.H{
		"status":        info.Status,
		"role":          "secondary",
		"server_id":     info.ServerID,
		"message_count": info.MessageCount,
		"last_sequence": info.LastSequence,
		"next_expected": info.NextExpected,
	})
}
