package api

import (
	"io"
	"net/http"

	"tillsync/internal/dto/req"
	"tillsync/internal/middleware"
	"tillsync/internal/service"
	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"
	"tillsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type StreamSource interface {
	Subscribe(c *service.Client) bool
	Unsubscribe(c *service.Client)
	Since(lastSeq int64) ([]v1.Message, bool)
}

type StreamHandler struct {
	hub StreamSource
}

func NewStreamHandler(hub StreamSource) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// Watch streams coordinator broadcasts as SSE "message" events. A listener
// reconnecting with last_seq first receives what it missed, or a "reset"
// event when that history is gone.
func (h *StreamHandler) Watch(c *gin.Context) {
	var q req.StreamQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_seq"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	client := &service.Client{
		ID:   uuid.NewString(),
		Send: make(chan v1.Message, 128),
	}
	if !h.hub.Subscribe(client) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	defer h.hub.Unsubscribe(client)

	logger.Info("listener connected",
		zap.String("client", client.ID),
		zap.String("ip", c.ClientIP()),
		zap.String("trace_id", middleware.TraceID(c)))

	var maxSent int64
	if q.LastSeq != nil {
		maxSent = *q.LastSeq
		missed, ok := h.hub.Since(maxSent)
		if ok {
			for _, msg := range missed {
				c.SSEvent("message", msg)
				maxSent = msg.Seq
			}
		} else {
			c.SSEvent("reset", "seq_too_old")
		}
	}
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				return false
			}
			if msg.Type == constraints.MsgPing {
				c.SSEvent("ping", "pong")
				return true
			}
			// already replayed from history
			if msg.Seq <= maxSent {
				return true
			}
			c.SSEvent("message", msg)
			maxSent = msg.Seq
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
