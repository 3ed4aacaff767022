package api

import (
	"context"
	"errors"
	"net/http"

	"tillsync/internal/dto/req"
	"tillsync/internal/dto/resp"
	"tillsync/internal/errs"
	"tillsync/internal/model"
	v1 "tillsync/pkg/api/v1"

	"github.com/gin-gonic/gin"
)

type QueueProvider interface {
	List(ctx context.Context) ([]model.QueuedOperation, error)
	Stats(ctx context.Context) (v1.QueueStats, error)
	Clear(ctx context.Context) error
	Requeue(ctx context.Context, id string) error
}

// HealthFunc reports whether the durable store is usable.
type HealthFunc func(ctx context.Context) error

type QueueHandler struct {
	service QueueProvider
	health  HealthFunc
}

func NewQueueHandler(service QueueProvider, health HealthFunc) *QueueHandler {
	return &QueueHandler{
		service: service,
		health:  health,
	}
}

func (h *QueueHandler) ListQueue(c *gin.Context) {
	ops, err := h.service.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.QueueListResponse{Data: ops, Total: len(ops)})
}

func (h *QueueHandler) QueueStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *QueueHandler) ClearQueue(c *gin.Context) {
	if err := h.service.Clear(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *QueueHandler) RequeueOperation(c *gin.Context) {
	var r req.RequeueRequest
	if err := c.ShouldBindUri(&r); err != nil {
		c.JSON(http.StatusBadRequest, resp.ErrorResponse{Error: "invalid id"})
		return
	}
	if err := h.service.Requeue(c.Request.Context(), r.ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *QueueHandler) HealthCheck(c *gin.Context) {
	if err := h.health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrOperationAbsent):
		c.JSON(http.StatusNotFound, resp.ErrorResponse{Error: err.Error()})
	case errs.IsStorage(err):
		c.JSON(http.StatusInternalServerError, resp.ErrorResponse{Error: err.Error(), Kind: errs.Kind(err)})
	default:
		c.JSON(http.StatusInternalServerError, resp.ErrorResponse{Error: err.Error()})
	}
}
