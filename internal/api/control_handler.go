package api

import (
	"errors"
	"net/http"

	"tillsync/internal/dto/req"
	"tillsync/internal/dto/resp"
	"tillsync/internal/service"
	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Controller interface {
	HandleControl(msg v1.ControlMessage) error
}

type ConnectivitySwitch interface {
	IsOnline() bool
	Set(online bool)
}

// ControlHandler receives foreground control messages and the platform's
// connectivity signal.
type ControlHandler struct {
	coordinator Controller
	monitor     ConnectivitySwitch
}

func NewControlHandler(coordinator Controller, monitor ConnectivitySwitch) *ControlHandler {
	return &ControlHandler{coordinator: coordinator, monitor: monitor}
}

func (h *ControlHandler) Control(c *gin.Context) {
	var msg v1.ControlMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, resp.ErrorResponse{Error: "JSON format error"})
		return
	}
	if err := h.coordinator.HandleControl(msg); err != nil {
		if errors.Is(err, service.ErrUnknownControl) {
			c.JSON(http.StatusBadRequest, resp.ErrorResponse{Error: err.Error()})
			return
		}
		if errors.Is(err, service.ErrDeviceOffline) {
			c.JSON(http.StatusConflict, resp.ErrorResponse{Error: err.Error(), Kind: "offline"})
			return
		}
		c.JSON(http.StatusInternalServerError, resp.ErrorResponse{Error: err.Error()})
		return
	}
	logger.Debug("control message accepted", zap.String("type", msg.Type))
	c.JSON(http.StatusAccepted, resp.ControlResponse{Accepted: true, Type: msg.Type})
}

func (h *ControlHandler) SetConnectivity(c *gin.Context) {
	var r req.ConnectivityRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, resp.ErrorResponse{Error: "online is required"})
		return
	}
	h.monitor.Set(*r.Online)
	c.JSON(http.StatusOK, resp.ConnectivityResponse{Online: h.monitor.IsOnline()})
}

func (h *ControlHandler) GetConnectivity(c *gin.Context) {
	c.JSON(http.StatusOK, resp.ConnectivityResponse{Online: h.monitor.IsOnline()})
}
