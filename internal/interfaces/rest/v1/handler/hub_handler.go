package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-realtime-bus/internal/domain/envelope"
	"go-realtime-bus/internal/infrastructure/hub"
	"go-realtime-bus/internal/infrastructure/logger"
)

// HubHandler exposes the hub to operators: status, ad-hoc broadcast and
// sending to a single connection.
type HubHandler struct {
	hub    *hub.Hub
	logger logger.Logger
}

func NewHubHandler(hubInstance *hub.Hub, logger logger.Logger) *HubHandler {
	return &HubHandler{
		hub:    hubInstance,
		logger: logger.WithField("handler", "hub"),
	}
}

// Status reports whether the hub is running.
func (h *HubHandler) Status(c *gin.Context) {
	isRunning := h.hub.IsRunning()
	h.logger.Debugf("Hub status check - Running: %v, Connections: %d", isRunning, h.hub.ConnectionCount())

	status := "healthy"
	code := http.StatusOK
	if !isRunning {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":      status,
		"hub_running": isRunning,
		"connections": h.hub.ConnectionCount(),
	})
}

// Broadcast sends the request body, an envelope, to every connection.
func (h *HubHandler) Broadcast(c *gin.Context) {
	env, ok := h.bindEnvelope(c)
	if !ok {
		return
	}

	if err := h.hub.Broadcast(c.Request.Context(), env); err != nil {
		h.logger.Errorf("Failed to broadcast envelope: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to broadcast envelope"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "broadcasted",
		"type":        env.Type,
		"connections": h.hub.ConnectionCount(),
	})
}

// SendToConnection sends the request body, an envelope, to one connection.
func (h *HubHandler) SendToConnection(c *gin.Context) {
	connID := c.Param("connectionId")

	env, ok := h.bindEnvelope(c)
	if !ok {
		return
	}

	if _, exists := h.hub.GetConnection(connID); !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
		return
	}

	if err := h.hub.SendToConnection(c.Request.Context(), connID, env); err != nil {
		h.logger.Errorf("Failed to send envelope to %s: %v", connID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send envelope"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "sent",
		"connection_id": connID,
	})
}

func (h *HubHandler) bindEnvelope(c *gin.Context) (envelope.Envelope, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return envelope.Envelope{}, false
	}

	env, err := envelope.Decode(body)
	if err == nil && env.Type == "" {
		err = errors.New("envelope type is required")
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return envelope.Envelope{}, false
	}
	return env, true
}
