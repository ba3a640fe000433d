package sse

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/infrastructure/hub"
	"go-realtime-bus/internal/infrastructure/logger"
)

// ServerSentEventHandler streams the hub's envelopes to clients that cannot
// upgrade to WebSocket.
type ServerSentEventHandler struct {
	hub      *hub.Hub
	sessions *auth.Manager
	required bool
	logger   logger.Logger
}

func NewServerSentEventHandler(
	hubInstance *hub.Hub,
	sessions *auth.Manager,
	required bool,
	logger logger.Logger,
) *ServerSentEventHandler {
	return &ServerSentEventHandler{
		hub:      hubInstance,
		sessions: sessions,
		required: required,
		logger:   logger.WithField("handler", "sse"),
	}
}

// Connect handles SSE connection requests. It returns only after the
// connection's write pump has stopped, since the response writer must not be
// used once the handler returns.
func (h *ServerSentEventHandler) Connect(c *gin.Context) {
	if !h.hub.IsRunning() {
		h.logger.Error("Hub is not running")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
		return
	}

	session, err := h.sessions.SessionFromRequest(c.Request, h.required)
	if err != nil {
		msg := "Invalid session token"
		if errors.Is(err, auth.ErrMissingToken) {
			msg = "Authentication required"
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
		return
	}

	conn := hub.NewSSEConnection(
		c.Request.Context(),
		hub.NewConnectionID(hub.TypeSSE),
		session,
		c.Writer,
		h.hub.Config(),
		h.logger,
	)

	if err := h.hub.RegisterConnection(conn); err != nil {
		h.logger.Errorf("Failed to register connection: %v", err)
		conn.Close()
		<-conn.Done()
		return
	}

	h.logger.Infof("SSE connection %s connected for user %d", conn.ID(), session.UserID)

	<-conn.Done()
	conn.Close()
	h.logger.Infof("SSE connection %s disconnected", conn.ID())
}

// GetConnections returns information about SSE connections
func (h *ServerSentEventHandler) GetConnections(c *gin.Context) {
	connections := h.hub.GetConnectionsByType(hub.TypeSSE)
	connectionInfo := make([]gin.H, len(connections))

	for i, conn := range connections {
		connectionInfo[i] = gin.H{
			"id":      conn.ID(),
			"type":    conn.Type(),
			"user_id": conn.Session().UserID,
			"closed":  conn.IsClosed(),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total_connections": len(connections),
		"connections":       connectionInfo,
		"hub_running":       h.hub.IsRunning(),
	})
}
