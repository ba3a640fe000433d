package websocket

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/infrastructure/hub"
	"go-realtime-bus/internal/infrastructure/logger"
)

// WebSocketHandler upgrades /ws requests and registers them with the hub.
type WebSocketHandler struct {
	hub      *hub.Hub
	sessions *auth.Manager
	required bool
	logger   logger.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler instance. An empty
// allowedOrigins accepts any origin.
func NewWebSocketHandler(
	hubInstance *hub.Hub,
	sessions *auth.Manager,
	required bool,
	allowedOrigins []string,
	logger logger.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hubInstance,
		sessions: sessions,
		required: required,
		logger:   logger.WithField("handler", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

// checkOrigin accepts requests without an Origin header, which browsers always
// send, so native clients are not affected.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}

// Connect handles WebSocket connection upgrade requests
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if !h.hub.IsRunning() {
		h.logger.Error("Hub is not running")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
		return
	}

	session, err := h.sessions.SessionFromRequest(c.Request, h.required)
	if err != nil {
		h.logger.Warnf("Rejecting WebSocket upgrade: %v", err)
		msg := "Invalid session token"
		if errors.Is(err, auth.ErrMissingToken) {
			msg = "Authentication required"
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("Failed to upgrade connection: %v", err)
		return
	}

	wsConn := hub.NewWebSocketConnection(
		hub.NewConnectionID(hub.TypeWebSocket),
		session,
		conn,
		h.hub.Config(),
		h.hub.DispatchInbound,
		h.logger,
	)

	if err := h.hub.RegisterConnection(wsConn); err != nil {
		h.logger.Errorf("Failed to register WebSocket connection: %v", err)
		wsConn.Close()
		return
	}

	h.logger.Infof("WebSocket connection %s connected for user %d", wsConn.ID(), session.UserID)

	// Keep the handler alive until the client disconnects
	<-wsConn.Context().Done()
	h.logger.Infof("WebSocket connection %s disconnected", wsConn.ID())
}

// GetConnections returns information about WebSocket connections
func (h *WebSocketHandler) GetConnections(c *gin.Context) {
	c.JSON(http.StatusOK, connectionsBody(h.hub, hub.TypeWebSocket))
}

func connectionsBody(hubInstance *hub.Hub, connType string) gin.H {
	connections := hubInstance.GetConnectionsByType(connType)
	connectionInfo := make([]gin.H, len(connections))

	for i, conn := range connections {
		connectionInfo[i] = gin.H{
			"id":      conn.ID(),
			"type":    conn.Type(),
			"user_id": conn.Session().UserID,
			"closed":  conn.IsClosed(),
		}
	}

	return gin.H{
		"total_connections": len(connections),
		"connections":       connectionInfo,
		"hub_running":       hubInstance.IsRunning(),
	}
}
