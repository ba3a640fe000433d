package websocket

import (
	"github.com/gin-gonic/gin"

	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/infrastructure/config"
	"go-realtime-bus/internal/infrastructure/hub"
	"go-realtime-bus/internal/infrastructure/logger"
)

// InitWebSocketRouter initializes WebSocket routes
func InitWebSocketRouter(
	logger logger.Logger,
	hubInstance *hub.Hub,
	sessions *auth.Manager,
	cfg *config.Config,
	rg *gin.RouterGroup,
) {
	wsHandler := NewWebSocketHandler(hubInstance, sessions, cfg.Auth.Required, cfg.Server.AllowedOrigins, logger)

	// WebSocket connection endpoint
	rg.GET("/ws", wsHandler.Connect)

	// Connection info only; broadcasting lives under /api/v1/hub
	apiGroup := rg.Group("/api/v1/ws")
	apiGroup.GET("/connections", wsHandler.GetConnections)
}
