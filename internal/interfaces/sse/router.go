package sse

import (
	"github.com/gin-gonic/gin"

	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/infrastructure/config"
	"go-realtime-bus/internal/infrastructure/hub"
	"go-realtime-bus/internal/infrastructure/logger"
)

func InitSSERouter(
	logger logger.Logger,
	hubInstance *hub.Hub,
	sessions *auth.Manager,
	cfg *config.Config,
	rg *gin.RouterGroup,
) {
	sseHandler := NewServerSentEventHandler(hubInstance, sessions, cfg.Auth.Required, logger)

	// SSE connection endpoint
	rg.GET("/sse", sseHandler.Connect)

	apiGroup := rg.Group("/api/v1/sse")
	apiGroup.GET("/connections", sseHandler.GetConnections)
}
