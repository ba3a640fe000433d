package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/infrastructure/config"
	"go-realtime-bus/internal/infrastructure/hub"
	"go-realtime-bus/internal/infrastructure/logger"
	"go-realtime-bus/internal/interfaces/rest/v1/handler"
	"go-realtime-bus/internal/interfaces/sse"
	"go-realtime-bus/internal/interfaces/websocket"
	"go-realtime-bus/internal/port/inbound"
)

func InitRouter(
	cfg *config.Config,
	hubInstance *hub.Hub,
	sessions *auth.Manager,
	messaging inbound.MessagingUseCase,
	log logger.Logger,
) http.Handler {
	if cfg.Environment == config.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	rootGroup := router.Group("")

	hubHandler := handler.NewHubHandler(hubInstance, log)
	rootGroup.GET("/hub/status", hubHandler.Status)

	messages := handler.NewMessageHandler(messaging, log)
	apiGroup := rootGroup.Group("/api", handler.SessionMiddleware(sessions, cfg.Auth.Required))
	{
		apiGroup.GET("/messages", messages.ListMessages)
		apiGroup.POST("/messages", messages.SendMessage)
		apiGroup.GET("/group-messages", messages.ListGroupMessages)
		apiGroup.POST("/group-messages", messages.PostGroupMessage)
		apiGroup.GET("/group-messages/:id/replies", messages.ListReplies)
		apiGroup.POST("/group-messages/:id/replies", messages.Reply)
	}

	if cfg.Auth.IssueEndpoint {
		log.Warn("POST /api/sessions is enabled, anyone can mint session tokens")
		rootGroup.POST("/api/sessions", handler.NewSessionHandler(sessions, log).Create)
	}

	// Operator endpoints are admin-only once tokens are configured
	adminGroup := rootGroup.Group(
		"/api/v1/hub",
		handler.SessionMiddleware(sessions, sessions.Enabled()),
		handler.RequireRole(sessions, auth.RoleAdmin),
	)
	{
		adminGroup.POST("/broadcast", hubHandler.Broadcast)
		adminGroup.POST("/send/:connectionId", hubHandler.SendToConnection)
	}

	sse.InitSSERouter(log, hubInstance, sessions, cfg, rootGroup)
	websocket.InitWebSocketRouter(log, hubInstance, sessions, cfg, rootGroup)

	return router
}
