package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/infrastructure/logger"
)

const sessionKey = "session"

// SessionMiddleware attaches the caller's session to the request. A request
// without a token is anonymous unless required is set; a bad token is always
// rejected.
func SessionMiddleware(manager *auth.Manager, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := manager.SessionFromRequest(c.Request, required)
		switch {
		case errors.Is(err, auth.ErrMissingToken):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid session token"})
			return
		}

		if session.UserID > 0 {
			c.Set(sessionKey, session)
		}
		c.Next()
	}
}

// RequireRole rejects callers without role. It is a no-op when tokens are
// disabled, which only happens in development setups.
func RequireRole(manager *auth.Manager, role auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !manager.Enabled() {
			c.Next()
			return
		}
		if SessionFromContext(c).Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient role"})
			return
		}
		c.Next()
	}
}

// SessionFromContext returns the session set by SessionMiddleware, or the
// zero Session for anonymous requests.
func SessionFromContext(c *gin.Context) auth.Session {
	if v, ok := c.Get(sessionKey); ok {
		if s, ok := v.(auth.Session); ok {
			return s
		}
	}
	return auth.Session{}
}

type SessionHandler struct {
	manager *auth.Manager
	logger  logger.Logger
}

type CreateSessionRequest struct {
	UserID      int64     `json:"userId" binding:"required"`
	DisplayName string    `json:"displayName"`
	Role        auth.Role `json:"role"`
}

func NewSessionHandler(manager *auth.Manager, logger logger.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		logger:  logger.WithField("handler", "session"),
	}
}

// Create issues a session token. Mounted only in development setups.
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session request"})
		return
	}

	token, err := h.manager.Issue(auth.Session{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Role:        req.Role,
	})
	switch {
	case errors.Is(err, auth.ErrDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session tokens are disabled"})
		return
	case err != nil:
		h.logger.Warnf("Failed to issue session for user %d: %v", req.UserID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.logger.Infof("Issued session for user %d", req.UserID)
	c.JSON(http.StatusCreated, gin.H{"token": token})
}
