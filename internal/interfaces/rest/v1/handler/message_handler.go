package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"go-realtime-bus/internal/application/facade"
	"go-realtime-bus/internal/infrastructure/logger"
	"go-realtime-bus/internal/port/inbound"
	"go-realtime-bus/internal/port/outbound"
)

type MessageHandler struct {
	messaging inbound.MessagingUseCase
	logger    logger.Logger
}

type SendMessageRequest struct {
	ReceiverID  int64  `json:"receiverId" binding:"required"`
	Message     string `json:"message" binding:"required"`
	MessageType string `json:"messageType"`
}

type PostGroupMessageRequest struct {
	Title   string `json:"title"`
	Message string `json:"message" binding:"required"`
}

type ReplyRequest struct {
	Message string `json:"message" binding:"required"`
}

func NewMessageHandler(messaging inbound.MessagingUseCase, logger logger.Logger) *MessageHandler {
	return &MessageHandler{
		messaging: messaging,
		logger:    logger.WithField("handler", "messages"),
	}
}

// SendMessage stores a direct message and emits NEW_MESSAGE.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debugf("Invalid request format: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message format"})
		return
	}

	m, err := h.messaging.SendDirect(c.Request.Context(), SessionFromContext(c), inbound.SendDirectCommand{
		ReceiverID:  req.ReceiverID,
		MessageType: req.MessageType,
		Message:     req.Message,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, m)
}

// ListMessages returns the caller's direct messages. It needs a session even
// when auth is optional.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	list, err := h.messaging.ListDirect(c.Request.Context(), SessionFromContext(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// PostGroupMessage stores a group message and emits NEW_GROUP_MESSAGE.
func (h *MessageHandler) PostGroupMessage(c *gin.Context) {
	var req PostGroupMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message format"})
		return
	}

	m, err := h.messaging.PostGroup(c.Request.Context(), SessionFromContext(c), inbound.PostGroupCommand{
		Title:   req.Title,
		Message: req.Message,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, m)
}

func (h *MessageHandler) ListGroupMessages(c *gin.Context) {
	list, err := h.messaging.ListGroups(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Reply stores a reply and emits GROUP_MESSAGE_REPLY.
func (h *MessageHandler) Reply(c *gin.Context) {
	id, ok := h.groupMessageID(c)
	if !ok {
		return
	}

	var req ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid reply format"})
		return
	}

	r, err := h.messaging.Reply(c.Request.Context(), SessionFromContext(c), inbound.ReplyCommand{
		GroupMessageID: id,
		Message:        req.Message,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, r)
}

func (h *MessageHandler) ListReplies(c *gin.Context) {
	id, ok := h.groupMessageID(c)
	if !ok {
		return
	}

	list, err := h.messaging.ListReplies(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *MessageHandler) groupMessageID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid group message id"})
		return 0, false
	}
	return id, true
}

func (h *MessageHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, facade.ErrInvalidCommand):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, facade.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	case errors.Is(err, outbound.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Group message not found"})
	default:
		h.logger.Errorf("Messaging request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
