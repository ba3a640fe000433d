package outbound

import (
	"context"
	"errors"
	"time"

	"go-realtime-bus/internal/domain/envelope"
)

// ErrNotFound is returned by repositories for unknown ids.
var ErrNotFound = errors.New("not found")

type DirectMessage struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"senderId"`
	ReceiverID  int64     `json:"receiverId"`
	SenderName  string    `json:"senderName,omitempty"`
	MessageType string    `json:"messageType"`
	Message     string    `json:"message"`
	ReadStatus  bool      `json:"readStatus"`
	CreatedAt   time.Time `json:"createdAt"`
}

type GroupMessage struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	Title      string    `json:"title,omitempty"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Reply struct {
	ID             int64     `json:"id"`
	GroupMessageID int64     `json:"groupMessageId"`
	SenderID       int64     `json:"senderId"`
	SenderName     string    `json:"senderName,omitempty"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessageRepository persists messaging records.
type MessageRepository interface {
	AddDirect(ctx context.Context, m DirectMessage) (DirectMessage, error)
	ListDirect(ctx context.Context, userID int64) ([]DirectMessage, error)
	AddGroup(ctx context.Context, m GroupMessage) (GroupMessage, error)
	ListGroups(ctx context.Context) ([]GroupMessage, error)
	AddReply(ctx context.Context, r Reply) (Reply, error)
	ListReplies(ctx context.Context, groupMessageID int64) ([]Reply, error)
}

// Publisher fans an envelope out to every live session.
type Publisher interface {
	Broadcast(ctx context.Context, env envelope.Envelope) error
}
