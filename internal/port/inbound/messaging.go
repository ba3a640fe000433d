package inbound

import (
	"context"

	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/port/outbound"
)

type SendDirectCommand struct {
	ReceiverID  int64
	MessageType string
	Message     string
}

type PostGroupCommand struct {
	Title   string
	Message string
}

type ReplyCommand struct {
	GroupMessageID int64
	Message        string
}

// MessagingUseCase is what the REST layer calls. Every write publishes the
// matching realtime envelope after the record is stored.
type MessagingUseCase interface {
	SendDirect(ctx context.Context, from auth.Session, cmd SendDirectCommand) (outbound.DirectMessage, error)
	ListDirect(ctx context.Context, viewer auth.Session) ([]outbound.DirectMessage, error)
	PostGroup(ctx context.Context, from auth.Session, cmd PostGroupCommand) (outbound.GroupMessage, error)
	ListGroups(ctx context.Context) ([]outbound.GroupMessage, error)
	Reply(ctx context.Context, from auth.Session, cmd ReplyCommand) (outbound.Reply, error)
	ListReplies(ctx context.Context, groupMessageID int64) ([]outbound.Reply, error)
}
