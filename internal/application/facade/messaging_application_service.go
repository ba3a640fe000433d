package facade

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go-realtime-bus/internal/domain/envelope"
	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/infrastructure/logger"
	"go-realtime-bus/internal/port/inbound"
	"go-realtime-bus/internal/port/outbound"
)

var (
	ErrInvalidCommand  = errors.New("invalid command")
	ErrUnauthenticated = errors.New("sender is not authenticated")
)

// DefaultMessageType is used when a direct message names no type.
const DefaultMessageType = "direct"

// MessagingApplicationService stores messages and publishes the envelope
// that lets every connected client refresh the affected views.
type MessagingApplicationService struct {
	repo      outbound.MessageRepository
	publisher outbound.Publisher
	logger    logger.Logger
}

var _ inbound.MessagingUseCase = (*MessagingApplicationService)(nil)

func NewMessagingApplicationService(
	repo outbound.MessageRepository,
	publisher outbound.Publisher,
	logger logger.Logger,
) *MessagingApplicationService {
	return &MessagingApplicationService{
		repo:      repo,
		publisher: publisher,
		logger:    logger.WithField("service", "messaging"),
	}
}

func (s *MessagingApplicationService) SendDirect(
	ctx context.Context,
	from auth.Session,
	cmd inbound.SendDirectCommand,
) (outbound.DirectMessage, error) {
	if from.UserID <= 0 {
		return outbound.DirectMessage{}, ErrUnauthenticated
	}
	if cmd.ReceiverID <= 0 {
		return outbound.DirectMessage{}, fmt.Errorf("%w: receiver id must be positive", ErrInvalidCommand)
	}
	text := strings.TrimSpace(cmd.Message)
	if text == "" {
		return outbound.DirectMessage{}, fmt.Errorf("%w: message is empty", ErrInvalidCommand)
	}
	messageType := cmd.MessageType
	if messageType == "" {
		messageType = DefaultMessageType
	}

	m, err := s.repo.AddDirect(ctx, outbound.DirectMessage{
		SenderID:    from.UserID,
		ReceiverID:  cmd.ReceiverID,
		SenderName:  from.DisplayName,
		MessageType: messageType,
		Message:     text,
	})
	if err != nil {
		return outbound.DirectMessage{}, fmt.Errorf("failed to store message: %w", err)
	}

	s.publish(ctx, envelope.New(envelope.NewMessage{
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		MessageType: m.MessageType,
		Message:     m.Message,
		SenderName:  m.SenderName,
		CreatedAt:   m.CreatedAt,
	}))

	return m, nil
}

// ListDirect returns the viewer's conversations. Admins see every direct
// message; anonymous viewers see none.
func (s *MessagingApplicationService) ListDirect(ctx context.Context, viewer auth.Session) ([]outbound.DirectMessage, error) {
	if viewer.UserID <= 0 {
		return nil, ErrUnauthenticated
	}
	if viewer.Role == auth.RoleAdmin {
		return s.repo.ListDirect(ctx, 0)
	}
	return s.repo.ListDirect(ctx, viewer.UserID)
}

func (s *MessagingApplicationService) PostGroup(
	ctx context.Context,
	from auth.Session,
	cmd inbound.PostGroupCommand,
) (outbound.GroupMessage, error) {
	if from.UserID <= 0 {
		return outbound.GroupMessage{}, ErrUnauthenticated
	}
	text := strings.TrimSpace(cmd.Message)
	if text == "" {
		return outbound.GroupMessage{}, fmt.Errorf("%w: message is empty", ErrInvalidCommand)
	}

	m, err := s.repo.AddGroup(ctx, outbound.GroupMessage{
		SenderID:   from.UserID,
		SenderName: from.DisplayName,
		Title:      strings.TrimSpace(cmd.Title),
		Message:    text,
	})
	if err != nil {
		return outbound.GroupMessage{}, fmt.Errorf("failed to store group message: %w", err)
	}

	s.publish(ctx, envelope.New(envelope.NewGroupMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Title:      m.Title,
		Message:    m.Message,
		CreatedAt:  m.CreatedAt,
	}))

	return m, nil
}

func (s *MessagingApplicationService) ListGroups(ctx context.Context) ([]outbound.GroupMessage, error) {
	return s.repo.ListGroups(ctx)
}

func (s *MessagingApplicationService) Reply(
	ctx context.Context,
	from auth.Session,
	cmd inbound.ReplyCommand,
) (outbound.Reply, error) {
	if from.UserID <= 0 {
		return outbound.Reply{}, ErrUnauthenticated
	}
	if cmd.GroupMessageID <= 0 {
		return outbound.Reply{}, fmt.Errorf("%w: group message id must be positive", ErrInvalidCommand)
	}
	text := strings.TrimSpace(cmd.Message)
	if text == "" {
		return outbound.Reply{}, fmt.Errorf("%w: message is empty", ErrInvalidCommand)
	}

	r, err := s.repo.AddReply(ctx, outbound.Reply{
		GroupMessageID: cmd.GroupMessageID,
		SenderID:       from.UserID,
		SenderName:     from.DisplayName,
		Message:        text,
	})
	if err != nil {
		return outbound.Reply{}, fmt.Errorf("failed to store reply: %w", err)
	}

	s.publish(ctx, envelope.New(envelope.GroupMessageReply{
		GroupMessageID: r.GroupMessageID,
		Reply: &envelope.Reply{
			ID:             r.ID,
			GroupMessageID: r.GroupMessageID,
			SenderID:       r.SenderID,
			SenderName:     r.SenderName,
			Message:        r.Message,
			CreatedAt:      r.CreatedAt,
		},
	}))

	return r, nil
}

func (s *MessagingApplicationService) ListReplies(ctx context.Context, groupMessageID int64) ([]outbound.Reply, error) {
	return s.repo.ListReplies(ctx, groupMessageID)
}

// publish never fails the write: the record is stored and clients pick it up
// on their next fetch even if the envelope is lost.
func (s *MessagingApplicationService) publish(ctx context.Context, env envelope.Envelope) {
	if err := s.publisher.Broadcast(ctx, env); err != nil {
		s.logger.Errorf("Failed to publish %s envelope: %v", env.Type, err)
	}
}
