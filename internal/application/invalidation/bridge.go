// Package invalidation turns realtime envelopes into query cache
// invalidations, so views re-fetch only what a change touched.
package invalidation

import (
	"go-realtime-bus/internal/domain/envelope"
	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/infrastructure/logger"
	"go-realtime-bus/internal/infrastructure/querycache"
	"go-realtime-bus/internal/infrastructure/realtime"
)

const (
	KeyMessages      querycache.Key = "/api/messages"
	KeyGroupMessages querycache.Key = "/api/group-messages"

	// MessageTypeAdminToTeamLeader marks private admin messages shown on the
	// team leader's private view.
	MessageTypeAdminToTeamLeader = "admin_to_team_leader"
)

// RepliesKey is the query holding the replies to one group message.
func RepliesKey(groupMessageID int64) querycache.Key {
	return querycache.NewKey(string(KeyGroupMessages), groupMessageID, "replies")
}

// Invalidator marks cached queries stale.
type Invalidator interface {
	Invalidate(prefix querycache.Key) int
}

// Subscriber is the part of the realtime bus the bridge needs.
type Subscriber interface {
	Subscribe(h realtime.Handler) (unsubscribe func())
}

type Config struct {
	// UserID is the signed-in user. Zero means nobody is signed in, and no
	// per-user view is refreshed.
	UserID   int64
	Role     auth.Role
	Notifier Notifier
}

// Bridge holds the invalidation handlers of one session.
type Bridge struct {
	cache    Invalidator
	userID   int64
	role     auth.Role
	notifier Notifier
	logger   logger.Logger
}

func New(cache Invalidator, cfg Config, logger logger.Logger) *Bridge {
	return &Bridge{
		cache:    cache,
		userID:   cfg.UserID,
		role:     cfg.Role,
		notifier: cfg.Notifier,
		logger:   logger.WithField("component", "invalidation"),
	}
}

// Register subscribes the handlers for the session's role and returns a
// function that removes all of them.
func (b *Bridge) Register(sub Subscriber) (unsubscribe func()) {
	handlers := b.Handlers()
	unsubs := make([]func(), 0, len(handlers))
	for _, h := range handlers {
		unsubs = append(unsubs, sub.Subscribe(h))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handlers returns the handlers the session's views need. Admins watch every
// direct message; everyone else only their own.
func (b *Bridge) Handlers() []realtime.Handler {
	handlers := []realtime.Handler{b.GroupMessages, b.GroupReplies}
	switch b.role {
	case auth.RoleAdmin:
		handlers = append(handlers, b.AdminMessages)
	case auth.RoleTeamLeader:
		handlers = append(handlers, b.DirectMessages, b.TeamLeaderPrivate)
	default:
		handlers = append(handlers, b.DirectMessages)
	}
	return handlers
}

// DirectMessages refreshes the user's conversation list when they sent or
// received the message, and notifies them when they received it.
func (b *Bridge) DirectMessages(env envelope.Envelope) {
	msg, ok := env.Payload.(envelope.NewMessage)
	if !ok || b.userID == 0 {
		return
	}
	if msg.SenderID != b.userID && msg.ReceiverID != b.userID {
		return
	}

	b.invalidate(KeyMessages)

	if msg.ReceiverID == b.userID && b.notifier != nil {
		b.notifier.Notify(Notification{
			Title:       "New Message",
			Description: Preview(msg.SenderName, msg.Message),
		})
	}
}

// AdminMessages refreshes the message list on every NEW_MESSAGE.
func (b *Bridge) AdminMessages(env envelope.Envelope) {
	if env.Type == envelope.TypeNewMessage {
		b.invalidate(KeyMessages)
	}
}

// TeamLeaderPrivate refreshes the private view for admin messages addressed
// to this team leader.
func (b *Bridge) TeamLeaderPrivate(env envelope.Envelope) {
	msg, ok := env.Payload.(envelope.NewMessage)
	if !ok || b.userID == 0 {
		return
	}
	if msg.MessageType == MessageTypeAdminToTeamLeader && msg.ReceiverID == b.userID {
		b.invalidate(KeyMessages)
	}
}

func (b *Bridge) GroupMessages(env envelope.Envelope) {
	if env.Type == envelope.TypeNewGroupMessage {
		b.invalidate(KeyGroupMessages)
	}
}

// GroupReplies refreshes the replies of the one group message that changed.
func (b *Bridge) GroupReplies(env envelope.Envelope) {
	id, ok := env.GroupMessageID()
	if !ok {
		return
	}
	b.invalidate(RepliesKey(id))
}

func (b *Bridge) invalidate(key querycache.Key) {
	n := b.cache.Invalidate(key)
	b.logger.Debugf("Invalidated %s (%d cached)", key, n)
}
