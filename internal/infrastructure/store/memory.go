// Package store keeps messaging records in process memory. It backs the REST
// surface the client caches re-fetch from.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-realtime-bus/internal/port/outbound"
)

var ErrNotFound = outbound.ErrNotFound

type DirectMessage = outbound.DirectMessage
type GroupMessage = outbound.GroupMessage
type Reply = outbound.Reply

// Memory is a mutex-guarded MessageRepository.
type Memory struct {
	mu      sync.RWMutex
	nextID  int64
	direct  []DirectMessage
	groups  map[int64]GroupMessage
	replies map[int64][]Reply

	now func() time.Time
}

var _ outbound.MessageRepository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		groups:  make(map[int64]GroupMessage),
		replies: make(map[int64][]Reply),
		now:     time.Now,
	}
}

func (s *Memory) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Memory) AddDirect(ctx context.Context, m DirectMessage) (DirectMessage, error) {
	if err := ctx.Err(); err != nil {
		return DirectMessage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.id()
	m.CreatedAt = s.now().UTC()
	s.direct = append(s.direct, m)
	return m, nil
}

// ListDirect returns the messages userID sent or received, oldest first. A
// zero userID returns every message.
func (s *Memory) ListDirect(ctx context.Context, userID int64) ([]DirectMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DirectMessage, 0, len(s.direct))
	for _, m := range s.direct {
		if userID == 0 || m.SenderID == userID || m.ReceiverID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Memory) AddGroup(ctx context.Context, m GroupMessage) (GroupMessage, error) {
	if err := ctx.Err(); err != nil {
		return GroupMessage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.id()
	m.CreatedAt = s.now().UTC()
	s.groups[m.ID] = m
	return m, nil
}

// ListGroups returns group messages newest first.
func (s *Memory) ListGroups(ctx context.Context) ([]GroupMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]GroupMessage, 0, len(s.groups))
	for _, m := range s.groups {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Memory) AddReply(ctx context.Context, r Reply) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[r.GroupMessageID]; !ok {
		return Reply{}, ErrNotFound
	}

	r.ID = s.id()
	r.CreatedAt = s.now().UTC()
	s.replies[r.GroupMessageID] = append(s.replies[r.GroupMessageID], r)
	return r, nil
}

// ListReplies returns the replies to one group message, oldest first.
func (s *Memory) ListReplies(ctx context.Context, groupMessageID int64) ([]Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.groups[groupMessageID]; !ok {
		return nil, ErrNotFound
	}

	replies := s.replies[groupMessageID]
	out := make([]Reply, len(replies))
	copy(out, replies)
	return out, nil
}
