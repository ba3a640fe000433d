package realtime

import (
	"sync"

	"go-realtime-bus/internal/domain/envelope"
	"go-realtime-bus/internal/infrastructure/logger"
)

// Handler receives every envelope published after it subscribed.
type Handler func(env envelope.Envelope)

// Registry is the set of subscribers of one Bus.
type Registry struct {
	mu       sync.Mutex
	next     uint64
	handlers map[uint64]Handler

	logger logger.Logger
}

func NewRegistry(logger logger.Logger) *Registry {
	return &Registry{
		handlers: make(map[uint64]Handler),
		logger:   logger.WithField("component", "registry"),
	}
}

// Subscribe adds h and returns the function that removes it. Calling the
// returned function more than once is harmless.
//
// Each call is a separate subscription: subscribing the same handler twice
// delivers every envelope to it twice, and each unsubscribe removes only its
// own registration.
func (r *Registry) Subscribe(h Handler) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}

	r.mu.Lock()
	r.next++
	token := r.next
	r.handlers[token] = h
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.handlers, token)
			r.mu.Unlock()
		})
	}
}

// Publish calls every handler registered when Publish started. Handlers run
// outside the registry lock, so they may subscribe or unsubscribe; such
// changes apply to the next envelope. A panicking handler is logged and the
// others still run.
func (r *Registry) Publish(env envelope.Envelope) {
	r.mu.Lock()
	snapshot := make(map[uint64]Handler, len(r.handlers))
	for token, h := range r.handlers {
		snapshot[token] = h
	}
	r.mu.Unlock()

	for token, h := range snapshot {
		r.invoke(token, h, env)
	}
}

func (r *Registry) invoke(token uint64, h Handler, env envelope.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("Subscriber %d panicked on %s envelope: %v", token, env.Type, rec)
		}
	}()
	h(env)
}

// Len returns the number of subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Clear removes every subscriber.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.handlers = make(map[uint64]Handler)
	r.mu.Unlock()
}
