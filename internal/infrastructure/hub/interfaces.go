package hub

import (
	"context"
	"time"

	"go-realtime-bus/internal/domain/envelope"
	"go-realtime-bus/internal/infrastructure/auth"
)

// Connection represents any type of live session (WebSocket, SSE).
type Connection interface {
	ID() string
	Type() string
	Session() auth.Session
	// Send enqueues env for delivery. Envelopes sent to one connection are
	// written in the order Send was called.
	Send(ctx context.Context, env envelope.Envelope) error
	Close() error
	IsClosed() bool
	Context() context.Context
}

// InboundHandler receives client-originated envelopes.
type InboundHandler func(conn Connection, env envelope.Envelope)

// Config tunes connection buffers and timers.
type Config struct {
	SendBuffer      int
	EnqueueTimeout  time.Duration
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	CleanupInterval time.Duration
	InboundRate     float64
	InboundBurst    int
	MaxMessageSize  int64
}

func DefaultConfig() Config {
	return Config{
		SendBuffer:      256,
		EnqueueTimeout:  100 * time.Millisecond,
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingInterval:    54 * time.Second,
		CleanupInterval: 30 * time.Second,
		InboundRate:     20,
		InboundBurst:    40,
		MaxMessageSize:  64 << 10,
	}
}
