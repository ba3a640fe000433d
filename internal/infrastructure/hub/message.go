package hub

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"go-realtime-bus/internal/domain/envelope"
)

const (
	TypeWebSocket = "websocket"
	TypeSSE       = "sse"
)

// stamp assigns a ULID to envelopes that do not carry an id yet.
func stamp(env envelope.Envelope) (envelope.Envelope, error) {
	if env.ID() != "" {
		return env, nil
	}

	stamped, err := env.With("id", ulid.Make().String())
	if err != nil {
		return env, fmt.Errorf("failed to stamp envelope: %w", err)
	}
	return stamped, nil
}

// NewConnectionID returns a connection id with a transport prefix.
func NewConnectionID(connType string) string {
	prefix := "conn"
	switch connType {
	case TypeWebSocket:
		prefix = "ws"
	case TypeSSE:
		prefix = "sse"
	}
	return prefix + "-" + uuid.NewString()
}
