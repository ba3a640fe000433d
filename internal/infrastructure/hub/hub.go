package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-realtime-bus/internal/domain/envelope"
	"go-realtime-bus/internal/infrastructure/logger"
	"go-realtime-bus/internal/port/outbound"
)

var (
	ErrNotRunning   = errors.New("hub is not running")
	ErrShuttingDown = errors.New("hub is shutting down")
)

// Hub owns every live server-side connection and fans envelopes out to them.
// Registration, removal and broadcast are serialized through the run loop.
type Hub struct {
	connections   map[string]Connection
	connectionsMu sync.RWMutex

	running   bool
	runningMu sync.RWMutex

	inbound   InboundHandler
	inboundMu sync.RWMutex

	cfg    Config
	logger logger.Logger

	// Channels for internal communication
	register   chan Connection
	unregister chan string
	broadcast  chan envelope.Envelope

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

var _ outbound.Publisher = (*Hub)(nil)

// New creates a new Hub instance
func New(logger logger.Logger, cfg Config) *Hub {
	return &Hub{
		connections: make(map[string]Connection),
		cfg:         cfg,
		logger:      logger.WithField("component", "hub"),
		register:    make(chan Connection, 100),
		unregister:  make(chan string, 100),
		broadcast:   make(chan envelope.Envelope, 1000),
	}
}

// Config returns the connection settings handed to new connections.
func (h *Hub) Config() Config {
	return h.cfg
}

// Start starts the hub and begins processing connection events
func (h *Hub) Start(ctx context.Context) error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if h.running {
		return fmt.Errorf("hub is already running")
	}

	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running = true

	go h.run()

	h.logger.Info("Hub started successfully")
	return nil
}

// Stop gracefully stops the hub and disconnects all connections
func (h *Hub) Stop(ctx context.Context) error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if !h.running {
		return nil
	}

	h.cancel()

	h.connectionsMu.Lock()
	for _, conn := range h.connections {
		if err := conn.Close(); err != nil {
			h.logger.Errorf("Failed to close connection %s: %v", conn.ID(), err)
		}
	}
	h.connections = make(map[string]Connection)
	h.connectionsMu.Unlock()

	h.running = false
	h.logger.Info("Hub stopped successfully")
	return nil
}

// IsRunning returns true if the hub is currently running
func (h *Hub) IsRunning() bool {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()
	return h.running
}

// HandleInbound sets the handler for client-originated envelopes.
func (h *Hub) HandleInbound(handler InboundHandler) {
	h.inboundMu.Lock()
	h.inbound = handler
	h.inboundMu.Unlock()
}

// DispatchInbound hands a client-originated envelope to the inbound handler.
// Connections call it from their read loop.
func (h *Hub) DispatchInbound(conn Connection, env envelope.Envelope) {
	h.inboundMu.RLock()
	handler := h.inbound
	h.inboundMu.RUnlock()

	if handler == nil {
		h.logger.Debugf("Dropping %s envelope from %s: no inbound handler", env.Type, conn.ID())
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Errorf("Inbound handler panicked on %s envelope from %s: %v", env.Type, conn.ID(), r)
		}
	}()
	handler(conn, env)
}

// RegisterConnection adds a new connection to the hub
func (h *Hub) RegisterConnection(conn Connection) error {
	if !h.IsRunning() {
		return ErrNotRunning
	}

	select {
	case h.register <- conn:
		return nil
	case <-h.ctx.Done():
		return ErrShuttingDown
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout registering connection")
	}
}

// UnregisterConnection removes a connection from the hub
func (h *Hub) UnregisterConnection(connID string) error {
	if !h.IsRunning() {
		return ErrNotRunning
	}

	select {
	case h.unregister <- connID:
		return nil
	case <-h.ctx.Done():
		return ErrShuttingDown
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout unregistering connection")
	}
}

// GetConnection returns a connection by ID
func (h *Hub) GetConnection(connID string) (Connection, bool) {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()

	conn, exists := h.connections[connID]
	return conn, exists
}

// GetConnections returns all active connections
func (h *Hub) GetConnections() []Connection {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()

	connections := make([]Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		connections = append(connections, conn)
	}
	return connections
}

// GetConnectionsByType returns connections of a specific type
func (h *Hub) GetConnectionsByType(connType string) []Connection {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()

	var connections []Connection
	for _, conn := range h.connections {
		if conn.Type() == connType {
			connections = append(connections, conn)
		}
	}
	return connections
}

// ConnectionCount returns the number of active connections
func (h *Hub) ConnectionCount() int {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()
	return len(h.connections)
}

// Broadcast queues env for every connection. Envelopes without an id get a
// ULID so log lines on both ends can be correlated.
func (h *Hub) Broadcast(ctx context.Context, env envelope.Envelope) error {
	if !h.IsRunning() {
		return ErrNotRunning
	}

	env, err := stamp(env)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrShuttingDown
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout broadcasting envelope")
	}
}

// SendToConnection sends an envelope to a specific connection
func (h *Hub) SendToConnection(ctx context.Context, connID string, env envelope.Envelope) error {
	conn, exists := h.GetConnection(connID)
	if !exists {
		return fmt.Errorf("connection %s not found", connID)
	}

	env, err := stamp(env)
	if err != nil {
		return err
	}

	if err := conn.Send(ctx, env); err != nil {
		h.logger.Errorf("Failed to send envelope to connection %s: %v", connID, err)
		go h.UnregisterConnection(connID)
		return err
	}

	return nil
}

// run is the main hub loop that processes connection events
func (h *Hub) run() {
	ticker := time.NewTicker(h.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case conn := <-h.register:
			h.handleRegister(conn)

		case connID := <-h.unregister:
			h.handleUnregister(connID)

		case env := <-h.broadcast:
			h.handleBroadcast(env)

		case <-ticker.C:
			h.cleanupClosedConnections()

		case <-h.ctx.Done():
			h.logger.Info("Hub run loop stopped")
			return
		}
	}
}

// handleRegister processes connection registration
func (h *Hub) handleRegister(conn Connection) {
	h.connectionsMu.Lock()
	h.connections[conn.ID()] = conn
	h.connectionsMu.Unlock()

	h.logger.Infof("Connection %s registered (type: %s, user: %d)", conn.ID(), conn.Type(), conn.Session().UserID)

	// Monitor connection context for disconnection
	go func() {
		select {
		case <-conn.Context().Done():
			h.UnregisterConnection(conn.ID())
		case <-h.ctx.Done():
		}
	}()
}

// handleUnregister processes connection unregistration
func (h *Hub) handleUnregister(connID string) {
	h.connectionsMu.Lock()
	conn, exists := h.connections[connID]
	if exists {
		delete(h.connections, connID)
	}
	h.connectionsMu.Unlock()

	if exists {
		conn.Close()
		h.logger.Infof("Connection %s unregistered", connID)
	}
}

// handleBroadcast enqueues env on every connection in turn. Enqueueing is
// bounded by EnqueueTimeout; a connection that cannot keep up is dropped.
func (h *Hub) handleBroadcast(env envelope.Envelope) {
	connections := h.GetConnections()
	delivered := 0

	for _, conn := range connections {
		ctx, cancel := context.WithTimeout(h.ctx, h.cfg.EnqueueTimeout)
		err := conn.Send(ctx, env)
		cancel()

		if err != nil {
			h.logger.Warnf("Dropping connection %s after failed broadcast: %v", conn.ID(), err)
			go h.UnregisterConnection(conn.ID())
			continue
		}
		delivered++
	}

	h.logger.Infof("Broadcasted %s envelope %s to %d/%d connections", env.Type, env.ID(), delivered, len(connections))
}

// cleanupClosedConnections removes connections that have been closed
func (h *Hub) cleanupClosedConnections() {
	h.connectionsMu.Lock()
	defer h.connectionsMu.Unlock()

	for id, conn := range h.connections {
		if conn.IsClosed() {
			delete(h.connections, id)
			h.logger.Infof("Cleaned up closed connection %s", id)
		}
	}
}
