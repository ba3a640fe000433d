package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"go-realtime-bus/internal/domain/envelope"
	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/infrastructure/logger"
)

var ErrConnectionClosed = errors.New("connection closed")

// base holds what SSE and WebSocket connections share: identity, the ordered
// send queue and the close bookkeeping.
type base struct {
	id      string
	session auth.Session

	ctx    context.Context
	cancel context.CancelFunc

	closed   bool
	closedMu sync.RWMutex

	send chan envelope.Envelope

	logger logger.Logger
}

func newBase(ctx context.Context, id string, session auth.Session, buffer int, log logger.Logger) *base {
	cctx, cancel := context.WithCancel(ctx)
	return &base{
		id:      id,
		session: session,
		ctx:     cctx,
		cancel:  cancel,
		send:    make(chan envelope.Envelope, buffer),
		logger:  log.WithField("connection_id", id),
	}
}

// ID returns unique connection identifier
func (c *base) ID() string { return c.id }

// Session returns the identity the connection was opened with.
func (c *base) Session() auth.Session { return c.session }

// Context returns the connection's context (for cancellation)
func (c *base) Context() context.Context { return c.ctx }

// IsClosed returns true if connection is closed
func (c *base) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// Send queues env. The queue is never closed, so a Send racing with Close
// returns ErrConnectionClosed instead of panicking.
func (c *base) Send(ctx context.Context, env envelope.Envelope) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	select {
	case c.send <- env:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-ctx.Done():
		return fmt.Errorf("send queue full: %w", ctx.Err())
	}
}

// markClosed flips the closed flag once and reports whether this call did it.
func (c *base) markClosed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	c.cancel()
	return true
}

// SSEConnection implements the Connection interface for Server-Sent Events
type SSEConnection struct {
	*base

	writer http.ResponseWriter
	done   chan struct{}

	keepAlive time.Duration
}

// NewSSEConnection creates a new SSE connection and starts its write pump.
// The caller must keep the request open until Done is closed.
func NewSSEConnection(
	ctx context.Context,
	id string,
	session auth.Session,
	w http.ResponseWriter,
	cfg Config,
	logger logger.Logger,
) *SSEConnection {
	conn := &SSEConnection{
		base:      newBase(ctx, id, session, cfg.SendBuffer, logger),
		writer:    w,
		done:      make(chan struct{}),
		keepAlive: cfg.PingInterval,
	}

	conn.setupSSEHeaders()

	go conn.writePump()

	return conn
}

// Type returns the connection type
func (c *SSEConnection) Type() string {
	return TypeSSE
}

// Done is closed once the write pump has stopped touching the response.
func (c *SSEConnection) Done() <-chan struct{} {
	return c.done
}

// Close gracefully closes the connection
func (c *SSEConnection) Close() error {
	if c.markClosed() {
		c.logger.Info("SSE connection closed")
	}
	return nil
}

// setupSSEHeaders sets up the proper headers for SSE connection
func (c *SSEConnection) setupSSEHeaders() {
	c.writer.Header().Set("Content-Type", "text/event-stream")
	c.writer.Header().Set("Cache-Control", "no-cache")
	c.writer.Header().Set("Connection", "keep-alive")
	c.writer.Header().Set("X-Accel-Buffering", "no") // For nginx
}

// writePump is the only goroutine that writes to the response.
func (c *SSEConnection) writePump() {
	defer close(c.done)

	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	if !c.write(sse.Event{
		Event: "connected",
		Data: map[string]any{
			"connection_id": c.id,
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
		},
	}) {
		return
	}

	for {
		select {
		case env := <-c.send:
			if !c.write(sse.Event{Id: env.ID(), Event: string(env.Type), Data: env}) {
				return
			}

		case <-ticker.C:
			if !c.write(sse.Event{Event: "keepalive", Data: time.Now().Unix()}) {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *SSEConnection) write(event sse.Event) bool {
	if err := sse.Encode(c.writer, event); err != nil {
		c.logger.Errorf("Failed to write SSE event: %v", err)
		c.Close()
		return false
	}

	if flusher, ok := c.writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return true
}

// WebSocketConnection implements the Connection interface for WebSocket connections
type WebSocketConnection struct {
	*base

	conn    *websocket.Conn
	cfg     Config
	limiter *rate.Limiter
	inbound InboundHandler
}

// NewWebSocketConnection creates a new WebSocket connection and starts its
// read and write pumps. Client-originated envelopes go to inbound.
func NewWebSocketConnection(
	id string,
	session auth.Session,
	conn *websocket.Conn,
	cfg Config,
	inbound InboundHandler,
	logger logger.Logger,
) *WebSocketConnection {
	wsConn := &WebSocketConnection{
		base:    newBase(context.Background(), id, session, cfg.SendBuffer, logger),
		conn:    conn,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.InboundRate), cfg.InboundBurst),
		inbound: inbound,
	}

	wsConn.setupWebSocket()

	go wsConn.writePump()
	go wsConn.readPump()

	return wsConn
}

// Type returns the connection type
func (c *WebSocketConnection) Type() string {
	return TypeWebSocket
}

// Close sends a close frame and closes the socket. WriteControl may run
// concurrently with the write pump.
func (c *WebSocketConnection) Close() error {
	if !c.markClosed() {
		return nil
	}

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteTimeout),
	)
	err := c.conn.Close()

	c.logger.Info("WebSocket connection closed")
	return err
}

// setupWebSocket configures WebSocket connection settings
func (c *WebSocketConnection) setupWebSocket() {
	if c.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})
}

// writePump handles sending envelopes to the WebSocket connection
func (c *WebSocketConnection) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Errorf("Failed to write envelope: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Errorf("Failed to send ping: %v", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// readPump handles reading frames from the WebSocket connection
func (c *WebSocketConnection) readPump() {
	defer c.Close()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				c.logger.Errorf("WebSocket error: %v", err)
			}
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		if messageType != websocket.TextMessage {
			c.logger.Debugf("Ignoring non-text frame of length %d", len(data))
			continue
		}

		if !c.limiter.Allow() {
			c.logger.Warn("Inbound rate exceeded, dropping frame")
			continue
		}

		env, err := envelope.Decode(data)
		if err != nil {
			c.logger.Warnf("Dropping inbound frame: %v", err)
			continue
		}

		if c.inbound != nil {
			c.inbound(c, env)
		}
	}
}
