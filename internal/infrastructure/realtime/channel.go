// Package realtime is the client side of the update bus: one WebSocket
// channel per session, a registry of subscribers and the Bus that ties them
// together.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go-realtime-bus/internal/domain/envelope"
	"go-realtime-bus/internal/infrastructure/logger"
)

// State is the lifecycle state of a Channel.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ChannelOptions tunes a single channel.
type ChannelOptions struct {
	// Token is sent as a bearer token on the upgrade request when set.
	Token string

	HandshakeTimeout time.Duration
	// ReadTimeout bounds the silence between two frames (pings included).
	// Zero disables the read deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultChannelOptions() ChannelOptions {
	return ChannelOptions{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// EndpointFromOrigin derives the channel endpoint from the application
// origin: https becomes wss, http becomes ws, and the path is /ws on the
// origin's host.
func EndpointFromOrigin(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", origin, err)
	}

	var scheme string
	switch u.Scheme {
	case "https", "wss":
		scheme = "wss"
	case "http", "ws":
		scheme = "ws"
	default:
		return "", fmt.Errorf("invalid origin %q: unsupported scheme %q", origin, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid origin %q: missing host", origin)
	}

	return (&url.URL{Scheme: scheme, Host: u.Host, Path: "/ws"}).String(), nil
}

// Channel is one client WebSocket connection. It is created by Dial in
// CONNECTING state and never reopens: once CLOSED, a new Channel is needed.
//
// Inbound text frames are decoded into envelopes and handed to the dispatch
// function on the channel's read goroutine, in arrival order.
type Channel struct {
	id       string
	endpoint string
	opts     ChannelOptions
	dispatch func(envelope.Envelope)
	logger   logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	writeMu sync.Mutex

	closeOnce  sync.Once
	finishOnce sync.Once
	opened     chan struct{}
	done       chan struct{}
}

// Dial starts connecting to endpoint and returns at once. The handshake runs
// in the background; a failure is logged and leaves the channel CLOSED.
// Cancelling ctx closes the channel.
func Dial(
	ctx context.Context,
	endpoint string,
	opts ChannelOptions,
	dispatch func(envelope.Envelope),
	log logger.Logger,
) *Channel {
	id := uuid.NewString()
	cctx, cancel := context.WithCancel(ctx)

	c := &Channel{
		id:       id,
		endpoint: endpoint,
		opts:     opts,
		dispatch: dispatch,
		logger:   log.WithField("connection_id", id),
		ctx:      cctx,
		cancel:   cancel,
		state:    StateConnecting,
		opened:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	go c.run()
	go func() {
		<-c.ctx.Done()
		c.Close()
	}()

	return c
}

// ID returns the channel's connection id.
func (c *Channel) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Opened is closed when the handshake succeeds. It stays open forever if the
// channel never reaches OPEN.
func (c *Channel) Opened() <-chan struct{} { return c.opened }

// Done is closed once the channel is CLOSED and its read loop has exited.
func (c *Channel) Done() <-chan struct{} { return c.done }

// WasOpened reports whether the channel ever reached OPEN.
func (c *Channel) WasOpened() bool {
	select {
	case <-c.opened:
		return true
	default:
		return false
	}
}

// Send serializes v as JSON and writes it as one text frame. Anything other
// than an OPEN channel drops the value; the caller is not told.
func (c *Channel) Send(v any) {
	c.mu.Lock()
	state, conn := c.state, c.conn
	c.mu.Unlock()

	if state != StateOpen {
		c.logger.Debugf("Dropping send while %s", state)
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Errorf("Dropping unserializable send: %v", err)
		return
	}

	c.writeMu.Lock()
	if c.opts.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Errorf("Write failed, closing channel: %v", err)
		c.Close()
	}
}

// Close tears the channel down. It is safe to call more than once and from a
// subscriber; no envelope is dispatched after it returns, though a fan-out
// already in progress runs to completion.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		if c.state != StateClosed {
			c.state = StateClosing
		}
		c.mu.Unlock()

		c.cancel()

		if conn != nil {
			err := conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.writeTimeout()),
			)
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debugf("Failed to send close frame: %v", err)
			}
			conn.Close()
		}

		c.setState(StateClosed)
		c.logger.Info("Channel closed")
	})
}

func (c *Channel) run() {
	defer c.finish()

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}

	c.logger.Infof("Connecting to %s", c.endpoint)
	conn, resp, err := dialer.DialContext(c.ctx, c.endpoint, header)
	if err != nil {
		if c.ctx.Err() != nil {
			c.logger.Debugf("Dial to %s abandoned: %v", c.endpoint, err)
			return
		}
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		c.logger.Errorf("Connection to %s failed: %v", c.endpoint, err)
		return
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	close(c.opened)
	c.mu.Unlock()

	c.logger.Infof("Connected to %s", c.endpoint)

	c.readPump(conn)
}

// readPump consumes frames until the socket fails or is closed.
func (c *Channel) readPump(conn *websocket.Conn) {
	conn.SetPingHandler(func(data string) error {
		c.extendReadDeadline(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.writeTimeout()))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		c.extendReadDeadline(conn)

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.Debugf("Ignoring non-text frame of length %d", len(data))
			continue
		}

		env, err := envelope.Decode(data)
		if err != nil {
			c.logger.Warnf("Dropping malformed frame: %v", err)
			continue
		}

		if c.State() != StateOpen {
			return
		}
		c.dispatch(env)
	}
}

func (c *Channel) logReadError(err error) {
	switch {
	case c.State() != StateOpen:
		c.logger.Debugf("Read loop stopped: %v", err)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.logger.Infof("Server closed the channel: %v", err)
	default:
		c.logger.Errorf("Channel transport error: %v", err)
	}
}

func (c *Channel) extendReadDeadline(conn *websocket.Conn) {
	if c.opts.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
}

func (c *Channel) writeTimeout() time.Duration {
	if c.opts.WriteTimeout > 0 {
		return c.opts.WriteTimeout
	}
	return time.Second
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// finish runs when the background goroutine exits, whatever the reason.
func (c *Channel) finish() {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.state = StateClosed
		c.mu.Unlock()

		c.cancel()
		if conn != nil {
			conn.Close()
		}
		close(c.done)
	})
}
