package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go-realtime-bus/internal/domain/envelope"
	"go-realtime-bus/internal/infrastructure/logger"
)

var (
	ErrAlreadyStarted = errors.New("bus already started")
	ErrStopped        = errors.New("bus stopped")
)

// ReconnectPolicy controls what happens after a channel closes on its own.
// The zero value never reconnects.
type ReconnectPolicy struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor, 0 to 1.
	Jitter float64
	// MaxElapsed gives up after this long without a successful connection.
	// Zero never gives up.
	MaxElapsed time.Duration
}

func (p ReconnectPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	if p.Jitter >= 0 && p.Jitter <= 1 {
		b.RandomizationFactor = p.Jitter
	}
	b.MaxElapsedTime = p.MaxElapsed
	b.Reset()
	return b
}

// BusOptions configures a Bus.
type BusOptions struct {
	Endpoint  string
	Channel   ChannelOptions
	Reconnect ReconnectPolicy
}

// Bus owns the session's channel, its subscribers and the most recently
// received envelope. Subscribers belong to the Bus, not to a channel, so they
// survive reconnects.
type Bus struct {
	opts     BusOptions
	logger   logger.Logger
	registry *Registry

	last atomic.Pointer[envelope.Envelope]

	mu      sync.Mutex
	channel *Channel
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBus(opts BusOptions, logger logger.Logger) *Bus {
	log := logger.WithField("component", "bus")
	return &Bus{
		opts:     opts,
		logger:   log,
		registry: NewRegistry(log),
	}
}

// Start dials the channel. It does not wait for the handshake.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return ErrStopped
	}
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.channel = b.dial()

	if b.opts.Reconnect.Enabled {
		b.wg.Add(1)
		go b.supervise()
	}
	return nil
}

// Stop closes the channel, ends any reconnect loop and drops every
// subscriber. A stopped Bus cannot be restarted.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	ch := b.channel
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ch != nil {
		ch.Close()
	}
	b.wg.Wait()

	b.registry.Clear()
	b.logger.Info("Bus stopped")
}

// Subscribe registers h for every envelope received from now on.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	return b.registry.Subscribe(h)
}

// Send writes v on the current channel if it is open and drops it otherwise.
func (b *Bus) Send(v any) {
	if ch := b.current(); ch != nil {
		ch.Send(v)
		return
	}
	b.logger.Debug("Dropping send before start")
}

// LastMessage returns the most recently received envelope. It is updated
// before subscribers are called.
func (b *Bus) LastMessage() (envelope.Envelope, bool) {
	if env := b.last.Load(); env != nil {
		return *env, true
	}
	return envelope.Envelope{}, false
}

// State returns the state of the current channel, CLOSED before Start.
func (b *Bus) State() State {
	if ch := b.current(); ch != nil {
		return ch.State()
	}
	return StateClosed
}

// Channel returns the current channel, nil before Start.
func (b *Bus) Channel() *Channel {
	return b.current()
}

func (b *Bus) current() *Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel
}

func (b *Bus) dial() *Channel {
	return Dial(b.ctx, b.opts.Endpoint, b.opts.Channel, b.receive, b.logger)
}

func (b *Bus) receive(env envelope.Envelope) {
	b.last.Store(&env)
	b.registry.Publish(env)
}

// supervise replaces the channel each time it closes until the Bus stops or
// the backoff gives up. Envelopes sent while disconnected are lost.
func (b *Bus) supervise() {
	defer b.wg.Done()

	bo := b.opts.Reconnect.backOff()

	for {
		ch := b.current()
		select {
		case <-ch.Done():
		case <-b.ctx.Done():
			return
		}
		if b.ctx.Err() != nil {
			return
		}

		if ch.WasOpened() {
			bo.Reset()
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			b.logger.Errorf("Giving up reconnecting to %s", b.opts.Endpoint)
			return
		}
		b.logger.Infof("Channel %s closed, reconnecting in %v", ch.ID(), wait)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-b.ctx.Done():
			timer.Stop()
			return
		}

		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			return
		}
		b.channel = b.dial()
		b.mu.Unlock()
	}
}
