package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-session/core/events"
	"github.com/sethvargo/go-retry"
)

const inboundCapacity = 256

// Socket is an established bidirectional connection carrying named events.
type Socket interface {
	// ReadEnvelope blocks until the next inbound event arrives. It returns an
	// error once the connection is lost or closed.
	ReadEnvelope() (events.Envelope, error)
	Emit(name events.Kind, payload any) error
	Close() error
}

// Dialer establishes sockets. It is called again for every reconnect.
type Dialer interface {
	Dial(ctx context.Context) (Socket, error)
}

type DialerFunc func(ctx context.Context) (Socket, error)

func (f DialerFunc) Dial(ctx context.Context) (Socket, error) { return f(ctx) }

// ReconnectPolicy controls automatic re-establishment of a lost transport.
type ReconnectPolicy struct {
	Enabled bool
	// BaseDelay is the first backoff delay, doubled on every failed attempt.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff delay. Zero means uncapped.
	MaxDelay time.Duration
	// MaxAttempts bounds the attempts per outage. Zero means unbounded.
	MaxAttempts uint64
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:   true,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  10 * time.Second,
	}
}

func (p ReconnectPolicy) backoff() retry.Backoff {
	baseDelay := p.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultReconnectPolicy().BaseDelay
	}

	backoff := retry.NewExponential(baseDelay)
	if p.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(p.MaxDelay, backoff)
	}
	if p.MaxAttempts > 0 {
		backoff = retry.WithMaxRetries(p.MaxAttempts, backoff)
	}
	return backoff
}

// inboundEnvelope is an envelope tagged with the connection epoch it was
// received in.
type inboundEnvelope struct {
	epoch    uint64
	envelope events.Envelope
}

// connectionManager owns the transport of a session and funnels everything it
// observes into a single ordered channel: the inbound traffic together with
// synthetic connect, disconnect and error envelopes.
type connectionManager struct {
	dialer    Dialer
	reconnect ReconnectPolicy
	inbound   chan inboundEnvelope

	mu     sync.Mutex
	socket Socket
	cancel context.CancelFunc
	done   chan struct{}
	// epoch changes on every Connect and Disconnect. Envelopes of an older
	// epoch are stale.
	epoch uint64
}

func newConnectionManager(dialer Dialer, reconnect ReconnectPolicy) *connectionManager {
	return &connectionManager{
		dialer:    dialer,
		reconnect: reconnect,
		inbound:   make(chan inboundEnvelope, inboundCapacity),
	}
}

func (c *connectionManager) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Connect dials the transport and starts reading from it. Connecting an
// already connected manager is a no-op.
func (c *connectionManager) Connect(ctx context.Context) error {
	if c.dialer == nil {
		return ErrNoDialer
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	socket, err := c.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	// The read loop outlives the dial context, it is stopped by Disconnect.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.epoch++
	epoch := c.epoch
	c.socket = socket
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		run := panicSafeNamedWorker("connection", func(ctx context.Context) error {
			return c.run(ctx, epoch, socket)
		})
		if err := run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("connection worker stopped", "error", err)
		}
		c.release(done)
	}()
	return nil
}

// Disconnect closes the transport and waits for the read loop to stop. No
// disconnect envelope is delivered for a requested disconnect.
func (c *connectionManager) Disconnect() error {
	c.mu.Lock()
	cancel, done, socket := c.cancel, c.done, c.socket
	c.cancel, c.done, c.socket = nil, nil, nil
	if cancel != nil {
		cancel()
		c.epoch++
	}
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}

	var err error
	if socket != nil {
		if closeErr := socket.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close socket: %w", closeErr)
		}
	}
	<-done
	return err
}

// Emit sends a named event on the current transport.
func (c *connectionManager) Emit(name events.Kind, payload any) error {
	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()

	if socket == nil {
		return ErrNotConnected
	}
	if err := socket.Emit(name, payload); err != nil {
		return fmt.Errorf("failed to emit %s: %w", name, err)
	}
	return nil
}

// release forgets a read loop that stopped on its own so a later Connect can
// dial again.
func (c *connectionManager) release(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != done {
		return
	}
	c.cancel()
	c.cancel, c.done, c.socket = nil, nil, nil
}

func (c *connectionManager) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket != nil
}

func (c *connectionManager) run(ctx context.Context, epoch uint64, socket Socket) error {
	for {
		if !c.deliver(ctx, epoch, events.NewEnvelope(events.KindConnect, nil)) {
			return ctx.Err()
		}

		err := c.read(ctx, epoch, socket)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Warn("connection lost", "error", err)
		_ = socket.Close()
		if err != nil && !errors.Is(err, ErrSocketClosed) {
			c.deliver(ctx, epoch, events.NewEnvelope(events.KindError, events.ErrorPayload(err.Error())))
		}
		c.setSocket(ctx, nil)
		if !c.deliver(ctx, epoch, events.NewEnvelope(events.KindDisconnect, nil)) {
			return ctx.Err()
		}

		if !c.reconnect.Enabled {
			return nil
		}
		if socket, err = c.redial(ctx, epoch); err != nil {
			return err
		}
		reconnectsCounter.Add(ctx, 1)
	}
}

func (c *connectionManager) read(ctx context.Context, epoch uint64, socket Socket) error {
	for {
		envelope, err := socket.ReadEnvelope()
		if err != nil {
			return err
		}
		if !c.deliver(ctx, epoch, envelope) {
			return ctx.Err()
		}
	}
}

// redial re-establishes the transport with exponential backoff. Every failed
// attempt is reported as an error envelope.
func (c *connectionManager) redial(ctx context.Context, epoch uint64) (Socket, error) {
	var socket Socket
	err := retry.Do(ctx, c.reconnect.backoff(), func(ctx context.Context) error {
		dialed, err := c.dialer.Dial(ctx)
		if err != nil {
			c.deliver(ctx, epoch, events.NewEnvelope(events.KindError, events.ErrorPayload(err.Error())))
			return retry.RetryableError(err)
		}
		socket = dialed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconnect: %w", err)
	}

	if !c.setSocket(ctx, socket) {
		_ = socket.Close()
		return nil, ctx.Err()
	}
	return socket, nil
}

// setSocket swaps the current socket unless the manager was disconnected in
// the meantime.
func (c *connectionManager) setSocket(ctx context.Context, socket Socket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	c.socket = socket
	return true
}

// deliver blocks until the envelope is queued or ctx is done. Envelopes are
// never dropped while the manager runs.
func (c *connectionManager) deliver(ctx context.Context, epoch uint64, envelope events.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case c.inbound <- inboundEnvelope{epoch: epoch, envelope: envelope}:
		return true
	}
}
