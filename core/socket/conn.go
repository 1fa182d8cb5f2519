package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	session "github.com/koscakluka/ema-session/core"
	"github.com/koscakluka/ema-session/core/events"
	"golang.org/x/sync/errgroup"
)

const (
	inboundCapacity = 256
	writeTimeout    = 5 * time.Second
)

// Conn is an established websocket transport. It implements [session.Socket].
type Conn struct {
	conn   *websocket.Conn
	frames chan events.Envelope

	group  *errgroup.Group
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

func newConn(conn *websocket.Conn, pingInterval time.Duration) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	c := &Conn{
		conn:   conn,
		frames: make(chan events.Envelope, inboundCapacity),
		group:  group,
		cancel: cancel,
	}

	if pingInterval > 0 {
		deadline := 2 * pingInterval
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(deadline))
		})
		group.Go(func() error { return c.pingPump(ctx, pingInterval) })
	}
	group.Go(func() error { return c.readPump(ctx) })

	return c
}

// ReadEnvelope returns the next inbound event. Once the connection is gone it
// returns [session.ErrSocketClosed] for a normal closure and the transport
// error otherwise.
func (c *Conn) ReadEnvelope() (events.Envelope, error) {
	envelope, ok := <-c.frames
	if !ok {
		return events.Envelope{}, c.Err()
	}
	return envelope, nil
}

func (c *Conn) Emit(name events.Kind, payload any) error {
	if c.closed.Load() {
		return session.ErrSocketClosed
	}

	frame, err := events.MarshalEnvelope(name, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", name, err)
	}
	return nil
}

// Close performs the closing handshake and waits for the pumps to stop.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.cancel()
		_ = c.conn.Close()
	})
	_ = c.group.Wait()
	return nil
}

// Err returns the error that ended the connection, if it ended.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Conn) readPump(ctx context.Context) error {
	defer close(c.frames)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			err = c.classify(err)
			c.setErr(err)
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		envelope, err := events.ParseEnvelope(data)
		if err != nil {
			logger.WarnContext(ctx, "skipping malformed frame", "error", err)
			continue
		}

		select {
		case <-ctx.Done():
			c.setErr(session.ErrSocketClosed)
			return session.ErrSocketClosed
		case c.frames <- envelope:
		}
	}
}

func (c *Conn) classify(err error) error {
	if c.closed.Load() ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed) {
		return session.ErrSocketClosed
	}
	return fmt.Errorf("failed to read frame: %w", err)
}

func (c *Conn) pingPump(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return fmt.Errorf("failed to ping: %w", err)
			}
		}
	}
}
