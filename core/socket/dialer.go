// Package socket implements the session transport over a websocket. Every
// event travels as one JSON text frame of the form
//
//	{"event": "<name>", "data": <payload>}
package socket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	session "github.com/koscakluka/ema-session/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 25 * time.Second
)

// Dialer connects sessions to a websocket server.
type Dialer struct {
	serverURL        string
	apiKey           string
	header           http.Header
	handshakeTimeout time.Duration
	pingInterval     time.Duration
}

type DialerOption func(*Dialer)

// WithAPIKey authenticates the connection with a bearer token.
func WithAPIKey(apiKey string) DialerOption {
	return func(d *Dialer) { d.apiKey = apiKey }
}

func WithHeader(key, value string) DialerOption {
	return func(d *Dialer) { d.header.Add(key, value) }
}

// WithHandshakeTimeout bounds dials whose context has no deadline.
func WithHandshakeTimeout(timeout time.Duration) DialerOption {
	return func(d *Dialer) { d.handshakeTimeout = timeout }
}

// WithPingInterval sets how often the connection is pinged. The connection is
// considered lost when no pong arrives within two intervals. Zero disables
// pinging.
func WithPingInterval(interval time.Duration) DialerOption {
	return func(d *Dialer) { d.pingInterval = interval }
}

func NewDialer(serverURL string, opts ...DialerOption) *Dialer {
	d := &Dialer{
		serverURL:        serverURL,
		header:           make(http.Header),
		handshakeTimeout: DefaultHandshakeTimeout,
		pingInterval:     DefaultPingInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dialer) Dial(ctx context.Context) (session.Socket, error) {
	ctx, span := tracer.Start(ctx, "dial websocket", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	endpoint, err := websocketURL(d.serverURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("server.address", endpoint.Host))

	header := d.header.Clone()
	if d.apiKey != "" {
		header.Set("Authorization", "Bearer "+d.apiKey)
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && d.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d.handshakeTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint.String(), header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("failed to open websocket (status %d): %w", resp.StatusCode, err)
		} else {
			err = fmt.Errorf("failed to open websocket: %w", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger.DebugContext(ctx, "websocket connected", "server", endpoint.Host)
	return newConn(conn, d.pingInterval), nil
}

// websocketURL accepts http(s) and ws(s) server URLs.
func websocketURL(serverURL string) (*url.URL, error) {
	endpoint, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}

	switch endpoint.Scheme {
	case "ws", "wss":
	case "http":
		endpoint.Scheme = "ws"
	case "https":
		endpoint.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid server url: unsupported scheme %q", endpoint.Scheme)
	}
	if endpoint.Host == "" {
		return nil, fmt.Errorf("invalid server url: missing host")
	}
	return endpoint, nil
}
