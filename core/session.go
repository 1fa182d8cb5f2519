// Package session reconciles the event stream of a conversational agent
// server into a consistent client-side session: an append-only transcript,
// decoded agent audio, the processing stage of the in-flight turn and the
// connection state.
//
// A [Session] is independent of any rendering surface. Renderers observe it
// through the callbacks registered with its options and through
// [Session.Snapshot].
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-session/core/dedup"
	"github.com/koscakluka/ema-session/core/dispatch"
	"github.com/koscakluka/ema-session/core/events"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotConnected        = errors.New("session is not connected")
	ErrSessionClosed       = errors.New("session is closed")
	ErrConversationStarted = errors.New("conversation already started")
	ErrNoDialer            = errors.New("no dialer configured")
	ErrEmptyInput          = errors.New("input is empty")
	// ErrSocketClosed is returned by sockets closed normally by the server.
	ErrSocketClosed = errors.New("socket closed")
)

type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionErrored      ConnectionStatus = "errored"
)

// ConnectionState is the connection state shown to the user.
type ConnectionState struct {
	Status ConnectionStatus
	// Error is the last transport error display string. It is kept while
	// connected until the next connect or until dismissed.
	Error string
}

type InputMode string

const (
	InputModeText  InputMode = "text"
	InputModeVoice InputMode = "voice"
)

// Snapshot is a point in time copy of the session state.
type Snapshot struct {
	Connection     ConnectionState
	Processing     ProcessingState
	AudioStream    AudioStreamSnapshot
	Transcript     []Message
	InputMode      InputMode
	ResponseFormat string
}

type Session struct {
	// dispatcher holds the single registration set of the session, rebuilt on
	// every connect.
	dispatcher *dispatch.Dispatcher[events.Kind, json.RawMessage]
	// dispatchMu serializes event handling, every handler runs to completion
	// before the next event is dispatched.
	dispatchMu sync.Mutex

	// mu guards the presentation state below.
	mu             sync.RWMutex
	connection     ConnectionState
	processing     processingStatusTracker
	audioStream    audioAssembler
	assets         audioAssets
	inputMode      InputMode
	responseFormat string

	transcript *transcript
	dedup      *dedup.Cache
	reconciler *conversationReconciler
	handoff    *handoffCoordinator
	conn       *connectionManager

	dialer                Dialer
	reconnect             ReconnectPolicy
	dedupSize             int
	dedupTTL              time.Duration
	defaultResponseFormat string
	now                   func() time.Time
	baseContext           context.Context
	callbacks             sessionCallbacks

	// pending holds renderer notifications not yet delivered. They are
	// delivered in order by flushNotifications, never while a session lock is
	// held.
	pendingMu sync.Mutex
	pending   []func()
	flushing  bool
	// loopNotifying is set while the event loop delivers notifications.
	loopNotifying atomic.Bool

	loopOnce  sync.Once
	closeOnce sync.Once
	closeCh   chan struct{}
	loopDone  chan struct{}
	started   atomic.Bool
	closed    atomic.Bool
}

func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		dispatcher:            dispatch.New[events.Kind, json.RawMessage](),
		connection:            ConnectionState{Status: ConnectionDisconnected},
		audioStream:           newAudioAssembler(),
		inputMode:             InputModeText,
		transcript:            &transcript{},
		dedupSize:             dedup.DefaultSize,
		defaultResponseFormat: events.ResponseFormatText,
		now:                   time.Now,
		baseContext:           context.Background(),
		closeCh:               make(chan struct{}),
		loopDone:              make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.responseFormat = s.defaultResponseFormat
	s.dedup = s.newDedupCache()
	s.reconciler = &conversationReconciler{
		transcript: s.transcript,
		processing: &s.processing,
		dedup:      s.dedup,
		assets:     &s.assets,
		now:        s.now,
	}
	s.handoff = &handoffCoordinator{transcript: s.transcript, now: s.now}
	s.conn = newConnectionManager(s.dialer, s.reconnect)
	s.bindHandlers()

	return s
}

// Connect establishes the transport and starts handling its events. The
// connected state is reached once the transport's connect event is handled.
func (s *Session) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	defer s.flushNotifications()
	s.startLoop()
	if s.conn.Connected() {
		return nil
	}

	s.setConnection(ConnectionState{Status: ConnectionConnecting})
	if err := s.conn.Connect(ctx); err != nil {
		s.setConnection(ConnectionState{Status: ConnectionErrored, Error: err.Error()})
		return fmt.Errorf("failed to connect session: %w", err)
	}
	return nil
}

// Disconnect closes the transport. All handlers are unregistered before it
// returns, events still in flight are dropped.
func (s *Session) Disconnect() error {
	defer s.flushNotifications()
	err := s.conn.Disconnect()

	s.dispatchMu.Lock()
	s.dispatcher.Clear()
	s.dispatchMu.Unlock()

	s.setConnection(ConnectionState{Status: ConnectionDisconnected})
	if err != nil {
		return fmt.Errorf("failed to disconnect session: %w", err)
	}
	return nil
}

// Close disconnects, stops event handling and releases every audio asset. A
// closed session cannot be reconnected.
//
// Close waits for the event loop to stop, except when it is called from a
// callback delivered by the loop. The loop then stops once that callback
// returns.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.Disconnect()

		// Prevents a concurrent Connect from starting the loop after close.
		s.loopOnce.Do(func() {})
		close(s.closeCh)
		if s.started.Load() && !s.loopNotifying.Load() {
			<-s.loopDone
		}

		s.mu.Lock()
		released := s.assets.releaseAll()
		s.mu.Unlock()
		s.notifyReleased(released)
		s.flushNotifications()
	})
	return err
}

func (s *Session) startLoop() {
	s.loopOnce.Do(func() {
		s.started.Store(true)
		go func() {
			defer close(s.loopDone)
			run := panicSafeNamedWorker("session loop", s.loop)
			if err := run(s.baseContext); err != nil {
				logger.Error("session loop stopped", "error", err)
			}
		}()
	})
}

func (s *Session) loop(ctx context.Context) error {
	for {
		select {
		case <-s.closeCh:
			return nil
		case item := <-s.conn.inbound:
			s.dispatchMu.Lock()
			if item.epoch == s.conn.Epoch() {
				s.dispatch(item.envelope.Name, item.envelope.Data)
			} else {
				logger.DebugContext(ctx, "dropping stale event", "event", item.envelope.Name)
			}
			s.dispatchMu.Unlock()

			s.loopNotifying.Store(true)
			s.flushNotifications()
			s.loopNotifying.Store(false)
		}
	}
}

// Handle dispatches a single event synchronously, as if it was received from
// the transport, and reports whether a handler ran.
func (s *Session) Handle(name events.Kind, payload json.RawMessage) bool {
	defer s.flushNotifications()
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	return s.dispatch(name, payload)
}

func (s *Session) dispatch(name events.Kind, payload json.RawMessage) bool {
	if name == events.KindConnect {
		s.bindHandlers()
	}

	handled := s.dispatcher.Dispatch(name, payload)
	if !handled {
		logger.Debug("no handler registered for event", "event", name)
	}
	return handled
}

// Reset clears the conversation: the transcript, the duplicate cache, the
// processing state and the audio stream. Every audio asset is released. The
// connection is left untouched.
func (s *Session) Reset() {
	defer s.flushNotifications()
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	s.transcript.reset()
	s.dedup.Purge()
	processing := s.processing.Clear()
	s.audioStream.Reset()
	released := s.assets.releaseAll()
	s.inputMode = InputModeText
	s.responseFormat = s.defaultResponseFormat
	s.mu.Unlock()

	s.notifyReleased(released)
	s.notifyReset()
	s.notifyProcessing(processing)
}

// StartConversation greets the user in an empty conversation and switches
// the input mode to match the chosen method.
func (s *Session) StartConversation(method string) error {
	defer s.flushNotifications()
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.transcript.Len() > 0 {
		s.mu.Unlock()
		return ErrConversationStarted
	}
	if method == string(InputModeVoice) {
		s.inputMode = InputModeVoice
	} else {
		s.inputMode = InputModeText
	}
	greeting := fmt.Sprintf("Great! Let's chat using %s. How can I help you today?", method)
	delta := s.transcript.append(newMessage(SenderAgent, greeting, s.now()))
	s.mu.Unlock()

	s.notifyTranscript(delta)
	return nil
}

// SendTextInput sends typed user input. An empty format uses the session's
// response format.
func (s *Session) SendTextInput(ctx context.Context, text, format string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}

	payload := events.TextInput{Text: text, ResponseFormat: s.resolveResponseFormat(format)}
	return s.send(ctx, events.KindTextInput, payload, statusSendingMessage)
}

// SendAudioStream sends recorded user audio. The audio is base64 encoded on
// the wire. An empty response format uses the session's response format.
func (s *Session) SendAudioStream(ctx context.Context, audio []byte, audioFormat, responseFormat string) error {
	if len(audio) == 0 {
		return ErrEmptyInput
	}

	payload := events.AudioStream{
		AudioData:      base64.StdEncoding.EncodeToString(audio),
		AudioFormat:    audioFormat,
		ResponseFormat: s.resolveResponseFormat(responseFormat),
	}
	return s.send(ctx, events.KindAudioStream, payload, statusUploadingAudio)
}

// send emits a turn starting event and marks the turn as processing. The
// processing state is restored if the event could not be sent.
func (s *Session) send(ctx context.Context, name events.Kind, payload any, status string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.conn.Connected() {
		return ErrNotConnected
	}
	defer s.flushNotifications()

	_, span := tracer.Start(ctx, "send "+string(name), trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	s.mu.Lock()
	previous := s.processing.State()
	begun := s.processing.Begin(status)
	s.mu.Unlock()
	s.notifyProcessing(begun)

	if err := s.conn.Emit(name, payload); err != nil {
		span.RecordError(err)
		s.mu.Lock()
		restored := s.processing.State()
		if restored == begun {
			restored = s.processing.restore(previous)
		}
		s.mu.Unlock()
		s.notifyProcessing(restored)
		return err
	}
	return nil
}

// RequestHumanAssistance asks the server to hand the conversation over to a
// human operator. The confirmation arrives as a human_handoff_initiated
// event.
func (s *Session) RequestHumanAssistance(ctx context.Context, reason, category, urgency string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	_, span := tracer.Start(ctx, "request human assistance", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	payload := events.RequestHumanAssistance{Reason: reason, Category: category, Urgency: urgency}
	if err := s.conn.Emit(events.KindRequestHumanAssistance, payload); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// DismissError clears the displayed transport error.
func (s *Session) DismissError() {
	s.mu.Lock()
	state := s.connection
	state.Error = ""
	if state.Status == ConnectionErrored {
		state.Status = ConnectionDisconnected
	}
	s.connection = state
	s.mu.Unlock()

	s.notifyConnection(state)
	s.flushNotifications()
}

func (s *Session) SetInputMode(mode InputMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputMode = mode
}

func (s *Session) InputMode() InputMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inputMode
}

func (s *Session) SetResponseFormat(format string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseFormat = format
}

func (s *Session) ResponseFormat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.responseFormat
}

func (s *Session) resolveResponseFormat(format string) string {
	if format != "" {
		return format
	}
	return s.ResponseFormat()
}

func (s *Session) Connection() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection
}

func (s *Session) Processing() ProcessingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processing.State()
}

// Transcript returns a copy of the transcript.
func (s *Session) Transcript() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcript.Snapshot()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	audioStream := s.audioStream.Snapshot()
	audioStream.Metadata = maps.Clone(audioStream.Metadata)
	return Snapshot{
		Connection:     s.connection,
		Processing:     s.processing.State(),
		AudioStream:    audioStream,
		Transcript:     s.transcript.Snapshot(),
		InputMode:      s.inputMode,
		ResponseFormat: s.responseFormat,
	}
}

// RegisteredEvents lists the events that currently have a handler.
func (s *Session) RegisteredEvents() []events.Kind {
	return s.dispatcher.Registered()
}

func (s *Session) setConnection(state ConnectionState) {
	s.mu.Lock()
	s.connection = state
	s.mu.Unlock()

	s.notifyConnection(state)
}
