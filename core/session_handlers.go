package session

import (
	"encoding/json"

	"github.com/koscakluka/ema-session/core/dispatch"
	"github.com/koscakluka/ema-session/core/events"
)

// handledEvents lists every inbound event a session registers a handler for.
var handledEvents = []events.Kind{
	events.KindConnect,
	events.KindDisconnect,
	events.KindError,
	events.KindProcessingStatus,
	events.KindAudioStreamStart,
	events.KindAudioChunk,
	events.KindAudioStreamComplete,
	events.KindConversationCompleted,
	events.KindHandoffSuggestion,
	events.KindHumanHandoffInitiated,
}

func (s *Session) handlers() map[events.Kind]dispatch.Handler[json.RawMessage] {
	return map[events.Kind]dispatch.Handler[json.RawMessage]{
		events.KindConnect:               s.onConnect,
		events.KindDisconnect:            s.onDisconnect,
		events.KindError:                 s.onError,
		events.KindProcessingStatus:      s.onProcessingStatus,
		events.KindAudioStreamStart:      s.onAudioStreamStart,
		events.KindAudioChunk:            s.onAudioChunk,
		events.KindAudioStreamComplete:   s.onAudioStreamComplete,
		events.KindConversationCompleted: s.onConversationCompleted,
		events.KindHandoffSuggestion:     s.onHandoffSuggestion,
		events.KindHumanHandoffInitiated: s.onHumanHandoffInitiated,
	}
}

// bindHandlers replaces the registration set of the session. Every previous
// registration is removed before the new ones are installed, so however many
// times the session connects each event has exactly one handler.
func (s *Session) bindHandlers() {
	handlers := s.handlers()
	for _, name := range handledEvents {
		s.dispatcher.Unregister(name)
	}
	for _, name := range handledEvents {
		s.dispatcher.Register(name, handlers[name])
	}
}

func (s *Session) onConnect(json.RawMessage) {
	s.setConnection(ConnectionState{Status: ConnectionConnected})
	logger.InfoContext(s.baseContext, "session connected")
}

func (s *Session) onDisconnect(json.RawMessage) {
	s.mu.Lock()
	state := ConnectionState{Status: ConnectionDisconnected, Error: s.connection.Error}
	s.connection = state
	s.mu.Unlock()

	s.notifyConnection(state)
	logger.InfoContext(s.baseContext, "session disconnected")
}

func (s *Session) onError(payload json.RawMessage) {
	transportError := events.DecodeTransportError(payload)

	s.mu.Lock()
	state := s.connection
	state.Error = transportError.Message
	if state.Status != ConnectionConnected {
		state.Status = ConnectionErrored
	}
	s.connection = state
	s.mu.Unlock()

	s.notifyConnection(state)
	logger.WarnContext(s.baseContext, "transport error", "message", transportError.Message)
}

func (s *Session) onProcessingStatus(payload json.RawMessage) {
	status, err := events.DecodeProcessingStatus(payload)
	if err != nil {
		logger.DebugContext(s.baseContext, "malformed processing status", "error", err)
	}

	s.mu.Lock()
	state := s.processing.Update(status.Stage)
	s.mu.Unlock()

	s.notifyProcessing(state)
}

func (s *Session) onAudioStreamStart(payload json.RawMessage) {
	start, err := events.DecodeAudioStreamStart(payload)
	if err != nil {
		logger.DebugContext(s.baseContext, "malformed audio stream start", "error", err)
	}

	s.mu.Lock()
	s.audioStream.Start(start)
	released := s.assets.releaseCurrent()
	state := s.processing.SetStatus(statusReceivingAudio)
	s.mu.Unlock()

	s.notifyReleased(released)
	s.notifyProcessing(state)
}

func (s *Session) onAudioChunk(payload json.RawMessage) {
	chunk, err := events.DecodeAudioChunk(payload)
	if err != nil {
		logger.DebugContext(s.baseContext, "malformed audio chunk", "error", err)
	}

	s.mu.Lock()
	s.audioStream.Append(chunk)
	s.mu.Unlock()
}

func (s *Session) onAudioStreamComplete(json.RawMessage) {
	s.mu.Lock()
	s.audioStream.Complete()
	state := s.processing.SetStatus(statusProcessingReply)
	s.mu.Unlock()

	s.notifyProcessing(state)
}

func (s *Session) onConversationCompleted(payload json.RawMessage) {
	turn, err := events.DecodeConversationCompleted(payload)
	if err != nil {
		logger.WarnContext(s.baseContext, "malformed conversation completed", "error", err)
	}

	s.mu.Lock()
	result := s.reconciler.Reconcile(s.baseContext, turn)
	s.mu.Unlock()

	if result.Duplicate {
		return
	}
	s.notifyTranscript(result.Delta)
	s.notifyProcessing(result.Processing)
}

func (s *Session) onHandoffSuggestion(payload json.RawMessage) {
	suggestion, err := events.DecodeHandoffSuggestion(payload)
	if err != nil {
		logger.DebugContext(s.baseContext, "malformed handoff suggestion", "error", err)
	}

	s.mu.Lock()
	delta := s.handoff.Suggest(suggestion)
	s.mu.Unlock()

	s.notifyTranscript(delta)
}

func (s *Session) onHumanHandoffInitiated(payload json.RawMessage) {
	initiated, err := events.DecodeHumanHandoffInitiated(payload)
	if err != nil {
		logger.DebugContext(s.baseContext, "malformed human handoff initiated", "error", err)
	}

	s.mu.Lock()
	delta := s.handoff.Confirm(initiated)
	s.mu.Unlock()

	s.notifyTranscript(delta)
}

// notify queues a renderer callback. Queued callbacks run once the session
// released its locks, see flushNotifications.
func (s *Session) notify(name string, callback func()) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending = append(s.pending, func() { safeCallback(name, callback) })
}

// flushNotifications delivers queued callbacks in order, one at a time. When
// another caller is already delivering, it returns at once and that caller
// delivers the newly queued callbacks as well, so callbacks may call back
// into the session.
func (s *Session) flushNotifications() {
	s.pendingMu.Lock()
	if s.flushing {
		s.pendingMu.Unlock()
		return
	}
	s.flushing = true
	for len(s.pending) > 0 {
		pending := s.pending
		s.pending = nil
		s.pendingMu.Unlock()

		for _, callback := range pending {
			callback()
		}

		s.pendingMu.Lock()
	}
	s.flushing = false
	s.pendingMu.Unlock()
}

func (s *Session) notifyTranscript(delta []Message) {
	if s.callbacks.onTranscript == nil || len(delta) == 0 {
		return
	}
	s.notify("transcript", func() { s.callbacks.onTranscript(delta) })
}

func (s *Session) notifyProcessing(state ProcessingState) {
	if s.callbacks.onProcessing == nil {
		return
	}
	s.notify("processing", func() { s.callbacks.onProcessing(state) })
}

func (s *Session) notifyConnection(state ConnectionState) {
	if s.callbacks.onConnection == nil {
		return
	}
	s.notify("connection", func() { s.callbacks.onConnection(state) })
}

func (s *Session) notifyReleased(released []*AudioAsset) {
	if s.callbacks.onAudioReleased == nil {
		return
	}
	for _, asset := range released {
		s.notify("audio released", func() { s.callbacks.onAudioReleased(asset) })
	}
}

func (s *Session) notifyReset() {
	if s.callbacks.onReset == nil {
		return
	}
	s.notify("reset", s.callbacks.onReset)
}
