package session

import (
	"context"
	"time"

	"github.com/koscakluka/ema-session/core/dedup"
)

type SessionOption func(*Session)

// WithDialer sets the transport used by [Session.Connect].
func WithDialer(dialer Dialer) SessionOption {
	return func(s *Session) { s.dialer = dialer }
}

// WithReconnectPolicy configures automatic reconnects after a lost transport.
// Reconnects are disabled by default.
func WithReconnectPolicy(policy ReconnectPolicy) SessionOption {
	return func(s *Session) { s.reconnect = policy }
}

// WithDedupCache bounds the fingerprint cache used to suppress duplicate turn
// deliveries. A size of zero keeps every fingerprint for the lifetime of the
// session, a ttl of zero never expires them.
func WithDedupCache(size int, ttl time.Duration) SessionOption {
	return func(s *Session) {
		s.dedupSize = size
		s.dedupTTL = ttl
	}
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBaseContext sets the context event handling spans derive from.
func WithBaseContext(ctx context.Context) SessionOption {
	return func(s *Session) {
		if ctx != nil {
			s.baseContext = ctx
		}
	}
}

func WithResponseFormat(format string) SessionOption {
	return func(s *Session) {
		if format != "" {
			s.defaultResponseFormat = format
		}
	}
}

type sessionCallbacks struct {
	onTranscript    func(delta []Message)
	onProcessing    func(state ProcessingState)
	onConnection    func(state ConnectionState)
	onAudioReleased func(asset *AudioAsset)
	onReset         func()
}

// WithTranscriptCallback registers a callback receiving every batch of
// messages appended to the transcript. A completed turn is delivered as a
// single batch.
//
// Callbacks of every kind run one at a time in the order of the changes they
// report, after the session released its locks. They may call any [Session]
// method; notifications caused by such a call are delivered after the
// callback returns.
func WithTranscriptCallback(callback func(delta []Message)) SessionOption {
	return func(s *Session) { s.callbacks.onTranscript = callback }
}

func WithProcessingCallback(callback func(state ProcessingState)) SessionOption {
	return func(s *Session) { s.callbacks.onProcessing = callback }
}

func WithConnectionCallback(callback func(state ConnectionState)) SessionOption {
	return func(s *Session) { s.callbacks.onConnection = callback }
}

// WithAudioReleasedCallback registers a callback for audio assets released
// because they were superseded or the session was reset. Renderers should
// stop any playback of the asset.
func WithAudioReleasedCallback(callback func(asset *AudioAsset)) SessionOption {
	return func(s *Session) { s.callbacks.onAudioReleased = callback }
}

// WithResetCallback registers a callback invoked after [Session.Reset]
// cleared the transcript.
func WithResetCallback(callback func()) SessionOption {
	return func(s *Session) { s.callbacks.onReset = callback }
}

func (s *Session) newDedupCache() *dedup.Cache {
	return dedup.New(s.dedupSize, s.dedupTTL)
}
