package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/koscakluka/ema-session/core/events"
)

var ignoreVolatile = cmpopts.IgnoreFields(Message{}, "ID", "Timestamp", "Audio")

func rawJSON(t *testing.T, value any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return data
}

func completed(t *testing.T, fields map[string]any) json.RawMessage {
	return rawJSON(t, fields)
}

type deltaRecorder struct {
	deltas [][]Message
}

func (r *deltaRecorder) record(delta []Message) {
	r.deltas = append(r.deltas, delta)
}

func TestConversationCompletedAppendsTurnAndSuppressesRepeat(t *testing.T) {
	recorder := &deltaRecorder{}
	s := NewSession(WithTranscriptCallback(recorder.record))
	defer s.Close()

	s.Handle(events.KindProcessingStatus, rawJSON(t, map[string]any{"stage": "llm"}))
	payload := completed(t, map[string]any{
		"transcribed_text": "hello",
		"response_text":    "Hi there!",
		"processing_time":  1.2,
	})

	if !s.Handle(events.KindConversationCompleted, payload) {
		t.Fatalf("expected conversation_completed to be handled")
	}

	want := []Message{
		{Sender: SenderUser, Text: "hello"},
		{Sender: SenderAgent, Text: "Hi there!"},
	}
	if diff := cmp.Diff(want, s.Transcript(), ignoreVolatile); diff != "" {
		t.Fatalf("unexpected transcript (-want +got):\n%s", diff)
	}
	if got := s.Processing(); got != (ProcessingState{}) {
		t.Fatalf("expected processing state to be cleared, got %+v", got)
	}

	s.Handle(events.KindProcessingStatus, rawJSON(t, map[string]any{"stage": "tts"}))
	s.Handle(events.KindConversationCompleted, payload)

	if len(recorder.deltas) != 1 {
		t.Fatalf("expected a single transcript delta, got %d", len(recorder.deltas))
	}
	if got := len(s.Transcript()); got != 2 {
		t.Fatalf("expected duplicate to leave transcript at 2 messages, got %d", got)
	}
	if got := s.Processing().Stage; got != StageTextToSpeech {
		t.Fatalf("expected duplicate to leave processing untouched, got %q", got)
	}
}

func TestConversationCompletedPairsAtomically(t *testing.T) {
	recorder := &deltaRecorder{}
	s := NewSession(WithTranscriptCallback(recorder.record))
	defer s.Close()

	s.Handle(events.KindConversationCompleted, completed(t, map[string]any{
		"input_text":      "typed",
		"response_text":   "first",
		"processing_time": map[string]any{"total": 2.9},
	}))
	s.Handle(events.KindConversationCompleted, completed(t, map[string]any{
		"response_text":   "no user text",
		"processing_time": 3,
	}))

	want := [][]Message{
		{{Sender: SenderUser, Text: "typed"}, {Sender: SenderAgent, Text: "first"}},
		{{Sender: SenderAgent, Text: "no user text"}},
	}
	if diff := cmp.Diff(want, recorder.deltas, ignoreVolatile); diff != "" {
		t.Fatalf("unexpected deltas (-want +got):\n%s", diff)
	}
}

func TestTranscriptionTakesPrecedenceOverInput(t *testing.T) {
	s := NewSession()
	defer s.Close()

	s.Handle(events.KindConversationCompleted, completed(t, map[string]any{
		"input_text":       "typed",
		"transcribed_text": "spoken",
		"response_text":    "ok",
	}))

	transcript := s.Transcript()
	if len(transcript) != 2 || transcript[0].Text != "spoken" {
		t.Fatalf("expected transcribed text as user message, got %+v", transcript)
	}
}

func TestConversationAudioRoundTrip(t *testing.T) {
	audio := []byte{0x49, 0x44, 0x33, 0x04, 0x00, 0xff, 0x10}

	testCases := []struct {
		name     string
		format   string
		mimeType string
	}{
		{name: "mp3", format: "mp3", mimeType: MimeTypeMP3},
		{name: "webm", format: "webm", mimeType: MimeTypeWebM},
		{name: "missing format", format: "", mimeType: MimeTypeWebM},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSession()
			defer s.Close()

			s.Handle(events.KindConversationCompleted, completed(t, map[string]any{
				"response_text": "spoken reply " + tc.name,
				"audio_data":    base64.StdEncoding.EncodeToString(audio),
				"audio_format":  tc.format,
			}))

			transcript := s.Transcript()
			if len(transcript) != 1 {
				t.Fatalf("expected one agent message, got %d", len(transcript))
			}
			agent := transcript[0]
			if agent.Audio == nil {
				t.Fatalf("expected agent message to carry audio")
			}
			if !agent.ShouldAutoPlay {
				t.Fatalf("expected agent audio to auto play")
			}
			if agent.Audio.MimeType != tc.mimeType {
				t.Fatalf("expected mime type %q, got %q", tc.mimeType, agent.Audio.MimeType)
			}
			if diff := cmp.Diff(audio, agent.Audio.Bytes()); diff != "" {
				t.Fatalf("unexpected audio bytes (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConversationAudioDecodeFailureKeepsText(t *testing.T) {
	s := NewSession()
	defer s.Close()

	s.Handle(events.KindConversationCompleted, completed(t, map[string]any{
		"transcribed_text": "hi",
		"response_text":    "reply",
		"audio_data":       "%%% not base64 %%%",
		"audio_format":     "mp3",
	}))

	transcript := s.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("expected user and agent messages, got %d", len(transcript))
	}
	if transcript[1].Audio != nil || transcript[1].ShouldAutoPlay {
		t.Fatalf("expected agent message without audio, got %+v", transcript[1])
	}
	if got := s.Processing(); got.IsProcessing {
		t.Fatalf("expected processing to be cleared, got %+v", got)
	}
}

func TestConversationCompletedToleratesMalformedPayloads(t *testing.T) {
	testCases := []struct {
		name    string
		payload json.RawMessage
		want    []Message
	}{
		{
			name:    "missing payload",
			payload: nil,
			want:    []Message{{Sender: SenderAgent}},
		},
		{
			name:    "wrong field types",
			payload: json.RawMessage(`{"transcribed_text":["x"],"response_text":7,"processing_time":"abc"}`),
			want:    []Message{{Sender: SenderAgent, Text: "7"}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSession()
			defer s.Close()

			s.Handle(events.KindConversationCompleted, tc.payload)
			if diff := cmp.Diff(tc.want, s.Transcript(), ignoreVolatile); diff != "" {
				t.Fatalf("unexpected transcript (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProcessingStatusStages(t *testing.T) {
	testCases := []struct {
		stage  any
		want   Stage
		status string
	}{
		{stage: "stt", want: StageSpeechToText, status: "Converting your speech to text..."},
		{stage: "llm", want: StageLanguageGeneration, status: "Generating response..."},
		{stage: "tts", want: StageTextToSpeech, status: "Synthesizing audio response..."},
		{stage: "vision", want: StageGeneric, status: "Processing..."},
		{stage: "", want: StageGeneric, status: "Processing..."},
		{stage: 42, want: StageGeneric, status: "Processing..."},
	}

	for _, tc := range testCases {
		s := NewSession()
		s.Handle(events.KindProcessingStatus, rawJSON(t, map[string]any{"stage": tc.stage}))

		want := ProcessingState{IsProcessing: true, Stage: tc.want, Status: tc.status}
		if got := s.Processing(); got != want {
			t.Fatalf("stage %v: expected %+v, got %+v", tc.stage, want, got)
		}
		s.Close()
	}
}

func TestProcessingStatusFollowsStageChanges(t *testing.T) {
	s := NewSession()
	defer s.Close()

	steps := []struct {
		stage  string
		want   Stage
		status string
	}{
		{stage: "stt", want: StageSpeechToText, status: "Converting your speech to text..."},
		{stage: "llm", want: StageLanguageGeneration, status: "Generating response..."},
		{stage: "tts", want: StageTextToSpeech, status: "Synthesizing audio response..."},
		{stage: "rerank", want: StageGeneric, status: "Processing..."},
		{stage: "stt", want: StageSpeechToText, status: "Converting your speech to text..."},
	}
	for _, step := range steps {
		s.Handle(events.KindProcessingStatus, rawJSON(t, map[string]any{"stage": step.stage}))

		want := ProcessingState{IsProcessing: true, Stage: step.want, Status: step.status}
		if got := s.Processing(); got != want {
			t.Fatalf("after stage %q: expected %+v, got %+v", step.stage, want, got)
		}
	}
}

func TestAudioStreamLifecycle(t *testing.T) {
	var released []*AudioAsset
	s := NewSession(WithAudioReleasedCallback(func(asset *AudioAsset) {
		released = append(released, asset)
	}))
	defer s.Close()

	s.Handle(events.KindConversationCompleted, completed(t, map[string]any{
		"response_text": "with audio",
		"audio_data":    base64.StdEncoding.EncodeToString([]byte("first")),
	}))
	first := s.Transcript()[0].Audio

	s.Handle(events.KindAudioStreamStart, rawJSON(t, map[string]any{"sample_rate": 24000}))
	if got := s.Processing().Status; got != statusReceivingAudio {
		t.Fatalf("expected status %q, got %q", statusReceivingAudio, got)
	}
	if len(released) != 1 || released[0] != first || !first.Released() {
		t.Fatalf("expected superseded asset to be released")
	}
	if first.Bytes() != nil {
		t.Fatalf("expected released asset to drop its bytes")
	}

	s.Handle(events.KindAudioChunk, rawJSON(t, map[string]any{
		"chunk_data": base64.StdEncoding.EncodeToString([]byte("ab")),
		"chunk_size": 2,
	}))
	s.Handle(events.KindAudioChunk, rawJSON(t, map[string]any{"chunk_data": "not base64!", "chunk_size": 11}))

	snapshot := s.Snapshot().AudioStream
	if snapshot.State != AudioStreamStreaming || snapshot.ChunkCount != 2 || snapshot.ByteCount != 13 {
		t.Fatalf("unexpected audio stream snapshot %+v", snapshot)
	}
	if snapshot.Metadata["sample_rate"] != float64(24000) {
		t.Fatalf("expected metadata to be kept, got %v", snapshot.Metadata)
	}

	s.Handle(events.KindAudioStreamComplete, nil)
	if got := s.Snapshot().AudioStream.State; got != AudioStreamComplete {
		t.Fatalf("expected complete stream, got %q", got)
	}
	if got := s.Processing().Status; got != statusProcessingReply {
		t.Fatalf("expected status %q, got %q", statusProcessingReply, got)
	}

	s.Handle(events.KindAudioStreamStart, nil)
	if got := s.Snapshot().AudioStream; got.ChunkCount != 0 || got.State != AudioStreamStreaming {
		t.Fatalf("expected new stream to start empty, got %+v", got)
	}
	if len(released) != 1 {
		t.Fatalf("expected already released asset not to be reported again")
	}
}

func TestReconnectDoesNotDuplicateHandlers(t *testing.T) {
	recorder := &deltaRecorder{}
	s := NewSession(WithTranscriptCallback(recorder.record))
	defer s.Close()

	s.Handle(events.KindConnect, nil)
	s.Handle(events.KindConnect, nil)

	if got := len(s.RegisteredEvents()); got != len(handledEvents) {
		t.Fatalf("expected %d handlers, got %d", len(handledEvents), got)
	}

	s.Handle(events.KindConversationCompleted, completed(t, map[string]any{
		"transcribed_text": "once",
		"response_text":    "only once",
	}))

	if len(recorder.deltas) != 1 {
		t.Fatalf("expected one transcript mutation, got %d", len(recorder.deltas))
	}
	if got := len(s.Transcript()); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}
}

func TestDisconnectUnregistersHandlers(t *testing.T) {
	s := NewSession()
	defer s.Close()

	if err := s.Disconnect(); err != nil {
		t.Fatalf("unexpected disconnect error: %v", err)
	}
	if got := s.RegisteredEvents(); len(got) != 0 {
		t.Fatalf("expected no handlers after disconnect, got %v", got)
	}
	if s.Handle(events.KindConversationCompleted, completed(t, map[string]any{"response_text": "late"})) {
		t.Fatalf("expected late event to go unhandled")
	}

	if !s.Handle(events.KindConnect, nil) {
		t.Fatalf("expected connect to rebind handlers")
	}
	if got := len(s.RegisteredEvents()); got != len(handledEvents) {
		t.Fatalf("expected %d handlers after connect, got %d", len(handledEvents), got)
	}
	if got := len(s.Transcript()); got != 0 {
		t.Fatalf("expected late event to leave transcript empty, got %d messages", got)
	}
}

func TestHandoffEventsLeaveProcessingUntouched(t *testing.T) {
	s := NewSession()
	defer s.Close()

	s.Handle(events.KindProcessingStatus, rawJSON(t, map[string]any{"stage": "stt"}))
	s.Handle(events.KindHandoffSuggestion, rawJSON(t, map[string]any{
		"suggested_response": "Would you like to talk to a person?",
		"reason":             "billing dispute",
		"category":           "billing",
		"urgency":            "high",
		"confidence":         0.87,
	}))
	s.Handle(events.KindHumanHandoffInitiated, rawJSON(t, map[string]any{
		"message":             "An agent will join shortly",
		"ticket_id":           "T-1042",
		"estimated_wait_time": "5 minutes",
	}))

	want := []Message{
		{
			Sender: SenderAgent,
			Text:   "Would you like to talk to a person?",
			Handoff: &HandoffMetadata{
				Reason:     "billing dispute",
				Category:   "billing",
				Urgency:    "high",
				Confidence: 0.87,
			},
		},
		{
			Sender:              SenderAgent,
			Text:                "✅ An agent will join shortly\n\n📋 Ticket ID: T-1042\n⏱️ Estimated wait time: 5 minutes",
			HandoffConfirmation: true,
		},
	}
	if diff := cmp.Diff(want, s.Transcript(), ignoreVolatile); diff != "" {
		t.Fatalf("unexpected transcript (-want +got):\n%s", diff)
	}
	if got := s.Processing().Stage; got != StageSpeechToText {
		t.Fatalf("expected processing stage to stay %q, got %q", StageSpeechToText, got)
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	s := NewSession()
	defer s.Close()

	s.Handle(events.KindHandoffSuggestion, rawJSON(t, map[string]any{
		"suggested_response": "original",
		"reason":             "reason",
	}))

	snapshot := s.Snapshot()
	snapshot.Transcript[0].Text = "changed"
	snapshot.Transcript[0].Handoff.Reason = "changed"
	snapshot.Transcript = append(snapshot.Transcript, Message{Text: "extra"})

	transcript := s.Transcript()
	if len(transcript) != 1 {
		t.Fatalf("expected transcript to keep 1 message, got %d", len(transcript))
	}
	if transcript[0].Text != "original" || transcript[0].Handoff.Reason != "reason" {
		t.Fatalf("expected transcript to be unaffected by snapshot changes, got %+v", transcript[0])
	}
}

func TestSnapshotSharesAudioHandles(t *testing.T) {
	s := NewSession()
	defer s.Close()

	s.Handle(events.KindConversationCompleted, completed(t, map[string]any{
		"response_text": "with audio",
		"audio_data":    base64.StdEncoding.EncodeToString([]byte("pcm")),
	}))

	first, second := s.Transcript(), s.Transcript()
	if first[0].Audio == nil || first[0].Audio != second[0].Audio {
		t.Fatalf("expected snapshots to share the audio asset handle")
	}
	if !first[0].Timestamp.Equal(second[0].Timestamp) || first[0].Timestamp.IsZero() {
		t.Fatalf("expected snapshots to keep the message timestamp")
	}
}

func TestResetClearsConversation(t *testing.T) {
	var released []*AudioAsset
	resets := 0
	s := NewSession(
		WithAudioReleasedCallback(func(asset *AudioAsset) { released = append(released, asset) }),
		WithResetCallback(func() { resets++ }),
	)
	defer s.Close()

	payload := completed(t, map[string]any{
		"transcribed_text": "hello",
		"response_text":    "hi",
		"audio_data":       base64.StdEncoding.EncodeToString([]byte("voice")),
	})
	s.Handle(events.KindConversationCompleted, payload)
	s.Handle(events.KindProcessingStatus, rawJSON(t, map[string]any{"stage": "llm"}))
	s.Handle(events.KindAudioStreamStart, nil)
	s.SetInputMode(InputModeVoice)
	s.SetResponseFormat(events.ResponseFormatBoth)

	s.Reset()

	snapshot := s.Snapshot()
	if len(snapshot.Transcript) != 0 {
		t.Fatalf("expected empty transcript, got %d messages", len(snapshot.Transcript))
	}
	if snapshot.Processing != (ProcessingState{}) {
		t.Fatalf("expected cleared processing state, got %+v", snapshot.Processing)
	}
	if snapshot.AudioStream.State != AudioStreamIdle {
		t.Fatalf("expected idle audio stream, got %q", snapshot.AudioStream.State)
	}
	if snapshot.InputMode != InputModeText || snapshot.ResponseFormat != events.ResponseFormatText {
		t.Fatalf("expected default modes, got %q/%q", snapshot.InputMode, snapshot.ResponseFormat)
	}
	if resets != 1 {
		t.Fatalf("expected one reset notification, got %d", resets)
	}
	if len(released) != 1 {
		t.Fatalf("expected the turn audio to be released once, got %d", len(released))
	}

	s.Handle(events.KindConversationCompleted, payload)
	if got := len(s.Transcript()); got != 2 {
		t.Fatalf("expected turn to be accepted again after reset, got %d messages", got)
	}
}

func TestCallbacksMayCallBackIntoSession(t *testing.T) {
	resets := 0
	var s *Session
	s = NewSession(
		WithTranscriptCallback(func(delta []Message) {
			if delta[len(delta)-1].HandoffConfirmation {
				s.Reset()
				if err := s.StartConversation("text"); err != nil {
					t.Errorf("unexpected start error: %v", err)
				}
			}
		}),
		WithResetCallback(func() { resets++ }),
	)
	defer s.Close()

	s.Handle(events.KindConversationCompleted, completed(t, map[string]any{
		"transcribed_text": "I need a person",
		"response_text":    "Connecting you",
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Handle(events.KindHumanHandoffInitiated, rawJSON(t, map[string]any{"message": "An agent will join shortly"}))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the handoff to be handled")
	}

	if resets != 1 {
		t.Fatalf("expected one reset notification, got %d", resets)
	}
	transcript := s.Transcript()
	if len(transcript) != 1 || transcript[0].Sender != SenderAgent || !strings.HasPrefix(transcript[0].Text, "Great! Let's chat using text.") {
		t.Fatalf("expected only the greeting after the reset, got %+v", transcript)
	}
}

func TestStartConversationGreetsOnce(t *testing.T) {
	s := NewSession()
	defer s.Close()

	if err := s.StartConversation("voice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	transcript := s.Transcript()
	if len(transcript) != 1 || transcript[0].Sender != SenderAgent {
		t.Fatalf("expected a single agent greeting, got %+v", transcript)
	}
	if want := "Great! Let's chat using voice. How can I help you today?"; transcript[0].Text != want {
		t.Fatalf("expected greeting %q, got %q", want, transcript[0].Text)
	}
	if got := s.InputMode(); got != InputModeVoice {
		t.Fatalf("expected voice input mode, got %q", got)
	}

	if err := s.StartConversation("text"); !errors.Is(err, ErrConversationStarted) {
		t.Fatalf("expected ErrConversationStarted, got %v", err)
	}
}

func TestTransportErrorsAreSurfaced(t *testing.T) {
	var states []ConnectionState
	s := NewSession(WithConnectionCallback(func(state ConnectionState) {
		states = append(states, state)
	}))
	defer s.Close()

	s.Handle(events.KindError, json.RawMessage(`{"code":500}`))
	want := ConnectionState{Status: ConnectionErrored, Error: events.DefaultErrorMessage}
	if got := s.Connection(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	s.Handle(events.KindConnect, nil)
	if got := s.Connection(); got != (ConnectionState{Status: ConnectionConnected}) {
		t.Fatalf("expected connect to clear the error, got %+v", got)
	}

	s.Handle(events.KindError, json.RawMessage(`"server overloaded"`))
	want = ConnectionState{Status: ConnectionConnected, Error: "server overloaded"}
	if got := s.Connection(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if got := len(s.Transcript()); got != 0 {
		t.Fatalf("expected errors not to touch the transcript, got %d messages", got)
	}

	s.DismissError()
	if got := s.Connection(); got != (ConnectionState{Status: ConnectionConnected}) {
		t.Fatalf("expected dismissed error, got %+v", got)
	}
	if len(states) != 4 {
		t.Fatalf("expected 4 connection notifications, got %d", len(states))
	}
}

func TestSendWithoutTransportFails(t *testing.T) {
	s := NewSession()
	defer s.Close()

	if err := s.SendTextInput(t.Context(), "hello", ""); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := s.SendAudioStream(t.Context(), []byte("pcm"), "webm", ""); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := s.SendTextInput(t.Context(), "   ", ""); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if got := s.Processing(); got != (ProcessingState{}) {
		t.Fatalf("expected processing state untouched, got %+v", got)
	}
}

func TestCallbackPanicDoesNotStopHandling(t *testing.T) {
	s := NewSession(WithTranscriptCallback(func([]Message) { panic("renderer bug") }))
	defer s.Close()

	s.Handle(events.KindConversationCompleted, completed(t, map[string]any{"response_text": "first"}))
	s.Handle(events.KindConversationCompleted, completed(t, map[string]any{"response_text": "second"}))

	if got := len(s.Transcript()); got != 2 {
		t.Fatalf("expected both turns to be appended, got %d", got)
	}
}

func TestFingerprintUsesFirstFiftyCharacters(t *testing.T) {
	s := NewSession()
	defer s.Close()

	prefix := strings.Repeat("é", 50)
	s.Handle(events.KindConversationCompleted, completed(t, map[string]any{
		"input_text":      "q",
		"response_text":   prefix + " tail one",
		"processing_time": 1.1,
	}))
	s.Handle(events.KindConversationCompleted, completed(t, map[string]any{
		"input_text":      "q",
		"response_text":   prefix + " tail two",
		"processing_time": 1.9,
	}))

	if got := len(s.Transcript()); got != 2 {
		t.Fatalf("expected the second turn to be treated as duplicate, got %d messages", got)
	}
}

func TestClockOptionStampsMessages(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSession(WithClock(func() time.Time { return fixed }))
	defer s.Close()

	s.Handle(events.KindConversationCompleted, completed(t, map[string]any{"response_text": "hi"}))
	if got := s.Transcript()[0].Timestamp; !got.Equal(fixed) {
		t.Fatalf("expected timestamp %v, got %v", fixed, got)
	}
}
