package events

import (
	"encoding/json"
	"fmt"
)

const (
	// KindTextInput identifies typed user input sent to the server.
	KindTextInput Kind = "text_input"
	// KindAudioStream identifies recorded user audio sent to the server.
	KindAudioStream Kind = "audio_stream"
	// KindRequestHumanAssistance identifies an accepted handoff request.
	KindRequestHumanAssistance Kind = "request_human_assistance"
)

// Response formats the server understands.
const (
	ResponseFormatText  = "text"
	ResponseFormatAudio = "audio"
	ResponseFormatBoth  = "both"
)

// TextInput is the payload of a text_input event.
type TextInput struct {
	Text           string `json:"text"`
	ResponseFormat string `json:"response_format"`
}

// AudioStream is the payload of an audio_stream event.
type AudioStream struct {
	// AudioData is the recorded audio, base64 encoded.
	AudioData      string `json:"audio_data"`
	AudioFormat    string `json:"audio_format,omitempty"`
	ResponseFormat string `json:"response_format"`
}

// RequestHumanAssistance is the payload of a request_human_assistance event.
type RequestHumanAssistance struct {
	Reason   string `json:"reason"`
	Category string `json:"category"`
	Urgency  string `json:"urgency"`
}

// MarshalEnvelope encodes a named event and its payload as a single frame.
func MarshalEnvelope(name Kind, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", name, err)
		}
	}

	frame, err := json.Marshal(Envelope{Name: name, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", name, err)
	}
	return frame, nil
}

// ParseEnvelope decodes a single frame into an envelope.
func ParseEnvelope(frame []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if envelope.Name == "" {
		return Envelope{}, fmt.Errorf("failed to decode envelope: missing event name")
	}
	return NewEnvelope(envelope.Name, envelope.Data), nil
}
