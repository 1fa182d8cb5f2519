package events

import (
	"encoding/json"
	"strings"
)

const (
	// KindConnect identifies an established transport.
	KindConnect Kind = "connect"
	// KindDisconnect identifies a lost transport.
	KindDisconnect Kind = "disconnect"
	// KindError identifies a non-fatal transport failure.
	KindError Kind = "error"
)

// DefaultErrorMessage is shown when an error payload carries nothing usable.
const DefaultErrorMessage = "Connection error occurred"

// TransportError carries a transport failure display message.
type TransportError struct {
	Base
	Message string `json:"message,omitempty"`
}

// NewTransportError creates a transport error event.
func NewTransportError(message string) TransportError {
	return TransportError{Base: NewBase(KindError), Message: message}
}

// DecodeTransportError extracts a display message from an error payload.
//
// The payload may be an object with a string message, a bare JSON string, or
// anything else. Whatever the shape, the result has a non-empty message.
func DecodeTransportError(data json.RawMessage) TransportError {
	message := ""

	var asString string
	var asObject struct {
		Message lenientString `json:"message"`
	}
	switch {
	case isAbsent(data):
	case json.Unmarshal(data, &asString) == nil:
		message = asString
	case json.Unmarshal(data, &asObject) == nil:
		message = string(asObject.Message)
	}

	if message = strings.TrimSpace(message); message == "" {
		message = DefaultErrorMessage
	}
	return NewTransportError(message)
}

// ErrorPayload builds the raw payload of a synthetic error envelope.
func ErrorPayload(message string) json.RawMessage {
	payload, _ := json.Marshal(struct {
		Message string `json:"message"`
	}{Message: message})
	return payload
}
