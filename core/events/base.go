package events

import (
	"encoding/json"
	"time"
)

type Kind string

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

// Envelope is a single named event as delivered by the transport. Data is the
// raw payload and may be empty, null or of an unexpected shape.
type Envelope struct {
	Name Kind            `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// NewEnvelope creates an envelope stamped with the current time.
func NewEnvelope(name Kind, data json.RawMessage) Envelope {
	return Envelope{Name: name, Data: data, ReceivedAt: time.Now()}
}
