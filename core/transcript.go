package session

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Message is a single transcript entry. Once appended it is never modified.
type Message struct {
	ID        string
	Sender    Sender
	Text      string
	Timestamp time.Time

	// Audio is the decoded agent speech for this message, if any. The asset is
	// a shared handle and may have been released since.
	Audio          *AudioAsset
	ShouldAutoPlay bool

	// Handoff is set on agent messages suggesting a human handoff.
	Handoff *HandoffMetadata
	// HandoffConfirmation marks the agent message confirming a created
	// handoff ticket.
	HandoffConfirmation bool
}

type HandoffMetadata struct {
	Reason     string
	Category   string
	Urgency    string
	Confidence float64
}

func newMessage(sender Sender, text string, timestamp time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		Timestamp: timestamp,
	}
}

// transcript is the append-only message log of a session.
type transcript struct {
	mu       sync.RWMutex
	messages []Message
}

// append adds the batch atomically: readers observe either none or all of it.
func (t *transcript) append(batch ...Message) []Message {
	if len(batch) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, batch...)
	return copyMessages(batch)
}

func (t *transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Snapshot returns a copy of the transcript that callers may freely modify.
// Audio assets are shared handles and are not copied.
func (t *transcript) Snapshot() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyMessages(t.messages)
}

func (t *transcript) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}

var snapshotConverters = []copier.TypeConverter{
	{
		SrcType: &AudioAsset{},
		DstType: &AudioAsset{},
		Fn:      func(src any) (any, error) { return src, nil },
	},
	{
		SrcType: time.Time{},
		DstType: time.Time{},
		Fn:      func(src any) (any, error) { return src, nil },
	},
}

func copyMessages(messages []Message) []Message {
	copied := make([]Message, 0, len(messages))
	if err := copier.CopyWithOption(&copied, messages, copier.Option{
		DeepCopy:   true,
		Converters: snapshotConverters,
	}); err != nil {
		// Fall back to a shallow copy, metadata pointers are then shared.
		logger.Warn("failed to deep copy transcript", "error", err)
		return slices.Clone(messages)
	}
	return copied
}
