package session

import (
	"fmt"
	"time"

	"github.com/koscakluka/ema-session/core/events"
)

// handoffCoordinator records handoff suggestions and confirmations in the
// transcript. It never touches the processing state.
type handoffCoordinator struct {
	transcript *transcript
	now        func() time.Time
}

func (h *handoffCoordinator) Suggest(suggestion events.HandoffSuggestion) []Message {
	message := newMessage(SenderAgent, suggestion.SuggestedResponse, h.now())
	message.Handoff = &HandoffMetadata{
		Reason:     suggestion.Reason,
		Category:   suggestion.Category,
		Urgency:    suggestion.Urgency,
		Confidence: suggestion.Confidence,
	}
	return h.transcript.append(message)
}

func (h *handoffCoordinator) Confirm(initiated events.HumanHandoffInitiated) []Message {
	message := newMessage(SenderAgent, handoffConfirmationText(initiated), h.now())
	message.HandoffConfirmation = true
	return h.transcript.append(message)
}

func handoffConfirmationText(initiated events.HumanHandoffInitiated) string {
	return fmt.Sprintf("✅ %s\n\n📋 Ticket ID: %s\n⏱️ Estimated wait time: %s",
		initiated.Message, initiated.TicketID, initiated.EstimatedWaitTime)
}
