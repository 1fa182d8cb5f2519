package events

import "encoding/json"

const (
	// KindHandoffSuggestion identifies a suggestion to hand off to a human.
	KindHandoffSuggestion Kind = "handoff_suggestion"
	// KindHumanHandoffInitiated identifies a created handoff ticket.
	KindHumanHandoffInitiated Kind = "human_handoff_initiated"
)

// HandoffSuggestion carries the agent's suggestion to involve a human operator.
type HandoffSuggestion struct {
	Base
	SuggestedResponse string  `json:"suggested_response"`
	Reason            string  `json:"reason"`
	Category          string  `json:"category"`
	Urgency           string  `json:"urgency"`
	Confidence        float64 `json:"confidence"`
}

// DecodeHandoffSuggestion decodes a handoff_suggestion payload.
func DecodeHandoffSuggestion(data json.RawMessage) (HandoffSuggestion, error) {
	var wire struct {
		SuggestedResponse lenientString `json:"suggested_response"`
		Reason            lenientString `json:"reason"`
		Category          lenientString `json:"category"`
		Urgency           lenientString `json:"urgency"`
		Confidence        lenientFloat  `json:"confidence"`
	}
	err := decodePayload(KindHandoffSuggestion, data, &wire)
	return HandoffSuggestion{
		Base:              NewBase(KindHandoffSuggestion),
		SuggestedResponse: string(wire.SuggestedResponse),
		Reason:            string(wire.Reason),
		Category:          string(wire.Category),
		Urgency:           string(wire.Urgency),
		Confidence:        float64(wire.Confidence),
	}, err
}

// HumanHandoffInitiated confirms that a human operator ticket was created.
type HumanHandoffInitiated struct {
	Base
	Message           string `json:"message"`
	TicketID          string `json:"ticket_id"`
	EstimatedWaitTime string `json:"estimated_wait_time"`
}

// DecodeHumanHandoffInitiated decodes a human_handoff_initiated payload.
func DecodeHumanHandoffInitiated(data json.RawMessage) (HumanHandoffInitiated, error) {
	var wire struct {
		Message           lenientString `json:"message"`
		TicketID          lenientString `json:"ticket_id"`
		EstimatedWaitTime lenientString `json:"estimated_wait_time"`
	}
	err := decodePayload(KindHumanHandoffInitiated, data, &wire)
	return HumanHandoffInitiated{
		Base:              NewBase(KindHumanHandoffInitiated),
		Message:           string(wire.Message),
		TicketID:          string(wire.TicketID),
		EstimatedWaitTime: string(wire.EstimatedWaitTime),
	}, err
}
