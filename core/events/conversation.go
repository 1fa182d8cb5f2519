package events

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// KindConversationCompleted identifies the terminal event of a turn.
const KindConversationCompleted Kind = "conversation_completed"

// AudioFormatMP3 is the only audio format with a dedicated mime type. Every
// other format is treated as webm.
const AudioFormatMP3 = "mp3"

// ConversationCompleted carries a completed turn.
type ConversationCompleted struct {
	Base
	InputText       string `json:"input_text,omitempty"`
	TranscribedText string `json:"transcribed_text,omitempty"`
	ResponseText    string `json:"response_text"`
	// ProcessingTime is the total processing time. On the wire it is either a
	// bare number or an object with a total field.
	ProcessingTime float64 `json:"processing_time"`
	// AudioData is the whole synthesized response, base64 encoded.
	AudioData   string `json:"audio_data,omitempty"`
	AudioFormat string `json:"audio_format,omitempty"`
}

// UserText resolves the user-facing input of the turn: the transcription when
// there is one, the typed input otherwise.
func (c ConversationCompleted) UserText() string {
	if c.TranscribedText != "" {
		return c.TranscribedText
	}
	return c.InputText
}

// DecodeConversationCompleted decodes a conversation_completed payload.
func DecodeConversationCompleted(data json.RawMessage) (ConversationCompleted, error) {
	var wire struct {
		InputText       lenientString  `json:"input_text"`
		TranscribedText lenientString  `json:"transcribed_text"`
		ResponseText    lenientString  `json:"response_text"`
		ProcessingTime  processingTime `json:"processing_time"`
		AudioData       lenientString  `json:"audio_data"`
		AudioFormat     lenientString  `json:"audio_format"`
	}
	err := decodePayload(KindConversationCompleted, data, &wire)
	return ConversationCompleted{
		Base:            NewBase(KindConversationCompleted),
		InputText:       string(wire.InputText),
		TranscribedText: string(wire.TranscribedText),
		ResponseText:    string(wire.ResponseText),
		ProcessingTime:  float64(wire.ProcessingTime),
		AudioData:       string(wire.AudioData),
		AudioFormat:     strings.TrimSpace(string(wire.AudioFormat)),
	}, err
}

type processingTime float64

func (p *processingTime) UnmarshalJSON(data []byte) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		*p = 0
		return nil
	}

	total := 0.0
	switch v := value.(type) {
	case float64:
		total = v
	case string:
		total, _ = strconv.ParseFloat(strings.TrimSpace(v), 64)
	case map[string]any:
		if t, ok := v["total"].(float64); ok {
			total = t
		}
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		total = 0
	}
	*p = processingTime(total)
	return nil
}
