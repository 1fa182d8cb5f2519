package events

import (
	"encoding/json"
	"strings"
)

const (
	// KindProcessingStatus identifies a server processing stage update.
	KindProcessingStatus Kind = "processing_status"
	// KindAudioStreamStart identifies the start of a streamed audio response.
	KindAudioStreamStart Kind = "audio_stream_start"
	// KindAudioChunk identifies one streamed audio chunk.
	KindAudioChunk Kind = "audio_chunk"
	// KindAudioStreamComplete identifies the end of a streamed audio response.
	KindAudioStreamComplete Kind = "audio_stream_complete"
)

// ProcessingStatus reports the server-side stage of the in-flight turn.
type ProcessingStatus struct {
	Base
	// Stage is the raw stage code, usually "stt", "llm" or "tts".
	Stage string `json:"stage"`
}

// DecodeProcessingStatus decodes a processing_status payload.
func DecodeProcessingStatus(data json.RawMessage) (ProcessingStatus, error) {
	var wire struct {
		Stage lenientString `json:"stage"`
	}
	err := decodePayload(KindProcessingStatus, data, &wire)
	return ProcessingStatus{
		Base:  NewBase(KindProcessingStatus),
		Stage: strings.TrimSpace(string(wire.Stage)),
	}, err
}

// AudioStreamStart marks the start of a streamed audio response. The
// metadata is implementation defined and kept as-is.
type AudioStreamStart struct {
	Base
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DecodeAudioStreamStart decodes an audio_stream_start payload.
func DecodeAudioStreamStart(data json.RawMessage) (AudioStreamStart, error) {
	var metadata map[string]any
	err := decodePayload(KindAudioStreamStart, data, &metadata)
	return AudioStreamStart{Base: NewBase(KindAudioStreamStart), Metadata: metadata}, err
}

// AudioChunk carries one chunk of the streamed audio response.
type AudioChunk struct {
	Base
	// ChunkData is the chunk as sent on the wire, normally base64.
	ChunkData string `json:"chunk_data"`
	// ChunkSize is the size reported by the server. It is informational.
	ChunkSize int `json:"chunk_size"`
}

// DecodeAudioChunk decodes an audio_chunk payload.
func DecodeAudioChunk(data json.RawMessage) (AudioChunk, error) {
	var wire struct {
		ChunkData lenientString `json:"chunk_data"`
		ChunkSize lenientFloat  `json:"chunk_size"`
	}
	err := decodePayload(KindAudioChunk, data, &wire)
	return AudioChunk{
		Base:      NewBase(KindAudioChunk),
		ChunkData: string(wire.ChunkData),
		ChunkSize: int(wire.ChunkSize),
	}, err
}

// AudioStreamComplete marks the end of a streamed audio response.
type AudioStreamComplete struct{ Base }

// NewAudioStreamComplete creates an audio stream complete event.
func NewAudioStreamComplete() AudioStreamComplete {
	return AudioStreamComplete{Base: NewBase(KindAudioStreamComplete)}
}
