package session

import (
	"bytes"

	"github.com/koscakluka/ema-session/core/events"
)

type AudioStreamState string

const (
	AudioStreamIdle      AudioStreamState = "idle"
	AudioStreamStreaming AudioStreamState = "streaming"
	AudioStreamComplete  AudioStreamState = "complete"
)

// AudioStreamSnapshot describes the in-flight audio stream.
type AudioStreamSnapshot struct {
	State      AudioStreamState
	ChunkCount int
	ByteCount  int
	Metadata   map[string]any
}

// audioAssembler accumulates the chunks of the single in-flight audio stream.
//
// The assembled chunks are informational only. The playable audio of a turn
// arrives whole inside conversation_completed and is decoded by the
// reconciler, so the chunks are never turned into an asset.
type audioAssembler struct {
	state    AudioStreamState
	chunks   [][]byte
	metadata map[string]any
}

func newAudioAssembler() audioAssembler {
	return audioAssembler{state: AudioStreamIdle}
}

func (a *audioAssembler) Start(start events.AudioStreamStart) {
	a.state = AudioStreamStreaming
	a.chunks = nil
	a.metadata = start.Metadata
}

// Append stores a chunk in arrival order. Chunks are decoded from base64 when
// possible and kept verbatim otherwise.
func (a *audioAssembler) Append(chunk events.AudioChunk) []byte {
	data, err := decodeBase64(chunk.ChunkData)
	if err != nil {
		data = []byte(chunk.ChunkData)
	}
	if chunk.ChunkSize > 0 && chunk.ChunkSize != len(data) {
		logger.Debug("audio chunk size mismatch", "reported", chunk.ChunkSize, "actual", len(data))
	}
	a.chunks = append(a.chunks, data)
	return data
}

func (a *audioAssembler) Complete() {
	a.state = AudioStreamComplete
}

func (a *audioAssembler) Reset() {
	*a = newAudioAssembler()
}

func (a *audioAssembler) Chunks() [][]byte {
	return a.chunks
}

// Bytes concatenates the chunks received so far.
func (a *audioAssembler) Bytes() []byte {
	return bytes.Join(a.chunks, nil)
}

func (a *audioAssembler) Snapshot() AudioStreamSnapshot {
	byteCount := 0
	for _, chunk := range a.chunks {
		byteCount += len(chunk)
	}
	return AudioStreamSnapshot{
		State:      a.state,
		ChunkCount: len(a.chunks),
		ByteCount:  byteCount,
		Metadata:   a.metadata,
	}
}
