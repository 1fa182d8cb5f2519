package session

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-session/core/events"
)

const (
	MimeTypeMP3  = "audio/mp3"
	MimeTypeWebM = "audio/webm"
)

// MimeTypeForFormat maps the audio_format of a completed turn to the mime type
// of its audio asset.
func MimeTypeForFormat(format string) string {
	if format == events.AudioFormatMP3 {
		return MimeTypeMP3
	}
	return MimeTypeWebM
}

// AudioAsset is a decoded, playable in-memory representation of synthesized
// agent speech. Its bytes stay available until it is released.
type AudioAsset struct {
	ID       string
	MimeType string

	mu       sync.RWMutex
	data     []byte
	released bool
}

func newAudioAsset(data []byte, mimeType string) *AudioAsset {
	return &AudioAsset{ID: uuid.NewString(), MimeType: mimeType, data: data}
}

// DecodeAudioAsset decodes a base64 audio payload into an asset tagged with
// the mime type derived from format.
func DecodeAudioAsset(encoded, format string) (*AudioAsset, error) {
	data, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return newAudioAsset(data, MimeTypeForFormat(format)), nil
}

// decodeBase64 follows the forgiving base64 rules: whitespace is ignored and
// padding is optional.
func decodeBase64(encoded string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\f':
			return -1
		}
		return r
	}, encoded)
	cleaned = strings.TrimRight(cleaned, "=")
	return base64.RawStdEncoding.DecodeString(cleaned)
}

// Bytes returns the decoded audio, or nil once the asset was released.
func (a *AudioAsset) Bytes() []byte {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.data
}

func (a *AudioAsset) Len() int {
	return len(a.Bytes())
}

// Release drops the decoded audio. It reports whether this call released it.
func (a *AudioAsset) Release() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return false
	}
	a.released = true
	a.data = nil
	return true
}

func (a *AudioAsset) Released() bool {
	if a == nil {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.released
}

// audioAssets tracks the assets handed out by a session so they can be
// released when superseded or when the session resets.
type audioAssets struct {
	// current is the most recently attached asset, superseded by the next
	// audio stream.
	current *AudioAsset
	live    []*AudioAsset
}

func (a *audioAssets) track(asset *AudioAsset) {
	a.current = asset
	a.live = append(a.live, asset)
}

// releaseCurrent releases the superseded asset and returns it when this call
// released it.
func (a *audioAssets) releaseCurrent() []*AudioAsset {
	if a.current == nil {
		return nil
	}
	current := a.current
	a.current = nil
	a.live = slices.DeleteFunc(a.live, func(asset *AudioAsset) bool { return asset == current })
	if !current.Release() {
		return nil
	}
	return []*AudioAsset{current}
}

// releaseAll releases every tracked asset and returns those this call
// released.
func (a *audioAssets) releaseAll() []*AudioAsset {
	var released []*AudioAsset
	for _, asset := range a.live {
		if asset.Release() {
			released = append(released, asset)
		}
	}
	a.live = nil
	a.current = nil
	return released
}
