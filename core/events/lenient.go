package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// lenientString accepts strings, numbers and booleans. Anything else decodes
// to the empty string without failing the surrounding payload.
type lenientString string

func (s *lenientString) UnmarshalJSON(data []byte) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = lenientString(v)
	case float64:
		*s = lenientString(strconv.FormatFloat(v, 'f', -1, 64))
	case bool:
		*s = lenientString(strconv.FormatBool(v))
	default:
		*s = ""
	}
	return nil
}

// lenientFloat accepts numbers and numeric strings.
type lenientFloat float64

func (f *lenientFloat) UnmarshalJSON(data []byte) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		*f = 0
		return nil
	}

	switch v := value.(type) {
	case float64:
		*f = lenientFloat(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = lenientFloat(parsed)
	default:
		*f = 0
	}
	return nil
}

func isAbsent(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodePayload unmarshals data into wire. Absent payloads are not an error.
// On failure wire keeps whatever fields were decoded before the failure.
func decodePayload(kind Kind, data json.RawMessage, wire any) error {
	if isAbsent(data) {
		return nil
	}
	if err := json.Unmarshal(data, wire); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return nil
}
