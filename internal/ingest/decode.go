package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/homelink-core/internal/device"
)

// statusObject is the JSON object form of a status report.
type statusObject struct {
	State *string `json:"state"`
}

// DecodeState extracts a state token from a status payload. Errors wrap
// ErrDecode.
func DecodeState(payload []byte) (device.State, error) {
	p := bytes.TrimSpace(payload)
	if len(p) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrDecode)
	}

	var token string
	switch p[0] {
	case '{':
		var obj statusObject
		if err := json.Unmarshal(p, &obj); err != nil {
			return "", fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if obj.State == nil {
			return "", fmt.Errorf("%w: missing state field", ErrDecode)
		}
		token = *obj.State
	case '"':
		if err := json.Unmarshal(p, &token); err != nil {
			return "", fmt.Errorf("%w: %w", ErrDecode, err)
		}
	default:
		token = string(p)
	}

	state := device.State(token)
	if err := device.ValidateState(state); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return state, nil
}
