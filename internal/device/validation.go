package device

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validation limits.
const (
	MaxIDLength    = 128
	MaxNameLength  = 256
	MaxOwnerLength = 256
	MaxStateLength = 64
)

// ValidateID checks that id can be used verbatim as one MQTT topic level,
// which keeps the device-to-topic mapping one-to-one.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: id exceeds %d bytes", ErrInvalidDevice, MaxIDLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: id is not valid UTF-8", ErrInvalidDevice)
	}
	if strings.ContainsAny(id, "/+#") {
		return fmt.Errorf("%w: id must not contain '/', '+' or '#'", ErrInvalidDevice)
	}
	if strings.IndexFunc(id, isSpaceOrControl) >= 0 {
		return fmt.Errorf("%w: id must not contain whitespace or control characters", ErrInvalidDevice)
	}
	return nil
}

// ValidateName checks a display name. Empty names are allowed; the
// registry substitutes DefaultName.
func ValidateName(name string) error {
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, MaxNameLength)
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: name must not contain control characters", ErrInvalidDevice)
	}
	return nil
}

// ValidateOwner checks a principal identifier.
func ValidateOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidDevice)
	}
	if len(owner) > MaxOwnerLength {
		return fmt.Errorf("%w: owner exceeds %d bytes", ErrInvalidDevice, MaxOwnerLength)
	}
	return nil
}

// ValidateState checks a state token: 1 to MaxStateLength bytes of
// printable, non-space characters.
func ValidateState(s State) error {
	if s == "" {
		return fmt.Errorf("%w: state is required", ErrInvalidState)
	}
	if len(s) > MaxStateLength {
		return fmt.Errorf("%w: state exceeds %d bytes", ErrInvalidState, MaxStateLength)
	}
	if !utf8.ValidString(string(s)) {
		return fmt.Errorf("%w: state is not valid UTF-8", ErrInvalidState)
	}
	if strings.IndexFunc(string(s), isSpaceOrControl) >= 0 {
		return fmt.Errorf("%w: state must not contain whitespace or control characters", ErrInvalidState)
	}
	return nil
}

func isSpaceOrControl(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r)
}
