package device

import "errors"

// Errors returned by the registry and its stores. Check them with errors.Is:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // 404
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering an ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when an ID, name or owner fails validation.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidState is returned when a state token fails validation.
	ErrInvalidState = errors.New("device: invalid state")
)
