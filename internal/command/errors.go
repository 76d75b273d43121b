package command

import "errors"

// ErrForbidden is returned when the requester does not own the device.
var ErrForbidden = errors.New("command: not your device")
