package device

import "time"

// State is a device state token such as "ON" or "OFF".
// Tokens are free-form; ValidateState defines what is accepted.
type State string

// Well-known states.
const (
	StateOn  State = "ON"
	StateOff State = "OFF"

	// StateUnknown is reported to watchers of IDs that are not registered.
	StateUnknown State = "UNKNOWN"
)

// InitialState is the state of a freshly registered device.
const InitialState = StateOff

// DefaultName is used when a device is registered without a name.
const DefaultName = "Unnamed Device"

// Source records which path produced a state change.
type Source string

// Change sources.
const (
	SourceRegister Source = "register"
	SourceCommand  Source = "command"
	SourceReport   Source = "report"
	SourceSnapshot Source = "snapshot"
)

// Device is a registered device.
type Device struct {
	ID      string `json:"device_id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner"`
	State   State  `json:"state"`

	// StateUpdatedAt is informational only; ordering comes from the
	// registry's per-device serialisation, not from this timestamp.
	StateUpdatedAt *time.Time `json:"state_updated_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Clone returns a copy that shares no memory with d.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	if d.StateUpdatedAt != nil {
		t := *d.StateUpdatedAt
		c.StateUpdatedAt = &t
	}
	return &c
}

// Change is a state notification delivered to watchers.
type Change struct {
	DeviceID string    `json:"device_id"`
	State    State     `json:"state"`
	Source   Source    `json:"source"`
	At       time.Time `json:"at"`
}

// Stats summarises registry contents for health output.
type Stats struct {
	Devices  int `json:"devices"`
	Watchers int `json:"watchers"`
}
