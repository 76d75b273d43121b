package mqtt

import (
	"fmt"
	"strings"
)

const (
	// DefaultDevicePrefix is the root of every per-device topic.
	DefaultDevicePrefix = "home/devices"

	// TopicPrefixSystem is the base for bridge lifecycle topics.
	TopicPrefixSystem = "homelink/system"

	commandSuffix = "set"
	statusSuffix  = "status"
)

// Topics builds device topics under a common prefix.
// The zero value uses DefaultDevicePrefix.
//
//	topics := mqtt.Topics{}
//	topics.DeviceCommand("lamp1") // "home/devices/lamp1/set"
//	topics.DeviceStatus("lamp1")  // "home/devices/lamp1/status"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultDevicePrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// DeviceCommand returns the topic a device listens on for commands.
func (t Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), deviceID, commandSuffix)
}

// DeviceStatus returns the topic a device publishes its status on.
func (t Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), deviceID, statusSuffix)
}

// AllDeviceStatus returns the single-level wildcard matching every
// device's status topic.
//
// Pattern: home/devices/+/status
func (t Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/+/%s", t.prefix(), statusSuffix)
}

// DeviceIDFromStatus extracts the device ID from a concrete status topic.
// It returns false for topics outside the prefix, with extra levels, or
// with an empty ID.
func (t Topics) DeviceIDFromStatus(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/"+statusSuffix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// SystemStatus returns the retained bridge status topic (online/offline and LWT).
//
// Example: homelink/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
