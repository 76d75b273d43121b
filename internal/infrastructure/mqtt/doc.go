// Package mqtt is the broker collaborator for HomeLink Core.
//
// It wraps eclipse/paho.mqtt.golang and provides:
//   - Connection with auto-reconnect and configurable backoff
//   - Publishing with QoS and payload size checks
//   - Wildcard subscriptions that are replayed after reconnect
//   - OnConnect/OnDisconnect lifecycle callbacks
//   - A retained Last Will on homelink/system/status
//
// Device topics follow one scheme, built by Topics:
//
//	home/devices/{deviceId}/set      commands from the bridge
//	home/devices/{deviceId}/status   reports from the device
//
// Delivery guarantees are those of the broker and the QoS in use; the
// client adds no retry beyond paho's reconnect.
package mqtt
