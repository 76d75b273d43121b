package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementEvents is the measurement holding bridge activity events.
const MeasurementEvents = "bridge_events"

// Event kinds written to MeasurementEvents.
const (
	EventCommand = "command"
	EventReport  = "report"
)

// WriteEvent records one bridge activity event: a command dispatch or a
// status report, with its outcome. The device's state is not recorded.
// The write is non-blocking.
//
//	client.WriteEvent(influxdb.EventCommand, "lamp1", "dispatched")
func (c *Client) WriteEvent(kind, deviceID, outcome string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newEventPoint(kind, deviceID, outcome, time.Now()))
}

// newEventPoint builds an event point. Kind and outcome are tags (low
// cardinality); the device ID is a field so the series count stays
// bounded as devices are added.
func newEventPoint(kind, deviceID, outcome string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementEvents,
		map[string]string{
			"kind":    kind,
			"outcome": outcome,
		},
		map[string]interface{}{
			"device_id": deviceID,
			"count":     1,
		},
		at,
	)
}
