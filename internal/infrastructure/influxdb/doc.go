// Package influxdb records bridge activity events in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health checks. Each
// command dispatch and status report becomes one point in the
// bridge_events measurement, tagged with its kind and outcome. Device
// state history is not stored here; the registry holds only the latest
// state.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteEvent(influxdb.EventReport, "lamp1", "applied")
//
// Writes are batched according to batch_size and flush_interval; write
// errors are delivered asynchronously to the SetOnError callback.
package influxdb
