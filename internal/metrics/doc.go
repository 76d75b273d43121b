// Package metrics exposes bridge counters to Prometheus and, optionally,
// forwards activity events to an EventSink such as InfluxDB.
//
// Metrics live in their own registry rather than the global default, so
// tests and multiple instances do not collide. Every method is safe on a
// nil *Metrics, which lets components run without instrumentation.
package metrics
