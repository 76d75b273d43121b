// Package device provides the Device Registry for HomeLink Core.
//
// The registry is the single authoritative record of device identity,
// ownership and last-known state. The command dispatcher and the status
// ingestor write state through it; stream sessions read it through
// change subscriptions. No other component mutates device state.
//
// # Architecture
//
//	┌───────────────┐  SetState   ┌────────────────────────────┐  Change   ┌──────────────┐
//	│  dispatcher   │────────────▶│          Registry          │──────────▶│ stream       │
//	│  ingestor     │             │  per-device entry lock     │           │ sessions     │
//	└───────────────┘             │  cache + watcher fan-out   │           └──────────────┘
//	                              └──────────────┬─────────────┘
//	                                             │ Find / Insert / UpdateState / List
//	                                             ▼
//	                              ┌────────────────────────────┐
//	                              │ Store: SQL (SQLite or      │
//	                              │ Postgres), Redis, memory   │
//	                              └────────────────────────────┘
//
// # Consistency
//
// Writes to one device are serialised by that device's entry lock, which
// is held across the store write, the cache update and the watcher
// notification. Watchers therefore see changes in the order the registry
// applied them. Writes to different devices never contend. Concurrent
// command and report writes resolve as last-applied-wins; there is no
// version number.
//
// Registration uniqueness is enforced by Store.Insert, so at most one of
// several concurrent registrations of an ID succeeds even across
// processes sharing a store.
//
// # Usage
//
//	registry := device.NewRegistry(device.NewSQLStore(db))
//	registry.SetLogger(logger)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	dev, err := registry.Register(ctx, "lamp1", "Hall lamp", "alice")
//	sub := registry.Watch(ctx, "lamp1")
//	defer sub.Close()
//	for change := range sub.C() {
//	    fmt.Println(change.State)
//	}
package device
