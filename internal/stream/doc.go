// Package stream pushes device state changes to WebSocket observers.
//
// Each connection is a Session bound to one device ID. A session moves
// through three phases:
//
//	ACCEPTED ──watch──► STREAMING ──read error / peer close / write error / shutdown──► CLOSED
//
// While streaming, the session holds a registry subscription and writes
// every change as one text frame: the bare state token by default, or a
// JSON object with ?format=json. Observers of unregistered IDs receive
// UNKNOWN until the device is registered.
//
// Sessions never write to the registry. Closing a session releases its
// subscription before anything else. Server.Close cancels every session
// and waits for them to finish.
//
// Sessions are not authenticated: any client that knows a device ID may
// observe it.
package stream
