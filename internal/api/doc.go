// Package api implements the HTTP surface of HomeLink Core.
//
// This package provides:
//   - device registration and listing for the authenticated owner
//   - owner commands, rate limited per principal when Redis is configured
//   - provisioning data with a QR code for device setup
//   - the unauthenticated observer stream (WebSocket)
//   - health and Prometheus endpoints
//
// # Routes
//
// The first release's routes (POST /device, POST /device/{id}/toggle,
// GET /devices, GET /ws/{id}) are kept with their original response
// shapes. New clients use /api/v1.
//
// # Security
//
// Bearer tokens are HS256 JWTs issued by an external identity service; the
// "sub" claim is the owner ID. Observer streams are public.
//
// # Graceful Degradation
//
// The server operates without MQTT: commands are recorded and acknowledged
// with published=false.
package api
