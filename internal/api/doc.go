// Package api implements the HTTP REST API and WebSocket server for the
// Growcube bridge.
//
// This package provides:
//   - REST endpoints for the device registry, live state and state history
//   - Watering actions (water, smart/manual mode, delete schedule)
//   - WebSocket hub broadcasting device state and availability changes
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware: request ID, access log, panic recovery, CORS and a body limit
//   - TLS support for production deployments
//
// # Architecture
//
// Reads come from the SQLite-backed device registry and from the live
// coordinator snapshots. Actions are executed through the same command
// handler that serves the MQTT command topic, so HTTP and MQTT callers see
// identical validation and error codes. Live changes are pushed to
// WebSocket clients by registering the server as a device observer.
//
// # Security
//
// When security.jwt.secret is empty, authentication is disabled and every
// route is open. Otherwise every route except /health requires a bearer
// token, and WebSocket connections use single-use tickets so the token never
// appears in a URL.
//
// # Graceful Degradation
//
// The server operates without live devices or state history; the affected
// endpoints answer 503 instead.
package api
