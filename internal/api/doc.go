// Package api implements the HTTP REST API and WebSocket server for the
// firmware update service.
//
// This package provides:
//   - REST endpoints for the device catalogue and per-device firmware state
//   - Check and install triggers, release notes and install history
//   - WebSocket hub broadcasting firmware events
//   - Optional HS256 JWT authentication on mutating routes
//   - An audit trail of operator actions (GET /api/v1/audit)
//   - Middleware stack (request ID, logging, recovery, CORS, metrics)
//
// # Architecture
//
// The API sits in front of the firmware manager. Installs run in the
// background: POST .../install returns 202 once the install has been
// accepted, and progress is followed through GET .../firmware/{id} or the
// "firmware.state_changed" WebSocket channel.
//
//	client ──HTTP──► api ──► firmware.Manager ──► zwave.Bridge ──MQTT──► mesh
//	   ▲                           │
//	   └────────WebSocket◄── Hub ◄─┘ (Observer)
//
// # Security
//
// With security.jwt.secret set, mutating routes and the WebSocket require
// a bearer token signed with that secret. Reads stay open for dashboards,
// except the audit trail. The token subject is stored with each audit entry.
package api
