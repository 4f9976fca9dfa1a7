// Package api implements the HTTP REST API and WebSocket server for RelayBus Core.
//
// This package provides:
//   - the aggregated controller read model consumed by the platform integration
//   - read access to devices, latest readings, relay states and their history
//   - the relay command entrypoint, backed by the command queue
//   - a WebSocket hub broadcasting readings, relay states and device status
//   - a middleware stack (request ID, logging, recovery, body limit, metrics)
//
// # Architecture
//
// The API never talks to the bus. Reads come from the device registry cache
// and the SQLite repositories; relay commands are handed to the command
// queue, which owns every write. Events reach WebSocket clients through the
// Hub, which the poller and command queue observers feed directly.
//
// # Commands
//
//	POST /api/v1/relays/{channelID}/command  {"state": true}
//
// returns 202 with {"accepted": true, "command_id": ...} once queued. With
// "wait": true the handler blocks until the outcome is known and returns
// 200 (or 502 when the write failed). Rejections return
// {"accepted": false, "reason": ...} with 404 for an unknown channel, 422
// for a channel that cannot be commanded and 503 when the gateway queue is
// full or shutting down.
package api
