// Package transport owns the Modbus connections to RS485 gateways.
//
// Every gateway gets exactly one Worker. A Worker drains a single FIFO of
// jobs against one Link, so reads issued by the poller and writes issued by
// the command queue reach the half-duplex bus in the order they were
// submitted and never overlap.
//
// # Failure model
//
// The worker never retries. A failed call is classified into one of the
// package sentinels and returned to the caller, which owns the retry
// policy:
//
//   - ErrTimeout: the device did not answer within the link timeout
//   - ErrProtocol: exception response or malformed frame
//   - ErrConnection: dial or I/O failure on the gateway connection
//   - ErrClosed: the worker was stopped
//
// After a timeout or connection failure the link is closed and the next job
// reconnects lazily.
//
// # Usage
//
//	mgr := transport.NewManager(transport.Config{Timeout: 3 * time.Second}, nil)
//	mgr.Sync(registry.Gateways())
//	regs, err := mgr.ReadRegisters(ctx, gatewayID, 1, 0, 7)
//	if errors.Is(err, transport.ErrTimeout) {
//	    // mark device offline
//	}
package transport
