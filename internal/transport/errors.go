package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/goburrow/modbus"
)

var (
	// ErrTimeout is returned when a device does not answer within the link timeout.
	ErrTimeout = errors.New("transport: timeout")

	// ErrProtocol is returned for exception responses and malformed frames.
	ErrProtocol = errors.New("transport: protocol error")

	// ErrConnection is returned when the gateway cannot be reached.
	ErrConnection = errors.New("transport: connection failed")

	// ErrClosed is returned when the worker for a gateway has been stopped.
	ErrClosed = errors.New("transport: worker closed")

	// ErrUnknownGateway is returned for a gateway ID without a worker.
	ErrUnknownGateway = errors.New("transport: unknown gateway")
)

// classify maps a raw link error onto the package sentinels.
// Errors that already carry a sentinel are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isClassified(err) {
		return err
	}

	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"):
		// goburrow/serial reports read timeouts as plain errors
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case strings.HasPrefix(msg, "modbus:"):
		// goburrow/modbus response validation (length, CRC, function code)
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}

func isClassified(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrProtocol) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrUnknownGateway)
}

// dropsLink reports whether the link must be closed after err.
// A timed-out TCP stream may still deliver the late response, which would
// be read as the answer to the next request.
func dropsLink(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection)
}

// contextError converts a caller's context error into the transport taxonomy.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
