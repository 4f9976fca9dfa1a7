package command

import "errors"

var (
	// ErrCommandRejected wraps every reason a command did not reach the relay.
	ErrCommandRejected = errors.New("command: rejected")

	// ErrQueueFull is returned when the gateway lane has no free slot.
	ErrQueueFull = errors.New("command: queue full")

	// ErrQueueClosed is returned once the queue is shutting down.
	ErrQueueClosed = errors.New("command: queue closed")

	// ErrChannelDisabled is returned for a disabled channel or device.
	ErrChannelDisabled = errors.New("command: channel disabled")
)
