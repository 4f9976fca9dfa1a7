package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrUnknownChannel) {
//	    // skip the rule for this cycle
//	}
var (
	// ErrGatewayNotFound is returned when a gateway ID does not exist.
	ErrGatewayNotFound = errors.New("device: gateway not found")

	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrUnknownChannel is returned when configuration references a channel
	// that is not in the registry.
	ErrUnknownChannel = errors.New("device: unknown channel")

	// ErrNotRelayChannel is returned when a relay operation targets a sensor channel.
	ErrNotRelayChannel = errors.New("device: channel is not a relay")

	// ErrNoReading is returned when a channel has never been read successfully.
	ErrNoReading = errors.New("device: no reading")

	// ErrNoRelayState is returned when a relay channel has no persisted state.
	ErrNoRelayState = errors.New("device: no relay state")

	// ErrExists is returned when creating an entity whose ID or bus address is taken.
	ErrExists = errors.New("device: already exists")

	// ErrInvalidGateway is returned when gateway validation fails.
	ErrInvalidGateway = errors.New("device: invalid gateway")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidChannel is returned when channel validation fails.
	ErrInvalidChannel = errors.New("device: invalid channel")

	// ErrInvalidProtocol is returned when a protocol value is not recognised.
	ErrInvalidProtocol = errors.New("device: invalid protocol")

	// ErrInvalidDeviceType is returned when a device type is not recognised.
	ErrInvalidDeviceType = errors.New("device: invalid type")

	// ErrInvalidAddress is returned when a Modbus address is outside 1..247.
	ErrInvalidAddress = errors.New("device: invalid address")

	// ErrInvalidSource is returned for a relay state source outside
	// manual|schedule|trigger|recovery.
	ErrInvalidSource = errors.New("device: invalid source")
)
