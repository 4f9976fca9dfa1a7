package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100

	minModbusAddress = 1
	maxModbusAddress = 247

	maxTCPPort = 65535

	channelTypePattern = `^[a-z][a-z0-9_]*$`
)

var channelTypeRegex = regexp.MustCompile(channelTypePattern)

// ValidateGateway checks a gateway before it is persisted.
func ValidateGateway(g *Gateway) error {
	if g == nil {
		return ErrInvalidGateway
	}
	if err := ValidateName(g.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGateway, err)
	}
	if strings.TrimSpace(g.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidGateway)
	}
	if err := ValidateProtocol(g.Protocol); err != nil {
		return err
	}
	// rtu gateways carry the baud rate in Port
	if g.Port < 1 || (g.Protocol == ProtocolTCP && g.Port > maxTCPPort) {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidGateway, g.Port)
	}
	return nil
}

// ValidateDevice checks a device and its channels.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if err := ValidateName(d.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	if d.GatewayID == "" {
		return fmt.Errorf("%w: gateway_id is required", ErrInvalidDevice)
	}
	if err := ValidateModbusAddress(d.ModbusAddress); err != nil {
		return err
	}
	if err := ValidateDeviceType(d.Type); err != nil {
		return err
	}

	seen := make(map[int]struct{}, len(d.Channels))
	for i := range d.Channels {
		ch := &d.Channels[i]
		if err := ValidateChannel(ch); err != nil {
			return err
		}
		if _, dup := seen[ch.Number]; dup {
			return fmt.Errorf("%w: duplicate channel number %d", ErrInvalidChannel, ch.Number)
		}
		seen[ch.Number] = struct{}{}
	}
	return nil
}

// ValidateChannel checks a single channel.
func ValidateChannel(c *Channel) error {
	if c == nil {
		return ErrInvalidChannel
	}
	if c.Number < 1 {
		return fmt.Errorf("%w: channel number must be >= 1, got %d", ErrInvalidChannel, c.Number)
	}
	if !channelTypeRegex.MatchString(c.Type) {
		return fmt.Errorf("%w: invalid channel type %q", ErrInvalidChannel, c.Type)
	}
	if len(c.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidChannel, maxNameLength)
	}
	if c.Scale != nil && *c.Scale <= 0 {
		return fmt.Errorf("%w: scale must be positive", ErrInvalidChannel)
	}
	if c.Register != nil && (*c.Register < 0 || *c.Register > 0xFFFF) {
		return fmt.Errorf("%w: register %d out of range", ErrInvalidChannel, *c.Register)
	}
	return nil
}

// ValidateName checks if a name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name exceeds %d characters", maxNameLength)
	}
	return nil
}

// ValidateModbusAddress checks the unit identifier range.
func ValidateModbusAddress(addr int) error {
	if addr < minModbusAddress || addr > maxModbusAddress {
		return fmt.Errorf("%w: modbus address must be %d..%d, got %d",
			ErrInvalidAddress, minModbusAddress, maxModbusAddress, addr)
	}
	return nil
}

// ValidateProtocol checks if a protocol is valid.
func ValidateProtocol(protocol Protocol) error {
	switch protocol {
	case ProtocolTCP, ProtocolRTU:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidProtocol, protocol)
}

// ValidateDeviceType checks if a device type is valid.
func ValidateDeviceType(deviceType DeviceType) error {
	switch deviceType {
	case DeviceTypeSensor, DeviceTypeRelayController:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidDeviceType, deviceType)
}

// ParseSource converts a string into a Source.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	if !src.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, s)
	}
	return src, nil
}

// GenerateID creates a new UUID for a gateway, device or channel.
func GenerateID() string {
	return uuid.New().String()
}
