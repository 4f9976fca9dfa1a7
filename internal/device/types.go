package device

import (
	"fmt"
	"time"
)

// Protocol is the framing used to reach a gateway's bus.
type Protocol string

const (
	// ProtocolTCP is Modbus TCP, including RS485-to-Ethernet bridges.
	ProtocolTCP Protocol = "tcp"

	// ProtocolRTU is Modbus RTU on a local serial device.
	ProtocolRTU Protocol = "rtu"
)

// DeviceType classifies what a bus device does.
type DeviceType string

const (
	DeviceTypeSensor          DeviceType = "sensor"
	DeviceTypeRelayController DeviceType = "relay_controller"
)

// ChannelTypeRelay marks a relay output. Every other channel type names a
// sensor reading kind such as "temperature" or "moisture".
const ChannelTypeRelay = "relay"

// Source is the provenance recorded with each relay state change.
type Source string

const (
	SourceManual   Source = "manual"
	SourceSchedule Source = "schedule"
	SourceTrigger  Source = "trigger"
	SourceRecovery Source = "recovery"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceSchedule, SourceTrigger, SourceRecovery:
		return true
	}
	return false
}

// Gateway is a protocol bridge exposing one shared serial bus.
type Gateway struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`
	Enabled  bool     `json:"enabled"`

	// Online is true when at least one device answered in the last poll.
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Device is one addressable unit on a gateway's bus.
type Device struct {
	ID            string     `json:"id"`
	GatewayID     string     `json:"gateway_id"`
	Name          string     `json:"name"`
	ModbusAddress int        `json:"modbus_address"`
	Type          DeviceType `json:"device_type"`
	Model         string     `json:"model"`
	Enabled       bool       `json:"enabled"`

	// Online and LastSeen are written only by poll and command outcomes.
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	Channels []Channel `json:"channels"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy, including the channel slice.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	if d.LastSeen != nil {
		t := *d.LastSeen
		cpy.LastSeen = &t
	}
	if d.Channels != nil {
		cpy.Channels = make([]Channel, len(d.Channels))
		for i := range d.Channels {
			cpy.Channels[i] = *d.Channels[i].DeepCopy()
		}
	}
	return &cpy
}

// SlaveID returns the Modbus unit identifier.
func (d *Device) SlaveID() uint8 {
	return uint8(d.ModbusAddress) //nolint:gosec // validated to 1..247
}

// Channel is one sensor reading or relay output on a device.
type Channel struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Number   int    `json:"channel_num"`
	Type     string `json:"channel_type"`
	Name     string `json:"name"`
	Unit     string `json:"unit"`

	// Register overrides the holding register a sensor channel is read from.
	Register *int `json:"register,omitempty"`

	// Scale overrides the multiplier applied to the raw register value.
	Scale *float64 `json:"scale,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the channel.
func (c *Channel) DeepCopy() *Channel {
	if c == nil {
		return nil
	}
	cpy := *c
	if c.Register != nil {
		r := *c.Register
		cpy.Register = &r
	}
	if c.Scale != nil {
		s := *c.Scale
		cpy.Scale = &s
	}
	return &cpy
}

// IsRelay reports whether the channel is a relay output.
func (c *Channel) IsRelay() bool {
	return c.Type == ChannelTypeRelay
}

// Label is the display name of the channel, falling back to "Relay N" for
// unnamed relay outputs.
func (c *Channel) Label() string {
	if c.Name != "" {
		return c.Name
	}
	if c.IsRelay() {
		return fmt.Sprintf("Relay %d", c.Number)
	}
	return c.Type
}

// CoilAddress is the zero-based coil (and fallback register) of a relay.
func (c *Channel) CoilAddress() uint16 {
	return uint16(c.Number - 1) //nolint:gosec // validated >= 1
}

// Reading is one successful sensor poll.
type Reading struct {
	ID        int64     `json:"id"`
	ChannelID string    `json:"channel_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// LatestReading is the current value of a channel joined with its metadata.
type LatestReading struct {
	Reading
	ChannelName string `json:"channel_name"`
	ChannelType string `json:"channel_type"`
	Unit        string `json:"unit"`
	DeviceID    string `json:"device_id"`
	DeviceName  string `json:"device_name"`
}

// RelayState is the authoritative commanded state of a relay channel.
type RelayState struct {
	ChannelID string    `json:"channel_id"`
	State     bool      `json:"state"`
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// RelayStateChange is one row of the relay state audit trail.
type RelayStateChange struct {
	ID int64 `json:"id"`
	RelayState
}

// StatusChange is an online/offline transition of a device.
type StatusChange struct {
	DeviceID string    `json:"device_id"`
	Online   bool      `json:"online"`
	At       time.Time `json:"at"`
}
