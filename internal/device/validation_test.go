package device

import (
	"errors"
	"testing"
)

func TestValidateGateway(t *testing.T) {
	tests := []struct {
		name    string
		gw      Gateway
		wantErr error
	}{
		{"tcp", Gateway{Name: "gw", Host: "10.0.0.1", Port: 4196, Protocol: ProtocolTCP}, nil},
		{"rtu baud rate", Gateway{Name: "gw", Host: "/dev/ttyUSB0", Port: 115200, Protocol: ProtocolRTU}, nil},
		{"tcp port too large", Gateway{Name: "gw", Host: "h", Port: 70000, Protocol: ProtocolTCP}, ErrInvalidGateway},
		{"missing host", Gateway{Name: "gw", Port: 502, Protocol: ProtocolTCP}, ErrInvalidGateway},
		{"empty name", Gateway{Host: "h", Port: 502, Protocol: ProtocolTCP}, ErrInvalidGateway},
		{"unknown protocol", Gateway{Name: "gw", Host: "h", Port: 502, Protocol: "udp"}, ErrInvalidProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGateway(&tt.gw)
			if tt.wantErr == nil && err != nil {
				t.Errorf("ValidateGateway() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateGateway() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDevice(t *testing.T) {
	valid := func() Device {
		return Device{
			Name: "Relay board", GatewayID: "gw", ModbusAddress: 1, Type: DeviceTypeRelayController,
			Channels: []Channel{{Number: 1, Type: ChannelTypeRelay}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Device)
		wantErr error
	}{
		{"valid", func(*Device) {}, nil},
		{"address zero", func(d *Device) { d.ModbusAddress = 0 }, ErrInvalidAddress},
		{"address 247", func(d *Device) { d.ModbusAddress = 247 }, nil},
		{"address 248", func(d *Device) { d.ModbusAddress = 248 }, ErrInvalidAddress},
		{"unknown type", func(d *Device) { d.Type = "dimmer" }, ErrInvalidDeviceType},
		{"missing gateway", func(d *Device) { d.GatewayID = "" }, ErrInvalidDevice},
		{"channel zero", func(d *Device) { d.Channels[0].Number = 0 }, ErrInvalidChannel},
		{"bad channel type", func(d *Device) { d.Channels[0].Type = "Relay Out" }, ErrInvalidChannel},
		{"negative scale", func(d *Device) { d.Channels[0].Scale = floatPtr(-1) }, ErrInvalidChannel},
		{"duplicate channel", func(d *Device) {
			d.Channels = append(d.Channels, Channel{Number: 1, Type: ChannelTypeRelay})
		}, ErrInvalidChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(&d)
			err := ValidateDevice(&d)
			if tt.wantErr == nil && err != nil {
				t.Errorf("ValidateDevice() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDevice() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseSource(t *testing.T) {
	for _, s := range []string{"manual", "schedule", "trigger", "recovery", " Manual "} {
		if _, err := ParseSource(s); err != nil {
			t.Errorf("ParseSource(%q) error = %v", s, err)
		}
	}
	for _, s := range []string{"", "api", "hardware"} {
		if _, err := ParseSource(s); !errors.Is(err, ErrInvalidSource) {
			t.Errorf("ParseSource(%q) error = %v, want ErrInvalidSource", s, err)
		}
	}
}
