package transport

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/goburrow/modbus"

	"github.com/nerrad567/relaybus-core/internal/device"
)

// Link is one Modbus connection to a gateway.
// Implementations are used by a single worker goroutine and need not be
// safe for concurrent use.
type Link interface {
	Connect() error
	Close() error
	SetSlave(id byte)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadCoils(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// LinkFactory builds an unconnected Link for a gateway.
type LinkFactory func(gw device.Gateway, timeout time.Duration) (Link, error)

// handlerWithConn is the subset of the goburrow handlers the link drives.
type handlerWithConn interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// modbusLink adapts a goburrow TCP or RTU handler to Link.
type modbusLink struct {
	handler  handlerWithConn
	client   modbus.Client
	setSlave func(byte)
}

// NewModbusLink is the production LinkFactory.
//
// For tcp gateways Host and Port address the RS485-to-Ethernet bridge.
// For rtu gateways Host is the serial device path and Port is the baud rate.
func NewModbusLink(gw device.Gateway, timeout time.Duration) (Link, error) {
	switch gw.Protocol {
	case device.ProtocolTCP:
		h := modbus.NewTCPClientHandler(net.JoinHostPort(gw.Host, strconv.Itoa(gw.Port)))
		h.Timeout = timeout
		return &modbusLink{
			handler:  h,
			client:   modbus.NewClient(h),
			setSlave: func(id byte) { h.SlaveId = id },
		}, nil
	case device.ProtocolRTU:
		h := modbus.NewRTUClientHandler(gw.Host)
		if gw.Port > 0 {
			h.BaudRate = gw.Port
		}
		h.DataBits = 8
		h.Parity = "N"
		h.StopBits = 1
		h.Timeout = timeout
		return &modbusLink{
			handler:  h,
			client:   modbus.NewClient(h),
			setSlave: func(id byte) { h.SlaveId = id },
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", device.ErrInvalidProtocol, gw.Protocol)
	}
}

func (l *modbusLink) Connect() error { return l.handler.Connect() }
func (l *modbusLink) Close() error { return l.handler.Close() }
func (l *modbusLink) SetSlave(id byte) { l.setSlave(id) }

func (l *modbusLink) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return l.client.ReadHoldingRegisters(address, quantity)
}

func (l *modbusLink) ReadCoils(address, quantity uint16) ([]byte, error) {
	return l.client.ReadCoils(address, quantity)
}

func (l *modbusLink) WriteSingleCoil(address, value uint16) ([]byte, error) {
	return l.client.WriteSingleCoil(address, value)
}

func (l *modbusLink) WriteSingleRegister(address, value uint16) ([]byte, error) {
	return l.client.WriteSingleRegister(address, value)
}
