package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/relaybus-core/internal/device"
)

// ─── Fake Link ──────────────────────────────────────────────────────

type fakeLink struct {
	mu           sync.Mutex
	slave        byte
	connects     int
	closes       int
	connectErr   error
	requestErr   error
	delayBySlave map[byte]time.Duration
	registers    map[uint16]uint16
	coils        map[uint16]bool
	log          []string
	inFlight     int
	maxInFlight  int
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		delayBySlave: make(map[byte]time.Duration),
		registers:    make(map[uint16]uint16),
		coils:        make(map[uint16]bool),
	}
}

func (f *fakeLink) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeLink) SetSlave(id byte) {
	f.mu.Lock()
	f.slave = id
	f.mu.Unlock()
}

// begin records the request and simulates the bus latency of the slave.
func (f *fakeLink) begin(entry string) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.delayBySlave[f.slave]
	err := f.requestErr
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	f.inFlight--
	if err == nil {
		f.log = append(f.log, entry)
	}
	f.mu.Unlock()
	return err
}

func (f *fakeLink) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	if err := f.begin(fmt.Sprintf("read_holding:%d:%d", f.currentSlave(), address)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, 0, quantity*2)
	for i := uint16(0); i < quantity; i++ {
		v := f.registers[address+i]
		out = append(out, byte(v>>8), byte(v))
	}
	return out, nil
}

func (f *fakeLink) ReadCoils(address, quantity uint16) ([]byte, error) {
	if err := f.begin(fmt.Sprintf("read_coils:%d:%d", f.currentSlave(), address)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, (quantity+7)/8)
	for i := uint16(0); i < quantity; i++ {
		if f.coils[address+i] {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out, nil
}

func (f *fakeLink) WriteSingleCoil(address, value uint16) ([]byte, error) {
	if err := f.begin(fmt.Sprintf("write_coil:%d:%d:%04X", f.currentSlave(), address, value)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.coils[address] = value == coilOn
	f.mu.Unlock()
	return []byte{byte(value >> 8), byte(value)}, nil
}

func (f *fakeLink) WriteSingleRegister(address, value uint16) ([]byte, error) {
	if err := f.begin(fmt.Sprintf("write_register:%d:%d:%d", f.currentSlave(), address, value)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.registers[address] = value
	f.mu.Unlock()
	return []byte{byte(value >> 8), byte(value)}, nil
}

func (f *fakeLink) currentSlave() byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slave
}

func (f *fakeLink) entries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeLink) setRequestErr(err error) {
	f.mu.Lock()
	f.requestErr = err
	f.mu.Unlock()
}

// fakeFactory hands out one fakeLink per gateway ID.
type fakeFactory struct {
	mu    sync.Mutex
	links map[string]*fakeLink
	built int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{links: make(map[string]*fakeLink)}
}

func (f *fakeFactory) build(gw device.Gateway, _ time.Duration) (Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gw.Protocol != device.ProtocolTCP && gw.Protocol != device.ProtocolRTU {
		return nil, errors.New("unsupported protocol")
	}
	l := newFakeLink()
	f.links[gw.ID] = l
	f.built++
	return l, nil
}

func (f *fakeFactory) link(id string) *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[id]
}
