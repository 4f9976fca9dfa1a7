package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/relaybus-core/internal/device"
)

// Coil values defined by Modbus function 0x05.
const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// Config holds the Manager settings.
type Config struct {
	// Timeout bounds a single request on the bus.
	Timeout time.Duration

	// QueueSize bounds each gateway FIFO.
	QueueSize int
}

// Manager owns one Worker per enabled gateway.
//
// All public methods are thread-safe.
type Manager struct {
	cfg       Config
	newLink   LinkFactory
	logger    Logger
	mu        sync.RWMutex
	workers   map[string]*Worker
	endpoints map[string]device.Gateway
}

// NewManager creates a Manager. A nil factory uses NewModbusLink.
func NewManager(cfg Config, factory LinkFactory) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 128
	}
	if factory == nil {
		factory = NewModbusLink
	}
	return &Manager{
		cfg:       cfg,
		newLink:   factory,
		logger:    noopLogger{},
		workers:   make(map[string]*Worker),
		endpoints: make(map[string]device.Gateway),
	}
}

// SetLogger sets the logger for the manager and workers started afterwards.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// Sync reconciles the running workers with the gateway list.
//
// For each gateway:
//  1. New and enabled: a worker is started
//  2. Host, port or protocol changed: the worker is closed and replaced
//  3. Removed or disabled: the worker is closed
//
// Jobs queued on a closed worker fail with ErrClosed. Callers treat that
// as "not attempted" rather than as a device failure.
//
// Thread Safety: safe for concurrent use with the read and write calls.
func (m *Manager) Sync(gateways []device.Gateway) {
	wanted := make(map[string]device.Gateway, len(gateways))
	for _, gw := range gateways {
		if gw.Enabled {
			wanted[gw.ID] = gw
		}
	}

	var stale []*Worker

	m.mu.Lock()
	for id, w := range m.workers {
		gw, ok := wanted[id]
		if ok && sameEndpoint(m.endpoints[id], gw) {
			continue
		}
		stale = append(stale, w)
		delete(m.workers, id)
		delete(m.endpoints, id)
	}
	for id, gw := range wanted {
		if _, ok := m.workers[id]; ok {
			continue
		}
		link, err := m.newLink(gw, m.cfg.Timeout)
		if err != nil {
			m.logger.Error("cannot build gateway link", "gateway_id", id, "error", err)
			continue
		}
		m.workers[id] = NewWorker(id, link, m.cfg.QueueSize, m.logger)
		m.endpoints[id] = gw
		m.logger.Info("gateway worker started",
			"gateway_id", id,
			"protocol", gw.Protocol,
			"host", gw.Host,
			"port", gw.Port,
		)
	}
	m.mu.Unlock()

	for _, w := range stale {
		w.Close()
		m.logger.Info("gateway worker stopped", "gateway_id", w.gatewayID)
	}
}

func sameEndpoint(a, b device.Gateway) bool {
	return a.Host == b.Host && a.Port == b.Port && a.Protocol == b.Protocol
}

// Close stops every worker.
func (m *Manager) Close() {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*Worker)
	m.endpoints = make(map[string]device.Gateway)
	m.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
}

// Stats returns worker statistics ordered by gateway ID.
func (m *Manager) Stats() []WorkerStats {
	m.mu.RLock()
	stats := make([]WorkerStats, 0, len(m.workers))
	for _, w := range m.workers {
		stats = append(stats, w.Stats())
	}
	m.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].GatewayID < stats[j].GatewayID })
	return stats
}

func (m *Manager) worker(gatewayID string) (*Worker, error) {
	m.mu.RLock()
	w, ok := m.workers[gatewayID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, gatewayID)
	}
	return w, nil
}

// ReadRegisters reads quantity holding registers starting at address.
func (m *Manager) ReadRegisters(ctx context.Context, gatewayID string, slave uint8, address, quantity uint16) ([]uint16, error) {
	w, err := m.worker(gatewayID)
	if err != nil {
		return nil, err
	}

	var regs []uint16
	err = w.Do(ctx, slave, "read_holding", func(l Link) error {
		data, err := l.ReadHoldingRegisters(address, quantity)
		if err != nil {
			return err
		}
		if len(data) != int(quantity)*2 {
			return fmt.Errorf("%w: expected %d bytes, got %d", ErrProtocol, int(quantity)*2, len(data))
		}
		regs = make([]uint16, quantity)
		for i := range regs {
			regs[i] = binary.BigEndian.Uint16(data[i*2:])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return regs, nil
}

// ReadCoils reads quantity coils starting at address.
func (m *Manager) ReadCoils(ctx context.Context, gatewayID string, slave uint8, address, quantity uint16) ([]bool, error) {
	w, err := m.worker(gatewayID)
	if err != nil {
		return nil, err
	}

	var coils []bool
	err = w.Do(ctx, slave, "read_coils", func(l Link) error {
		data, err := l.ReadCoils(address, quantity)
		if err != nil {
			return err
		}
		if len(data) < (int(quantity)+7)/8 {
			return fmt.Errorf("%w: expected %d bytes, got %d", ErrProtocol, (int(quantity)+7)/8, len(data))
		}
		coils = make([]bool, quantity)
		for i := range coils {
			coils[i] = data[i/8]&(1<<(uint(i)%8)) != 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return coils, nil
}

// WriteCoil switches a single coil.
func (m *Manager) WriteCoil(ctx context.Context, gatewayID string, slave uint8, address uint16, on bool) error {
	w, err := m.worker(gatewayID)
	if err != nil {
		return err
	}
	value := coilOff
	if on {
		value = coilOn
	}
	return w.Do(ctx, slave, "write_coil", func(l Link) error {
		_, err := l.WriteSingleCoil(address, value)
		return err
	})
}

// WriteRegister writes a single holding register.
func (m *Manager) WriteRegister(ctx context.Context, gatewayID string, slave uint8, address, value uint16) error {
	w, err := m.worker(gatewayID)
	if err != nil {
		return err
	}
	return w.Do(ctx, slave, "write_register", func(l Link) error {
		_, err := l.WriteSingleRegister(address, value)
		return err
	})
}
