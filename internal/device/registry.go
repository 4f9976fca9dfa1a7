package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the in-memory index of gateways, devices and channels.
// It wraps a Repository; storage stays the source of truth.
//
// The cache is populated on startup via RefreshCache() and reloaded whenever
// configuration changes. Online flags are written through to storage.
//
// All public methods are thread-safe. Returned values are deep copies.
type Registry struct {
	repo     Repository
	gateways map[string]*Gateway
	devices  map[string]*Device
	channels map[string]string // channel ID -> device ID
	cacheMu  sync.RWMutex
	logger   Logger
}

// Stats summarises the registry contents.
type Stats struct {
	Gateways       int `json:"gateways"`
	Devices        int `json:"devices"`
	OnlineDevices  int `json:"online_devices"`
	SensorChannels int `json:"sensor_channels"`
	RelayChannels  int `json:"relay_channels"`
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:     repo,
		gateways: make(map[string]*Gateway),
		devices:  make(map[string]*Device),
		channels: make(map[string]string),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads the whole graph from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	gateways, err := r.repo.ListGateways(ctx)
	if err != nil {
		return fmt.Errorf("loading gateways: %w", err)
	}
	devices, err := r.repo.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	gwCache := make(map[string]*Gateway, len(gateways))
	for i := range gateways {
		g := gateways[i]
		gwCache[g.ID] = &g
	}
	devCache := make(map[string]*Device, len(devices))
	chIndex := make(map[string]string)
	for i := range devices {
		d := devices[i].DeepCopy()
		devCache[d.ID] = d
		for _, ch := range d.Channels {
			chIndex[ch.ID] = d.ID
		}
	}

	r.cacheMu.Lock()
	r.gateways = gwCache
	r.devices = devCache
	r.channels = chIndex
	r.cacheMu.Unlock()

	r.logger.Info("device cache refreshed",
		"gateways", len(gateways),
		"devices", len(devices),
		"channels", len(chIndex),
	)
	return nil
}

// Gateways returns every gateway ordered by ID.
func (r *Registry) Gateways() []Gateway {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make([]Gateway, 0, len(r.gateways))
	for _, g := range r.gateways {
		cpy := *g
		if g.LastSeen != nil {
			t := *g.LastSeen
			cpy.LastSeen = &t
		}
		out = append(out, cpy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateGateway validates and persists a gateway.
func (r *Registry) CreateGateway(ctx context.Context, g *Gateway) error {
	if g.ID == "" {
		g.ID = GenerateID()
	}
	if err := ValidateGateway(g); err != nil {
		return err
	}
	if err := r.repo.CreateGateway(ctx, g); err != nil {
		return err
	}

	cpy := *g
	r.cacheMu.Lock()
	r.gateways[g.ID] = &cpy
	r.cacheMu.Unlock()

	r.logger.Info("gateway created", "gateway_id", g.ID, "name", g.Name)
	return nil
}

// CreateDevice validates and persists a device with its channels.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	for i := range d.Channels {
		if d.Channels[i].ID == "" {
			d.Channels[i].ID = GenerateID()
		}
	}
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if err := r.repo.CreateDevice(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.devices[d.ID] = d.DeepCopy()
	for _, ch := range d.Channels {
		r.channels[ch.ID] = d.ID
	}
	r.cacheMu.Unlock()

	r.logger.Info("device created", "device_id", d.ID, "name", d.Name, "channels", len(d.Channels))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.devices[id]
	var cpy *Device
	if ok {
		cpy = cached.DeepCopy()
	}
	r.cacheMu.RUnlock()
	if ok {
		return cpy, nil
	}

	// might have been created by another process since the last refresh
	d, err := r.repo.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.devices[id] = d.DeepCopy()
	for _, ch := range d.Channels {
		r.channels[ch.ID] = id
	}
	r.cacheMu.Unlock()
	return d, nil
}

// ListDevices returns every device ordered by gateway and bus address.
func (r *Registry) ListDevices(_ context.Context) ([]Device, error) {
	return r.filterDevices(func(*Device) bool { return true }), nil
}

// DevicesByGateway returns the devices on one gateway ordered by bus address.
func (r *Registry) DevicesByGateway(_ context.Context, gatewayID string) ([]Device, error) {
	return r.filterDevices(func(d *Device) bool { return d.GatewayID == gatewayID }), nil
}

// SensorDevices returns every sensor device.
func (r *Registry) SensorDevices() []Device {
	return r.filterDevices(func(d *Device) bool { return d.Type == DeviceTypeSensor })
}

// RelayDevices returns every relay controller.
func (r *Registry) RelayDevices() []Device {
	return r.filterDevices(func(d *Device) bool { return d.Type == DeviceTypeRelayController })
}

func (r *Registry) filterDevices(keep func(*Device) bool) []Device {
	r.cacheMu.RLock()
	var out []Device
	for _, d := range r.devices {
		if keep(d) {
			out = append(out, *d.DeepCopy())
		}
	}
	r.cacheMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].GatewayID != out[j].GatewayID {
			return out[i].GatewayID < out[j].GatewayID
		}
		return out[i].ModbusAddress < out[j].ModbusAddress
	})
	return out
}

// GetChannel retrieves a channel by ID.
// Returns ErrUnknownChannel if no device owns it.
func (r *Registry) GetChannel(ctx context.Context, id string) (*Channel, error) {
	ch, _, err := r.LookupChannel(ctx, id)
	return ch, err
}

// LookupChannel returns a channel together with the device that owns it.
func (r *Registry) LookupChannel(ctx context.Context, id string) (*Channel, *Device, error) {
	r.cacheMu.RLock()
	deviceID, ok := r.channels[id]
	r.cacheMu.RUnlock()

	if !ok {
		ch, err := r.repo.GetChannel(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		deviceID = ch.DeviceID
	}

	d, err := r.GetDevice(ctx, deviceID)
	if errors.Is(err, ErrDeviceNotFound) {
		return nil, nil, fmt.Errorf("%w: %s (device %s: %w)", ErrUnknownChannel, id, deviceID, err)
	}
	if err != nil {
		return nil, nil, err
	}
	for i := range d.Channels {
		if d.Channels[i].ID == id {
			return &d.Channels[i], d, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
}

// ChannelsForDevice returns the channels of a device ordered by number.
func (r *Registry) ChannelsForDevice(ctx context.Context, deviceID string) ([]Channel, error) {
	d, err := r.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return d.Channels, nil
}

// RelayChannels returns every relay output channel.
func (r *Registry) RelayChannels() []Channel {
	var out []Channel
	for _, d := range r.RelayDevices() {
		for _, ch := range d.Channels {
			if ch.IsRelay() {
				out = append(out, ch)
			}
		}
	}
	return out
}

// SetDeviceOnline persists the online flag and reports whether it changed.
func (r *Registry) SetDeviceOnline(ctx context.Context, id string, online bool, seenAt time.Time) (bool, error) {
	if err := r.repo.UpdateDeviceOnline(ctx, id, online, seenAt); err != nil {
		return false, err
	}

	changed := false
	r.cacheMu.Lock()
	if cached, ok := r.devices[id]; ok {
		updated := cached.DeepCopy()
		changed = updated.Online != online
		updated.Online = online
		if online {
			t := seenAt.UTC()
			updated.LastSeen = &t
		}
		r.devices[id] = updated
	}
	r.cacheMu.Unlock()

	if changed {
		r.logger.Info("device online state changed", "device_id", id, "online", online)
	}
	return changed, nil
}

// SetGatewayOnline persists gateway reachability and reports whether it changed.
func (r *Registry) SetGatewayOnline(ctx context.Context, id string, online bool, seenAt time.Time) (bool, error) {
	if err := r.repo.UpdateGatewayOnline(ctx, id, online, seenAt); err != nil {
		return false, err
	}

	changed := false
	r.cacheMu.Lock()
	if cached, ok := r.gateways[id]; ok {
		updated := *cached
		changed = updated.Online != online
		updated.Online = online
		if online {
			t := seenAt.UTC()
			updated.LastSeen = &t
		}
		r.gateways[id] = &updated
	}
	r.cacheMu.Unlock()

	if changed {
		r.logger.Info("gateway online state changed", "gateway_id", id, "online", online)
	}
	return changed, nil
}

// Stats summarises the cached graph.
func (r *Registry) Stats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	s := Stats{Gateways: len(r.gateways), Devices: len(r.devices)}
	for _, d := range r.devices {
		if d.Online {
			s.OnlineDevices++
		}
		for _, ch := range d.Channels {
			if ch.IsRelay() {
				s.RelayChannels++
			} else {
				s.SensorChannels++
			}
		}
	}
	return s
}
