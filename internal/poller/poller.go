package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/relaybus-core/internal/device"
	"github.com/nerrad567/relaybus-core/internal/metrics"
	"github.com/nerrad567/relaybus-core/internal/transport"
)

const (
	defaultSensorInterval = 10 * time.Second
	defaultRelayInterval  = 5 * time.Second
)

// Logger defines the logging interface used by the Poller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Transport performs bus reads.
type Transport interface {
	ReadRegisters(ctx context.Context, gatewayID string, slave uint8, address, quantity uint16) ([]uint16, error)
	ReadCoils(ctx context.Context, gatewayID string, slave uint8, address, quantity uint16) ([]bool, error)
}

// Devices is the subset of the device registry the poller uses.
type Devices interface {
	Gateways() []device.Gateway
	SensorDevices() []device.Device
	RelayDevices() []device.Device
	SetDeviceOnline(ctx context.Context, id string, online bool, seenAt time.Time) (bool, error)
	SetGatewayOnline(ctx context.Context, id string, online bool, seenAt time.Time) (bool, error)
}

// ReadingStore persists sensor readings.
type ReadingStore interface {
	AddReading(ctx context.Context, r *device.Reading) error
}

// StateReader returns the commanded relay state, used to report drift.
type StateReader interface {
	GetRelayState(ctx context.Context, channelID string) (*device.RelayState, error)
}

// Config holds the poll intervals and the offline threshold.
type Config struct {
	SensorInterval time.Duration
	RelayInterval  time.Duration

	// OfflineThreshold is the number of consecutive failed polls before a
	// device is marked offline.
	OfflineThreshold int
}

// CycleResult summarises one poll cycle.
type CycleResult struct {
	Kind      string
	Devices   int
	Responded int
	Failed    int
	Readings  int
	Duration  time.Duration
}

// Poller reads sensor channels and relay feedback on fixed intervals.
type Poller struct {
	cfg       Config
	transport Transport
	devices   Devices
	readings  ReadingStore
	states    StateReader
	metrics   *metrics.Metrics
	logger    Logger
	now       func() time.Time

	failMu   sync.Mutex
	failures map[string]int

	obsMu            sync.RWMutex
	readingObservers []func(device.LatestReading)
	statusObservers  []func(device.StatusChange)
	afterSensors     []func(ctx context.Context, at time.Time)
}

// New creates a Poller. states may be nil, which disables drift reporting.
func New(cfg Config, t Transport, devices Devices, readings ReadingStore, states StateReader) *Poller {
	if cfg.SensorInterval <= 0 {
		cfg.SensorInterval = defaultSensorInterval
	}
	if cfg.RelayInterval <= 0 {
		cfg.RelayInterval = defaultRelayInterval
	}
	if cfg.OfflineThreshold < 1 {
		cfg.OfflineThreshold = 1
	}
	return &Poller{
		cfg:       cfg,
		transport: t,
		devices:   devices,
		readings:  readings,
		states:    states,
		logger:    noopLogger{},
		now:       time.Now,
		failures:  make(map[string]int),
	}
}

// SetLogger sets the logger for the poller.
func (p *Poller) SetLogger(logger Logger) {
	p.logger = logger
}

// SetMetrics sets the metrics sink. Nil disables metrics.
func (p *Poller) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// OnReading registers a callback for every persisted reading.
func (p *Poller) OnReading(fn func(device.LatestReading)) {
	p.obsMu.Lock()
	p.readingObservers = append(p.readingObservers, fn)
	p.obsMu.Unlock()
}

// OnStatusChange registers a callback for device online transitions.
func (p *Poller) OnStatusChange(fn func(device.StatusChange)) {
	p.obsMu.Lock()
	p.statusObservers = append(p.statusObservers, fn)
	p.obsMu.Unlock()
}

// AfterSensorCycle registers a hook run after every sensor cycle, once the
// cycle's readings are stored.
func (p *Poller) AfterSensorCycle(fn func(ctx context.Context, at time.Time)) {
	p.obsMu.Lock()
	p.afterSensors = append(p.afterSensors, fn)
	p.obsMu.Unlock()
}

// Run polls sensors and relays on their own intervals until ctx ends.
// Both loops start with an immediate cycle.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started",
		"sensor_interval", p.cfg.SensorInterval,
		"relay_interval", p.cfg.RelayInterval,
		"offline_threshold", p.cfg.OfflineThreshold,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.loop(ctx, p.cfg.SensorInterval, func(ctx context.Context) { p.PollSensors(ctx) })
	}()
	go func() {
		defer wg.Done()
		p.loop(ctx, p.cfg.RelayInterval, func(ctx context.Context) { p.PollRelays(ctx) })
	}()
	wg.Wait()

	p.logger.Info("poller stopped")
}

// loop runs cycle, then waits what is left of interval. A cycle that
// overruns is followed immediately by the next; cycles never overlap.
func (p *Poller) loop(ctx context.Context, interval time.Duration, cycle func(context.Context)) {
	for {
		if ctx.Err() != nil {
			return
		}

		start := p.now()
		cycle(ctx)
		wait := max(interval-p.now().Sub(start), 0)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// PollSensors runs one sensor cycle across all gateways, then the
// after-cycle hooks.
func (p *Poller) PollSensors(ctx context.Context) CycleResult {
	res := p.cycle(ctx, metrics.CycleSensors, p.devices.SensorDevices(), p.pollSensor)

	if ctx.Err() == nil {
		p.obsMu.RLock()
		hooks := p.afterSensors
		p.obsMu.RUnlock()
		at := p.now()
		for _, fn := range hooks {
			fn(ctx, at)
		}
	}
	return res
}

// PollRelays runs one relay feedback cycle across all gateways.
func (p *Poller) PollRelays(ctx context.Context) CycleResult {
	return p.cycle(ctx, metrics.CycleRelays, p.devices.RelayDevices(), p.pollRelay)
}

// deviceResult is the outcome of polling one device.
type deviceResult struct {
	responded bool
	readings  int
	err       error
}

type pollFunc func(ctx context.Context, d *device.Device) deviceResult

// cycle polls each gateway's devices sequentially, and gateways in parallel.
func (p *Poller) cycle(ctx context.Context, kind string, devices []device.Device, poll pollFunc) CycleResult {
	start := p.now()
	res := CycleResult{Kind: kind}

	enabledGateways := make(map[string]bool)
	for _, g := range p.devices.Gateways() {
		if g.Enabled {
			enabledGateways[g.ID] = true
		}
	}

	byGateway := make(map[string][]device.Device)
	for _, d := range devices {
		if !d.Enabled || !enabledGateways[d.GatewayID] {
			continue
		}
		byGateway[d.GatewayID] = append(byGateway[d.GatewayID], d)
	}

	var mu sync.Mutex
	var g errgroup.Group
	for gatewayID, devs := range byGateway {
		g.Go(func() error {
			gw := p.pollGateway(ctx, gatewayID, devs, poll)
			mu.Lock()
			res.Devices += gw.Devices
			res.Responded += gw.Responded
			res.Failed += gw.Failed
			res.Readings += gw.Readings
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = p.now().Sub(start)
	p.metrics.ObservePollCycle(kind, res.Duration)
	p.logger.Debug("poll cycle complete",
		"kind", kind,
		"devices", res.Devices,
		"responded", res.Responded,
		"failed", res.Failed,
		"readings", res.Readings,
		"duration", res.Duration,
	)
	return res
}

func (p *Poller) pollGateway(ctx context.Context, gatewayID string, devs []device.Device, poll pollFunc) CycleResult {
	var res CycleResult
	for i := range devs {
		if ctx.Err() != nil {
			break
		}
		d := &devs[i]
		out := poll(ctx, d)
		if out.err == nil && !out.responded {
			// nothing to read on this device
			continue
		}
		if !out.responded && errors.Is(out.err, transport.ErrClosed) {
			// worker replaced or stopped by a transport resync
			p.logger.Debug("poll skipped, gateway worker closed", "device_id", d.ID, "gateway_id", gatewayID)
			continue
		}

		res.Devices++
		res.Readings += out.readings
		if out.responded {
			res.Responded++
			p.markSuccess(ctx, d.ID)
			continue
		}
		if ctx.Err() != nil {
			break
		}
		res.Failed++
		p.markFailure(ctx, d, out.err)
	}

	if res.Devices > 0 && ctx.Err() == nil {
		online := res.Responded > 0
		if _, err := p.devices.SetGatewayOnline(ctx, gatewayID, online, p.now()); err != nil {
			p.logger.Warn("updating gateway online state", "gateway_id", gatewayID, "error", err)
		}
	}
	return res
}

// pollSensor reads every planned register range of a sensor device.
// The device has responded if any read got an answer, including a Modbus
// exception.
func (p *Poller) pollSensor(ctx context.Context, d *device.Device) deviceResult {
	reads := device.PlanSensorReads(d)
	if len(reads) == 0 {
		return deviceResult{}
	}

	channels := make(map[string]*device.Channel, len(d.Channels))
	for i := range d.Channels {
		channels[d.Channels[i].ID] = &d.Channels[i]
	}

	var out deviceResult
	for _, r := range reads {
		regs, err := p.transport.ReadRegisters(ctx, d.GatewayID, d.SlaveID(), r.Address, r.Count)
		if err != nil {
			for range r.Targets {
				p.metrics.IncChannelRead(metrics.OutcomeError)
			}
			if errors.Is(err, transport.ErrProtocol) {
				out.responded = true
			}
			out.err = err
			p.logger.Warn("sensor read failed",
				"device_id", d.ID,
				"gateway_id", d.GatewayID,
				"address", r.Address,
				"count", r.Count,
				"error", err,
			)
			if ctx.Err() != nil {
				return out
			}
			continue
		}

		out.responded = true
		now := p.now().UTC()
		for _, v := range r.Decode(regs) {
			p.metrics.IncChannelRead(metrics.OutcomeOK)
			rd := &device.Reading{ChannelID: v.ChannelID, Value: v.Value, Timestamp: now}
			if err := p.readings.AddReading(ctx, rd); err != nil {
				p.logger.Error("storing reading", "channel_id", v.ChannelID, "error", err)
				continue
			}
			out.readings++
			p.notifyReading(d, channels[v.ChannelID], rd)
		}
	}
	return out
}

// pollRelay reads the coils behind a relay controller's channels. Observed
// states are compared with the commanded state for logging only.
func (p *Poller) pollRelay(ctx context.Context, d *device.Device) deviceResult {
	var relays []device.Channel
	var count uint16
	for _, ch := range d.Channels {
		if !ch.Enabled || !ch.IsRelay() {
			continue
		}
		relays = append(relays, ch)
		count = max(count, ch.CoilAddress()+1)
	}
	if len(relays) == 0 {
		return deviceResult{}
	}

	coils, err := p.transport.ReadCoils(ctx, d.GatewayID, d.SlaveID(), 0, count)
	if err != nil {
		p.metrics.IncChannelRead(metrics.OutcomeError)
		p.logger.Warn("relay feedback read failed",
			"device_id", d.ID,
			"gateway_id", d.GatewayID,
			"error", err,
		)
		return deviceResult{responded: errors.Is(err, transport.ErrProtocol), err: err}
	}
	p.metrics.IncChannelRead(metrics.OutcomeOK)

	if p.states != nil {
		for _, ch := range relays {
			idx := int(ch.CoilAddress())
			if idx >= len(coils) {
				continue
			}
			commanded, err := p.states.GetRelayState(ctx, ch.ID)
			if err != nil {
				continue
			}
			if commanded.State != coils[idx] {
				p.logger.Warn("relay state drift",
					"channel_id", ch.ID,
					"device_id", d.ID,
					"commanded", commanded.State,
					"observed", coils[idx],
					"source", commanded.Source,
				)
			}
		}
	}
	return deviceResult{responded: true}
}

func (p *Poller) markSuccess(ctx context.Context, deviceID string) {
	p.failMu.Lock()
	delete(p.failures, deviceID)
	p.failMu.Unlock()

	p.setOnline(ctx, deviceID, true)
}

func (p *Poller) markFailure(ctx context.Context, d *device.Device, cause error) {
	p.failMu.Lock()
	p.failures[d.ID]++
	n := p.failures[d.ID]
	p.failMu.Unlock()

	if n < p.cfg.OfflineThreshold {
		p.logger.Debug("device poll failed below offline threshold",
			"device_id", d.ID,
			"failures", n,
			"threshold", p.cfg.OfflineThreshold,
		)
		return
	}
	if d.Online || n == p.cfg.OfflineThreshold {
		p.logger.Warn("device unreachable", "device_id", d.ID, "failures", n, "error", cause)
	}
	p.setOnline(ctx, d.ID, false)
}

func (p *Poller) setOnline(ctx context.Context, deviceID string, online bool) {
	at := p.now()
	changed, err := p.devices.SetDeviceOnline(ctx, deviceID, online, at)
	if err != nil {
		p.logger.Warn("updating device online state", "device_id", deviceID, "error", err)
		return
	}
	if !changed {
		return
	}

	p.obsMu.RLock()
	observers := p.statusObservers
	p.obsMu.RUnlock()
	change := device.StatusChange{DeviceID: deviceID, Online: online, At: at.UTC()}
	for _, fn := range observers {
		fn(change)
	}
}

func (p *Poller) notifyReading(d *device.Device, ch *device.Channel, rd *device.Reading) {
	p.obsMu.RLock()
	observers := p.readingObservers
	p.obsMu.RUnlock()
	if len(observers) == 0 {
		return
	}

	ev := device.LatestReading{Reading: *rd, DeviceID: d.ID, DeviceName: d.Name}
	if ch != nil {
		ev.ChannelName = ch.Label()
		ev.ChannelType = ch.Type
		ev.Unit = ch.Unit
	}
	for _, fn := range observers {
		fn(ev)
	}
}
