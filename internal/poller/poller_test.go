package poller

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/relaybus-core/internal/device"
	"github.com/nerrad567/relaybus-core/internal/transport"
)

// fakeTransport answers reads from per-slave tables.
type fakeTransport struct {
	mu        sync.Mutex
	registers map[uint8][]uint16
	coils     map[uint8][]bool
	errs      map[uint8]error
	reads     int
	coilReads int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		registers: map[uint8][]uint16{},
		coils:     map[uint8][]bool{},
		errs:      map[uint8]error{},
	}
}

func (f *fakeTransport) setErr(slave uint8, err error) {
	f.mu.Lock()
	f.errs[slave] = err
	f.mu.Unlock()
}

func (f *fakeTransport) ReadRegisters(_ context.Context, _ string, slave uint8, address, quantity uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if err := f.errs[slave]; err != nil {
		return nil, err
	}
	regs := f.registers[slave]
	end := int(address) + int(quantity)
	if end > len(regs) {
		return nil, fmt.Errorf("%w: illegal data address", transport.ErrProtocol)
	}
	return append([]uint16(nil), regs[address:end]...), nil
}

func (f *fakeTransport) ReadCoils(_ context.Context, _ string, slave uint8, address, quantity uint16) ([]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coilReads++
	if err := f.errs[slave]; err != nil {
		return nil, err
	}
	coils := f.coils[slave]
	end := int(address) + int(quantity)
	if end > len(coils) {
		return nil, fmt.Errorf("%w: illegal data address", transport.ErrProtocol)
	}
	return append([]bool(nil), coils[address:end]...), nil
}

// fakeDevices is an in-memory device registry.
type fakeDevices struct {
	mu       sync.Mutex
	gateways []device.Gateway
	devices  []device.Device
	gwOnline map[string]bool
}

func (f *fakeDevices) Gateways() []device.Gateway {
	return f.gateways
}

func (f *fakeDevices) filter(t device.DeviceType) []device.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []device.Device
	for _, d := range f.devices {
		if d.Type == t {
			out = append(out, *d.DeepCopy())
		}
	}
	return out
}

func (f *fakeDevices) SensorDevices() []device.Device { return f.filter(device.DeviceTypeSensor) }
func (f *fakeDevices) RelayDevices() []device.Device  { return f.filter(device.DeviceTypeRelayController) }

func (f *fakeDevices) SetDeviceOnline(_ context.Context, id string, online bool, seenAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.devices {
		if f.devices[i].ID != id {
			continue
		}
		changed := f.devices[i].Online != online
		f.devices[i].Online = online
		if online {
			f.devices[i].LastSeen = &seenAt
		}
		return changed, nil
	}
	return false, device.ErrDeviceNotFound
}

func (f *fakeDevices) SetGatewayOnline(_ context.Context, id string, online bool, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gwOnline == nil {
		f.gwOnline = map[string]bool{}
	}
	changed := f.gwOnline[id] != online
	f.gwOnline[id] = online
	return changed, nil
}

func (f *fakeDevices) online(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.ID == id {
			return d.Online
		}
	}
	return false
}

type fakeReadings struct {
	mu   sync.Mutex
	rows []device.Reading
}

func (f *fakeReadings) AddReading(_ context.Context, r *device.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *r)
	return nil
}

func (f *fakeReadings) byChannel() map[string]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]float64{}
	for _, r := range f.rows {
		out[r.ChannelID] = r.Value
	}
	return out
}

type fakeStates map[string]bool

func (f fakeStates) GetRelayState(_ context.Context, channelID string) (*device.RelayState, error) {
	state, ok := f[channelID]
	if !ok {
		return nil, device.ErrNoRelayState
	}
	return &device.RelayState{ChannelID: channelID, State: state, Source: device.SourceManual}, nil
}

func testDevices() *fakeDevices {
	return &fakeDevices{
		gateways: []device.Gateway{
			{ID: "gw-1", Enabled: true},
			{ID: "gw-off", Enabled: false},
		},
		devices: []device.Device{
			{
				ID: "dev-soil", GatewayID: "gw-1", Name: "Bed 1 probe", ModbusAddress: 1,
				Type: device.DeviceTypeSensor, Model: "soil-7in1", Enabled: true,
				Channels: []device.Channel{
					{ID: "ch-moist", Number: 1, Type: "moisture", Unit: "%", Enabled: true},
					{ID: "ch-temp", Number: 2, Type: "temperature", Unit: "°C", Enabled: true},
					{ID: "ch-ph", Number: 4, Type: "ph", Enabled: false},
				},
			},
			{
				ID: "dev-relay", GatewayID: "gw-1", Name: "Pump board", ModbusAddress: 2,
				Type: device.DeviceTypeRelayController, Model: "4ch-relay", Enabled: true,
				Channels: []device.Channel{
					{ID: "ch-r1", Number: 1, Type: device.ChannelTypeRelay, Enabled: true},
					{ID: "ch-r3", Number: 3, Type: device.ChannelTypeRelay, Enabled: true},
				},
			},
			{
				ID: "dev-disabled", GatewayID: "gw-1", Name: "Spare probe", ModbusAddress: 5,
				Type: device.DeviceTypeSensor, Model: "soil-7in1", Enabled: false,
				Channels: []device.Channel{
					{ID: "ch-spare", Number: 1, Type: "moisture", Enabled: true},
				},
			},
			{
				ID: "dev-gw-off", GatewayID: "gw-off", Name: "Shed probe", ModbusAddress: 1,
				Type: device.DeviceTypeSensor, Model: "generic", Enabled: true,
				Channels: []device.Channel{
					{ID: "ch-shed", Number: 1, Type: "humidity", Enabled: true},
				},
			},
		},
	}
}

func newTestPoller(threshold int) (*Poller, *fakeTransport, *fakeDevices, *fakeReadings) {
	tr := newFakeTransport()
	// moisture 45.2%, temperature -3.5°C
	tr.registers[1] = []uint16{452, 0xFFDD, 120, 65, 10, 20, 30}
	tr.coils[2] = []bool{true, false, false, false}

	devs := testDevices()
	readings := &fakeReadings{}
	p := New(Config{OfflineThreshold: threshold}, tr, devs, readings, fakeStates{"ch-r1": false})
	return p, tr, devs, readings
}

func TestPollSensorsDecodesBlock(t *testing.T) {
	p, _, devs, readings := newTestPoller(1)

	var events []device.LatestReading
	p.OnReading(func(ev device.LatestReading) { events = append(events, ev) })

	res := p.PollSensors(context.Background())

	if res.Devices != 1 || res.Responded != 1 || res.Readings != 2 {
		t.Errorf("result = %+v, want one device with two readings", res)
	}

	got := readings.byChannel()
	if math.Abs(got["ch-moist"]-45.2) > 1e-9 {
		t.Errorf("moisture = %v, want 45.2", got["ch-moist"])
	}
	if math.Abs(got["ch-temp"]-(-3.5)) > 1e-9 {
		t.Errorf("temperature = %v, want -3.5", got["ch-temp"])
	}
	if _, ok := got["ch-ph"]; ok {
		t.Error("disabled channel was read")
	}
	if _, ok := got["ch-spare"]; ok {
		t.Error("disabled device was read")
	}
	if _, ok := got["ch-shed"]; ok {
		t.Error("device on disabled gateway was read")
	}

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].DeviceID != "dev-soil" || events[0].ChannelType != "moisture" || events[0].Unit != "%" {
		t.Errorf("event = %+v", events[0])
	}
	if !devs.online("dev-soil") {
		t.Error("dev-soil not marked online")
	}
}

func TestOfflineThreshold(t *testing.T) {
	ctx := context.Background()
	p, tr, devs, _ := newTestPoller(2)

	var changes []device.StatusChange
	p.OnStatusChange(func(c device.StatusChange) { changes = append(changes, c) })

	p.PollSensors(ctx)
	if !devs.online("dev-soil") || len(changes) != 1 || !changes[0].Online {
		t.Fatalf("after first poll online = %v, changes = %+v", devs.online("dev-soil"), changes)
	}

	tr.setErr(1, fmt.Errorf("%w: i/o timeout", transport.ErrTimeout))

	p.PollSensors(ctx)
	if !devs.online("dev-soil") {
		t.Error("device offline after one failure with threshold 2")
	}

	res := p.PollSensors(ctx)
	if devs.online("dev-soil") {
		t.Error("device online after two consecutive failures")
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Failed)
	}
	if len(changes) != 2 || changes[1].Online {
		t.Errorf("changes = %+v, want online then offline", changes)
	}

	tr.setErr(1, nil)
	p.PollSensors(ctx)
	if !devs.online("dev-soil") {
		t.Error("device not back online after a successful poll")
	}
	if len(changes) != 3 || !changes[2].Online {
		t.Errorf("changes = %+v, want a third transition to online", changes)
	}

	// The counter was reset: a single failure stays below the threshold.
	tr.setErr(1, fmt.Errorf("%w: refused", transport.ErrConnection))
	p.PollSensors(ctx)
	if !devs.online("dev-soil") {
		t.Error("failure counter not reset by success")
	}
}

func TestModbusExceptionCountsAsResponse(t *testing.T) {
	p, tr, devs, readings := newTestPoller(1)
	tr.setErr(1, fmt.Errorf("%w: illegal function", transport.ErrProtocol))

	res := p.PollSensors(context.Background())

	if res.Responded != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want responded", res)
	}
	if !devs.online("dev-soil") {
		t.Error("device marked offline on a Modbus exception")
	}
	if len(readings.byChannel()) != 0 {
		t.Error("readings stored from a failed read")
	}
}

func TestPollRelaysWritesNothing(t *testing.T) {
	p, tr, devs, readings := newTestPoller(1)

	res := p.PollRelays(context.Background())

	if res.Devices != 1 || res.Responded != 1 {
		t.Errorf("result = %+v", res)
	}
	if tr.coilReads != 1 || tr.reads != 0 {
		t.Errorf("coil reads = %d, register reads = %d", tr.coilReads, tr.reads)
	}
	if len(readings.byChannel()) != 0 {
		t.Error("relay poll stored readings")
	}
	if !devs.online("dev-relay") {
		t.Error("relay board not marked online")
	}
}

func TestPollRelaysReadsUpToHighestChannel(t *testing.T) {
	p, tr, _, _ := newTestPoller(1)
	// Only three coils: channel 3 is the highest, so the read fits.
	tr.coils[2] = []bool{false, false, true}

	res := p.PollRelays(context.Background())
	if res.Failed != 0 || res.Responded != 1 {
		t.Errorf("result = %+v, want a full read of three coils", res)
	}
}

func TestAfterSensorCycleHooks(t *testing.T) {
	p, _, _, readings := newTestPoller(1)

	var stored int
	var calls int
	p.AfterSensorCycle(func(_ context.Context, at time.Time) {
		calls++
		stored = len(readings.byChannel())
		if at.IsZero() {
			t.Error("hook called with zero time")
		}
	})

	p.PollSensors(context.Background())
	p.PollRelays(context.Background())

	if calls != 1 {
		t.Errorf("hook calls = %d, want 1 (sensor cycles only)", calls)
	}
	if stored != 2 {
		t.Errorf("readings visible to hook = %d, want 2", stored)
	}
}

func TestCancelledCycleDoesNotMarkOffline(t *testing.T) {
	p, tr, devs, _ := newTestPoller(1)
	p.PollSensors(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr.setErr(1, context.Canceled)

	p.PollSensors(ctx)
	if !devs.online("dev-soil") {
		t.Error("cancelled cycle marked the device offline")
	}
}

func TestClosedWorkerDoesNotMarkOffline(t *testing.T) {
	p, tr, devs, _ := newTestPoller(1)
	p.PollSensors(context.Background())

	tr.setErr(1, fmt.Errorf("%w: gw-1", transport.ErrClosed))
	for i := 0; i < 3; i++ {
		res := p.PollSensors(context.Background())
		if res.Failed != 0 {
			t.Errorf("cycle %d: failed = %d, want 0", i, res.Failed)
		}
	}
	if !devs.online("dev-soil") {
		t.Error("resynced gateway marked the device offline")
	}
}

func TestLoopNeverOverlaps(t *testing.T) {
	p, _, _, _ := newTestPoller(1)

	var inFlight, maxInFlight, cycles atomic.Int32
	cycle := func(context.Context) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		cycles.Add(1)
		inFlight.Add(-1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.loop(ctx, time.Millisecond, cycle)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after context cancellation")
	}

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent cycles = %d, want 1", got)
	}
	if got := cycles.Load(); got < 2 {
		t.Errorf("cycles = %d, want back-to-back cycles when overrunning", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p, tr, _, _ := newTestPoller(1)
	p.cfg.SensorInterval = 10 * time.Millisecond
	p.cfg.RelayInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.reads == 0 || tr.coilReads == 0 {
		t.Errorf("reads = %d, coil reads = %d, want both loops to have run", tr.reads, tr.coilReads)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	p := New(Config{}, newFakeTransport(), testDevices(), &fakeReadings{}, nil)
	if p.cfg.SensorInterval != defaultSensorInterval || p.cfg.RelayInterval != defaultRelayInterval {
		t.Errorf("intervals = %v/%v", p.cfg.SensorInterval, p.cfg.RelayInterval)
	}
	if p.cfg.OfflineThreshold != 1 {
		t.Errorf("threshold = %d, want 1", p.cfg.OfflineThreshold)
	}
}
