package automation

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/relaybus-core/internal/command"
	"github.com/nerrad567/relaybus-core/internal/device"
	"github.com/nerrad567/relaybus-core/internal/infrastructure/config"
	"github.com/nerrad567/relaybus-core/internal/infrastructure/database"
	_ "github.com/nerrad567/relaybus-core/migrations"
)

// setupTestDB opens a migrated SQLite database in a temp directory with a
// sensor channel ch-moist and relay channels ch-r1 and ch-r2.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	devices := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	gw := &device.Gateway{ID: "gw-1", Name: "Greenhouse", Host: "10.0.0.10", Port: 502, Protocol: device.ProtocolTCP, Enabled: true}
	if err := devices.CreateGateway(ctx, gw); err != nil {
		t.Fatalf("CreateGateway() error = %v", err)
	}
	sensor := &device.Device{
		ID: "dev-soil", GatewayID: "gw-1", Name: "Probe", ModbusAddress: 1,
		Type: device.DeviceTypeSensor, Model: "soil-7in1", Enabled: true,
		Channels: []device.Channel{{ID: "ch-moist", Number: 1, Type: "moisture", Unit: "%", Enabled: true}},
	}
	if err := devices.CreateDevice(ctx, sensor); err != nil {
		t.Fatalf("CreateDevice(sensor) error = %v", err)
	}
	relay := &device.Device{
		ID: "dev-relay", GatewayID: "gw-1", Name: "Relays", ModbusAddress: 2,
		Type: device.DeviceTypeRelayController, Enabled: true,
		Channels: []device.Channel{
			{ID: "ch-r1", Number: 1, Type: device.ChannelTypeRelay, Enabled: true},
			{ID: "ch-r2", Number: 2, Type: device.ChannelTypeRelay, Enabled: true},
		},
	}
	if err := devices.CreateDevice(ctx, relay); err != nil {
		t.Fatalf("CreateDevice(relay) error = %v", err)
	}
	return db.DB
}

// memRepo is an in-memory Repository.
type memRepo struct {
	mu        sync.Mutex
	schedules map[string]Schedule
	triggers  map[string]Trigger
	fired     map[string]time.Time

	// firedErr, when set, fails SetTriggerLastFired.
	firedErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		schedules: make(map[string]Schedule),
		triggers:  make(map[string]Trigger),
		fired:     make(map[string]time.Time),
	}
}

func (m *memRepo) ListSchedules(context.Context) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	sortSchedules(out)
	return out, nil
}

func (m *memRepo) GetSchedule(_ context.Context, id string) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return &s, nil
}

func (m *memRepo) CreateSchedule(_ context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[s.ID]; ok {
		return ErrExists
	}
	m.schedules[s.ID] = *s
	return nil
}

func (m *memRepo) UpdateSchedule(_ context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[s.ID]; !ok {
		return ErrScheduleNotFound
	}
	m.schedules[s.ID] = *s
	return nil
}

func (m *memRepo) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return ErrScheduleNotFound
	}
	delete(m.schedules, id)
	return nil
}

func (m *memRepo) ListTriggers(context.Context) ([]Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		out = append(out, *t.DeepCopy())
	}
	sortTriggers(out)
	return out, nil
}

func (m *memRepo) GetTrigger(_ context.Context, id string) (*Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	if !ok {
		return nil, ErrTriggerNotFound
	}
	return t.DeepCopy(), nil
}

func (m *memRepo) CreateTrigger(_ context.Context, t *Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggers[t.ID]; ok {
		return ErrExists
	}
	m.triggers[t.ID] = *t.DeepCopy()
	return nil
}

func (m *memRepo) UpdateTrigger(_ context.Context, t *Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.triggers[t.ID]
	if !ok {
		return ErrTriggerNotFound
	}
	cpy := *t.DeepCopy()
	cpy.LastFired = old.LastFired
	m.triggers[t.ID] = cpy
	return nil
}

func (m *memRepo) DeleteTrigger(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggers[id]; !ok {
		return ErrTriggerNotFound
	}
	delete(m.triggers, id)
	return nil
}

func (m *memRepo) SetTriggerLastFired(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firedErr != nil {
		return m.firedErr
	}
	t, ok := m.triggers[id]
	if !ok {
		return ErrTriggerNotFound
	}
	t.LastFired = &at
	m.triggers[id] = t
	m.fired[id] = at
	return nil
}

// submitted is one command seen by fakeSubmitter.
type submitted struct {
	ChannelID string
	State     bool
	Source    device.Source
}

// fakeSubmitter accepts every command except those for the listed channels.
type fakeSubmitter struct {
	mu       sync.Mutex
	commands []submitted
	unknown  map[string]bool
	reject   error
	seq      int
}

func (f *fakeSubmitter) Submit(_ context.Context, channelID string, state bool, source device.Source) (*command.Pending, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unknown[channelID] {
		return nil, fmt.Errorf("%w: %w: %s", command.ErrCommandRejected, device.ErrUnknownChannel, channelID)
	}
	if f.reject != nil {
		return nil, f.reject
	}
	f.seq++
	f.commands = append(f.commands, submitted{ChannelID: channelID, State: state, Source: source})
	return &command.Pending{ID: fmt.Sprintf("cmd-%d", f.seq), ChannelID: channelID}, nil
}

func (f *fakeSubmitter) take() []submitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.commands
	f.commands = nil
	return out
}

// fakeReadings serves the latest reading per channel.
type fakeReadings struct {
	mu     sync.Mutex
	latest map[string]float64
}

func (f *fakeReadings) set(channelID string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil {
		f.latest = make(map[string]float64)
	}
	f.latest[channelID] = v
}

func (f *fakeReadings) LatestReading(_ context.Context, channelID string) (*device.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.latest[channelID]
	if !ok {
		return nil, device.ErrNoReading
	}
	return &device.Reading{ChannelID: channelID, Value: v}, nil
}

// fakeChannels knows a fixed set of channel IDs.
type fakeChannels map[string]bool

func (f fakeChannels) GetChannel(_ context.Context, id string) (*device.Channel, error) {
	if !f[id] {
		return nil, fmt.Errorf("%w: %s", device.ErrUnknownChannel, id)
	}
	return &device.Channel{ID: id}, nil
}
