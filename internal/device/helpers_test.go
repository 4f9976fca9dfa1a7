package device

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nerrad567/relaybus-core/internal/infrastructure/config"
	"github.com/nerrad567/relaybus-core/internal/infrastructure/database"
	_ "github.com/nerrad567/relaybus-core/migrations"
)

// setupTestDB opens a migrated SQLite database in a temp directory.
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
	return db.DB
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int { return &v }

// seedGraph creates one gateway with a soil sensor and a 4-channel relay board.
func seedGraph(t *testing.T, reg *Registry) (sensor, relay *Device) {
	t.Helper()
	ctx := context.Background()

	gw := &Gateway{ID: "gw-1", Name: "Greenhouse", Host: "10.0.0.10", Port: 4196, Protocol: ProtocolTCP, Enabled: true}
	if err := reg.CreateGateway(ctx, gw); err != nil {
		t.Fatalf("CreateGateway() error = %v", err)
	}

	sensor = &Device{
		ID: "dev-soil", GatewayID: "gw-1", Name: "Bed 1 probe", ModbusAddress: 1,
		Type: DeviceTypeSensor, Model: "soil-7in1", Enabled: true,
		Channels: []Channel{
			{ID: "ch-moist", Number: 1, Type: "moisture", Name: "moisture", Unit: "%", Enabled: true},
			{ID: "ch-temp", Number: 2, Type: "temperature", Name: "temperature", Unit: "°C", Enabled: true},
		},
	}
	if err := reg.CreateDevice(ctx, sensor); err != nil {
		t.Fatalf("CreateDevice(sensor) error = %v", err)
	}

	relay = &Device{
		ID: "dev-relay", GatewayID: "gw-1", Name: "Pump board", ModbusAddress: 2,
		Type: DeviceTypeRelayController, Model: "4ch-relay", Enabled: true,
		Channels: []Channel{
			{ID: "ch-r1", Number: 1, Type: ChannelTypeRelay, Name: "Pump", Enabled: true},
			{ID: "ch-r2", Number: 2, Type: ChannelTypeRelay, Enabled: true},
		},
	}
	if err := reg.CreateDevice(ctx, relay); err != nil {
		t.Fatalf("CreateDevice(relay) error = %v", err)
	}
	return sensor, relay
}
