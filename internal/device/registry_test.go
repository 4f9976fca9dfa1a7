package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRegistry_RefreshCache(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	seedGraph(t, NewRegistry(repo))

	// a second registry sees only what storage holds
	reg := NewRegistry(repo)
	if s := reg.Stats(); s.Devices != 0 {
		t.Fatalf("empty registry Stats() = %+v", s)
	}
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	s := reg.Stats()
	want := Stats{Gateways: 1, Devices: 2, SensorChannels: 2, RelayChannels: 2}
	if s != want {
		t.Errorf("Stats() = %+v, want %+v", s, want)
	}
	if gws := reg.Gateways(); len(gws) != 1 || gws[0].Port != 4196 {
		t.Errorf("Gateways() = %+v", gws)
	}
}

func TestRegistry_Lookups(t *testing.T) {
	db := setupTestDB(t)
	reg := NewRegistry(NewSQLiteRepository(db))
	seedGraph(t, reg)
	ctx := context.Background()

	t.Run("lookup channel with owner", func(t *testing.T) {
		ch, dev, err := reg.LookupChannel(ctx, "ch-r2")
		if err != nil {
			t.Fatalf("LookupChannel() error = %v", err)
		}
		if dev.ID != "dev-relay" || dev.ModbusAddress != 2 || dev.GatewayID != "gw-1" {
			t.Errorf("owner = %+v", dev)
		}
		if ch.Label() != "Relay 2" {
			t.Errorf("Label() = %q, want fallback %q", ch.Label(), "Relay 2")
		}
		if ch.CoilAddress() != 1 {
			t.Errorf("CoilAddress() = %d, want 1", ch.CoilAddress())
		}
	})

	t.Run("unknown channel", func(t *testing.T) {
		_, err := reg.GetChannel(ctx, "ch-missing")
		if !errors.Is(err, ErrUnknownChannel) {
			t.Errorf("GetChannel() error = %v, want ErrUnknownChannel", err)
		}
	})

	t.Run("filtered lists", func(t *testing.T) {
		if n := len(reg.SensorDevices()); n != 1 {
			t.Errorf("SensorDevices() = %d, want 1", n)
		}
		if n := len(reg.RelayDevices()); n != 1 {
			t.Errorf("RelayDevices() = %d, want 1", n)
		}
		relays := reg.RelayChannels()
		if len(relays) != 2 || relays[0].ID != "ch-r1" {
			t.Errorf("RelayChannels() = %+v", relays)
		}
		onGW, err := reg.DevicesByGateway(ctx, "gw-1")
		if err != nil || len(onGW) != 2 || onGW[0].ModbusAddress != 1 {
			t.Errorf("DevicesByGateway() = %+v, %v", onGW, err)
		}
		none, _ := reg.DevicesByGateway(ctx, "gw-other")
		if len(none) != 0 {
			t.Errorf("DevicesByGateway(other) = %d devices", len(none))
		}
	})

	t.Run("returned copies are isolated", func(t *testing.T) {
		d, err := reg.GetDevice(ctx, "dev-soil")
		if err != nil {
			t.Fatalf("GetDevice() error = %v", err)
		}
		d.Name = "mutated"
		d.Channels[0].Name = "mutated"

		again, _ := reg.GetDevice(ctx, "dev-soil")
		if again.Name == "mutated" || again.Channels[0].Name == "mutated" {
			t.Error("mutating a returned device changed the cache")
		}
	})
}

func TestRegistry_SetDeviceOnline(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	reg := NewRegistry(repo)
	seedGraph(t, reg)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	changed, err := reg.SetDeviceOnline(ctx, "dev-soil", true, now)
	if err != nil {
		t.Fatalf("SetDeviceOnline() error = %v", err)
	}
	if !changed {
		t.Error("first online transition should report a change")
	}

	changed, _ = reg.SetDeviceOnline(ctx, "dev-soil", true, now.Add(time.Minute))
	if changed {
		t.Error("repeated online should not report a change")
	}

	d, _ := reg.GetDevice(ctx, "dev-soil")
	if !d.Online || !d.LastSeen.Equal(now.Add(time.Minute)) {
		t.Errorf("cached device online=%v last_seen=%v", d.Online, d.LastSeen)
	}

	stored, _ := repo.GetDevice(ctx, "dev-soil")
	if !stored.Online {
		t.Error("online flag should be written through to storage")
	}

	if _, err := reg.SetDeviceOnline(ctx, "ghost", false, now); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetDeviceOnline(ghost) error = %v, want ErrDeviceNotFound", err)
	}

	changed, err = reg.SetGatewayOnline(ctx, "gw-1", true, now)
	if err != nil || !changed {
		t.Errorf("SetGatewayOnline() = %v, %v", changed, err)
	}
}

func TestRegistry_CreateDeviceValidation(t *testing.T) {
	db := setupTestDB(t)
	reg := NewRegistry(NewSQLiteRepository(db))
	seedGraph(t, reg)

	bad := &Device{GatewayID: "gw-1", Name: "Bad", ModbusAddress: 250, Type: DeviceTypeSensor}
	if err := reg.CreateDevice(context.Background(), bad); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("CreateDevice() error = %v, want ErrInvalidAddress", err)
	}
	if _, err := reg.GetDevice(context.Background(), bad.ID); err == nil {
		t.Error("invalid device should not be cached")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	db := setupTestDB(t)
	reg := NewRegistry(NewSQLiteRepository(db))
	seedGraph(t, reg)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = reg.GetChannel(ctx, "ch-r1")
			_ = reg.RelayChannels()
			_ = reg.Stats()
		}()
		go func(i int) {
			defer wg.Done()
			_, _ = reg.SetDeviceOnline(ctx, "dev-relay", i%2 == 0, time.Now())
		}(i)
	}
	wg.Wait()
}
