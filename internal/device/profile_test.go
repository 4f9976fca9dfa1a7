package device

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestPlanSensorReads_SoilBlock(t *testing.T) {
	d := &Device{
		Model: "Soil-7in1-RS485",
		Channels: []Channel{
			{ID: "m", Number: 1, Type: "moisture", Enabled: true},
			{ID: "t", Number: 2, Type: "soil_temperature", Enabled: true},
			{ID: "ec", Number: 3, Type: "conductivity", Enabled: true},
			{ID: "k", Number: 7, Type: "potassium", Enabled: true},
			{ID: "lux", Number: 8, Type: "light", Enabled: true},
			{ID: "off", Number: 9, Type: "ph", Enabled: false},
		},
	}

	reads := PlanSensorReads(d)
	if len(reads) != 2 {
		t.Fatalf("PlanSensorReads() returned %d reads, want block + 1 fallback", len(reads))
	}

	block := reads[0]
	if block.Address != 0 || block.Count != 7 || len(block.Targets) != 4 {
		t.Fatalf("block read = %+v", block)
	}

	// moisture 45.2 %, temperature -3.5 °C, EC 1200, K 180
	regs := []uint16{452, uint16(0xFFDD), 1200, 65, 30, 20, 180}
	got := map[string]float64{}
	for _, v := range block.Decode(regs) {
		got[v.ChannelID] = v.Value
	}
	want := map[string]float64{"m": 45.2, "t": -3.5, "ec": 1200, "k": 180}
	for id, w := range want {
		if math.Abs(got[id]-w) > 1e-9 {
			t.Errorf("%s = %v, want %v", id, got[id], w)
		}
	}

	fallback := reads[1]
	if fallback.Address != 8 || fallback.Count != 1 || fallback.Targets[0].Scale != 0.1 {
		t.Errorf("fallback read = %+v", fallback)
	}
}

func TestPlanSensorReads_Generic(t *testing.T) {
	d := &Device{
		Model: "SHT20",
		Channels: []Channel{
			{ID: "temp", Number: 1, Type: "temperature", Enabled: true},
			{ID: "hum", Number: 2, Type: "humidity", Enabled: true, Register: intPtr(0x0101), Scale: floatPtr(0.01)},
			{ID: "relay", Number: 3, Type: ChannelTypeRelay, Enabled: true},
		},
	}

	reads := PlanSensorReads(d)
	if len(reads) != 2 {
		t.Fatalf("PlanSensorReads() returned %d reads, want 2", len(reads))
	}
	if reads[0].Address != 1 {
		t.Errorf("default register = %d, want channel number 1", reads[0].Address)
	}
	if reads[1].Address != 0x0101 {
		t.Errorf("override register = %#x, want 0x101", reads[1].Address)
	}

	vals := reads[1].Decode([]uint16{5432})
	if len(vals) != 1 || math.Abs(vals[0].Value-54.32) > 1e-9 {
		t.Errorf("Decode() = %+v, want 54.32", vals)
	}
	if vals := reads[0].Decode(nil); len(vals) != 0 {
		t.Errorf("Decode(short) = %+v, want none", vals)
	}
}

type fakeReadingRepo struct {
	ReadingRepository
	before time.Time
}

func (f *fakeReadingRepo) PruneReadings(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 12, nil
}

func TestPruner_PruneOnce(t *testing.T) {
	repo := &fakeReadingRepo{}
	p := NewPruner(repo, 30*24*time.Hour, time.Hour)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	if n := p.PruneOnce(context.Background()); n != 12 {
		t.Errorf("PruneOnce() = %d, want 12", n)
	}
	if want := now.Add(-30 * 24 * time.Hour); !repo.before.Equal(want) {
		t.Errorf("cutoff = %v, want %v", repo.before, want)
	}
}
