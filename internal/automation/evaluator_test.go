package automation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/nerrad567/relaybus-core/internal/command"
	"github.com/nerrad567/relaybus-core/internal/device"
)

type evalHarness struct {
	eval     *Evaluator
	rules    *Registry
	repo     *memRepo
	readings *fakeReadings
	sub      *fakeSubmitter
}

func newEvalHarness(t *testing.T, triggers ...*Trigger) *evalHarness {
	t.Helper()
	h := &evalHarness{
		repo:     newMemRepo(),
		readings: &fakeReadings{},
		sub:      &fakeSubmitter{unknown: map[string]bool{}},
	}
	h.rules = NewRegistry(h.repo)
	for _, tr := range triggers {
		if err := h.rules.CreateTrigger(context.Background(), tr); err != nil {
			t.Fatalf("CreateTrigger(%s) error = %v", tr.ID, err)
		}
	}
	channels := fakeChannels{"ch-moist": true, "ch-r1": true}
	h.eval = NewEvaluator(h.rules, h.readings, channels, h.sub)
	return h
}

func hotTrigger() *Trigger {
	return &Trigger{
		ID:              "trg-hot",
		Name:            "Vent when hot",
		SourceChannelID: "ch-moist",
		TargetChannelID: "ch-r1",
		Operator:        OpGreater,
		Threshold:       30.0,
		Action:          ActionOn,
		CooldownSeconds: 300,
		Enabled:         true,
	}
}

func TestEvaluatorCooldownScenario(t *testing.T) {
	ctx := context.Background()
	h := newEvalHarness(t, hotTrigger())
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	steps := []struct {
		offset time.Duration
		value  float64
		fires  bool
	}{
		{0, 31.0, true},
		{100 * time.Second, 32.0, false},
		{301 * time.Second, 33.0, true},
	}

	for _, step := range steps {
		h.readings.set("ch-moist", step.value)
		h.eval.Evaluate(ctx, t0.Add(step.offset))

		got := h.sub.take()
		if step.fires {
			if len(got) != 1 {
				t.Fatalf("t=%v: commands = %+v, want 1", step.offset, got)
			}
			if got[0].ChannelID != "ch-r1" || !got[0].State || got[0].Source != device.SourceTrigger {
				t.Errorf("t=%v: command = %+v", step.offset, got[0])
			}
		} else if len(got) != 0 {
			t.Errorf("t=%v: commands = %+v, want none", step.offset, got)
		}
	}

	tr, err := h.rules.GetTrigger("trg-hot")
	if err != nil {
		t.Fatalf("GetTrigger() error = %v", err)
	}
	if tr.LastFired == nil || !tr.LastFired.Equal(t0.Add(301*time.Second)) {
		t.Errorf("last_fired = %v, want t0+301s", tr.LastFired)
	}
	if persisted := h.repo.fired["trg-hot"]; !persisted.Equal(t0.Add(301 * time.Second)) {
		t.Errorf("persisted last_fired = %v", persisted)
	}
}

func TestEvaluatorRepeatedCrossingsWithinCooldown(t *testing.T) {
	ctx := context.Background()
	h := newEvalHarness(t, hotTrigger())
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	values := []float64{31, 29, 35, 20, 40, 31}
	total := 0
	for i, v := range values {
		h.readings.set("ch-moist", v)
		h.eval.Evaluate(ctx, t0.Add(time.Duration(i*20)*time.Second))
		total += len(h.sub.take())
	}
	if total != 1 {
		t.Errorf("commands = %d, want exactly 1", total)
	}
}

func TestEvaluatorCooldownHoldsWhenLastFiredNotPersisted(t *testing.T) {
	ctx := context.Background()
	h := newEvalHarness(t, hotTrigger())
	h.repo.firedErr = errors.New("database is locked")
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	h.readings.set("ch-moist", 31)
	total := 0
	for i := 0; i < 5; i++ {
		h.eval.Evaluate(ctx, t0.Add(time.Duration(i*10)*time.Second))
		total += len(h.sub.take())
	}
	if total != 1 {
		t.Errorf("commands within 40s = %d, want 1", total)
	}

	tr, err := h.rules.GetTrigger("trg-hot")
	if err != nil {
		t.Fatalf("GetTrigger() error = %v", err)
	}
	if tr.LastFired == nil || !tr.LastFired.Equal(t0) {
		t.Errorf("cached last_fired = %v, want %v", tr.LastFired, t0)
	}
	if _, ok := h.repo.fired["trg-hot"]; ok {
		t.Error("last_fired persisted despite repository error")
	}
}

func TestEvaluatorNoReadingSkips(t *testing.T) {
	h := newEvalHarness(t, hotTrigger())

	if firings := h.eval.Evaluate(context.Background(), time.Now()); len(firings) != 0 {
		t.Errorf("firings = %+v, want none", firings)
	}
	if got := h.sub.take(); len(got) != 0 {
		t.Errorf("commands = %+v, want none", got)
	}
}

func TestEvaluatorOneDirectional(t *testing.T) {
	ctx := context.Background()
	h := newEvalHarness(t, hotTrigger())
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	h.readings.set("ch-moist", 31)
	h.eval.Evaluate(ctx, t0)
	h.sub.take()

	// Well past the cooldown, the condition no longer holds: nothing is issued.
	h.readings.set("ch-moist", 10)
	h.eval.Evaluate(ctx, t0.Add(time.Hour))
	if got := h.sub.take(); len(got) != 0 {
		t.Errorf("commands = %+v, want none", got)
	}
}

func TestEvaluatorDisabledTrigger(t *testing.T) {
	tr := hotTrigger()
	tr.Enabled = false
	h := newEvalHarness(t, tr)
	h.readings.set("ch-moist", 50)

	h.eval.Evaluate(context.Background(), time.Now())
	if got := h.sub.take(); len(got) != 0 {
		t.Errorf("commands = %+v, want none", got)
	}
}

func TestEvaluatorMissingChannels(t *testing.T) {
	ctx := context.Background()

	t.Run("source", func(t *testing.T) {
		tr := hotTrigger()
		tr.SourceChannelID = "ch-gone"
		h := newEvalHarness(t, tr)
		h.readings.set("ch-gone", 50)

		h.eval.Evaluate(ctx, time.Now())
		if got := h.sub.take(); len(got) != 0 {
			t.Errorf("commands = %+v, want none", got)
		}
	})

	t.Run("target", func(t *testing.T) {
		h := newEvalHarness(t, hotTrigger())
		h.sub.unknown["ch-r1"] = true
		h.readings.set("ch-moist", 50)

		firings := h.eval.Evaluate(ctx, time.Now())
		if len(firings) != 1 || !errors.Is(firings[0].Err, device.ErrUnknownChannel) {
			t.Fatalf("firings = %+v, want one unknown channel", firings)
		}
		tr, _ := h.rules.GetTrigger("trg-hot")
		if tr.LastFired != nil {
			t.Error("last_fired set for a rejected command")
		}
	})
}

func TestEvaluatorRejectedCommandDoesNotStartCooldown(t *testing.T) {
	ctx := context.Background()
	h := newEvalHarness(t, hotTrigger())
	h.sub.reject = command.ErrQueueFull
	h.readings.set("ch-moist", 31)
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	h.eval.Evaluate(ctx, t0)
	h.sub.reject = nil
	h.eval.Evaluate(ctx, t0.Add(10*time.Second))

	if got := h.sub.take(); len(got) != 1 {
		t.Errorf("commands = %d, want 1 after the queue recovers", len(got))
	}
}

func TestOperatorCompare(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		op        Operator
		value     float64
		threshold float64
		want      bool
	}{
		{OpGreater, 30.1, 30, true},
		{OpGreater, 30, 30, false},
		{OpLess, 29.9, 30, true},
		{OpGreaterEqual, 30, 30, true},
		{OpLessEqual, 30, 30, true},
		{OpLessEqual, 30.0001, 30, false},
		{OpEqual, 0.1 + 0.2, 0.3, false},
		{OpEqual, 0.5, 0.5, true},
		{OpNotEqual, 0.1 + 0.2, 0.3, true},
		{OpGreater, nan, 0, false},
		{OpEqual, nan, nan, false},
		{OpNotEqual, nan, 0, true},
	}

	for _, tt := range tests {
		if got := tt.op.Compare(tt.value, tt.threshold); got != tt.want {
			t.Errorf("%v %s %v = %v, want %v", tt.value, tt.op, tt.threshold, got, tt.want)
		}
	}
}
