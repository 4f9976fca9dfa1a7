package automation

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/relaybus-core/internal/device"
	"github.com/nerrad567/relaybus-core/internal/metrics"
)

// ReadingSource returns the newest reading of a channel.
type ReadingSource interface {
	LatestReading(ctx context.Context, channelID string) (*device.Reading, error)
}

// ChannelLookup resolves a configured channel.
type ChannelLookup interface {
	GetChannel(ctx context.Context, id string) (*device.Channel, error)
}

// Evaluator checks sensor-condition triggers against the latest readings.
// It is run after every sensor poll cycle.
type Evaluator struct {
	rules    *Registry
	readings ReadingSource
	channels ChannelLookup
	submit   Submitter
	metrics  *metrics.Metrics
	logger   Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(rules *Registry, readings ReadingSource, channels ChannelLookup, submit Submitter) *Evaluator {
	return &Evaluator{
		rules:    rules,
		readings: readings,
		channels: channels,
		submit:   submit,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the evaluator.
func (e *Evaluator) SetLogger(logger Logger) {
	e.logger = logger
}

// SetMetrics sets the metrics sink. Nil disables metrics.
func (e *Evaluator) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// Evaluate checks every enabled trigger once.
//
// A trigger is skipped when its source has no reading yet or it is still
// within its cooldown. When the condition holds, its action is submitted
// with source=trigger and, once the queue accepts it, last_fired is set to
// now. Triggers never issue the reverse action when the condition clears.
func (e *Evaluator) Evaluate(ctx context.Context, now time.Time) []Firing {
	var firings []Firing
	for _, t := range e.rules.Triggers() {
		if !t.Enabled {
			continue
		}
		if ctx.Err() != nil {
			return firings
		}
		if f, ok := e.evaluate(ctx, &t, now); ok {
			firings = append(firings, f)
		}
	}
	return firings
}

func (e *Evaluator) evaluate(ctx context.Context, t *Trigger, now time.Time) (Firing, bool) {
	if _, err := e.channels.GetChannel(ctx, t.SourceChannelID); err != nil {
		e.logger.Warn("trigger skipped: source channel missing",
			"trigger_id", t.ID,
			"channel_id", t.SourceChannelID,
			"error", err,
		)
		return Firing{}, false
	}

	reading, err := e.readings.LatestReading(ctx, t.SourceChannelID)
	if err != nil {
		if !errors.Is(err, device.ErrNoReading) {
			e.logger.Warn("trigger skipped: reading unavailable", "trigger_id", t.ID, "error", err)
		}
		return Firing{}, false
	}

	if t.CoolingDown(now) {
		return Firing{}, false
	}
	if !t.Operator.Compare(reading.Value, t.Threshold) {
		return Firing{}, false
	}

	f := Firing{RuleID: t.ID, ChannelID: t.TargetChannelID, Action: t.Action, At: now}
	pending, err := e.submit.Submit(ctx, t.TargetChannelID, t.Action.State(), device.SourceTrigger)
	if err != nil {
		f.Err = err
		if errors.Is(err, device.ErrUnknownChannel) {
			e.logger.Warn("trigger skipped: target channel missing",
				"trigger_id", t.ID,
				"channel_id", t.TargetChannelID,
			)
		} else {
			e.logger.Warn("trigger command rejected", "trigger_id", t.ID, "error", err)
		}
		return f, true
	}
	f.CommandID = pending.ID

	if err := e.rules.SetTriggerLastFired(ctx, t.ID, now); err != nil {
		e.logger.Error("recording trigger fire", "trigger_id", t.ID, "error", err)
	}
	e.metrics.IncTriggerFire()
	e.logger.Info("trigger fired",
		"trigger_id", t.ID,
		"name", t.Name,
		"value", reading.Value,
		"operator", t.Operator,
		"threshold", t.Threshold,
		"action", t.Action,
		"target_channel_id", t.TargetChannelID,
		"command_id", pending.ID,
	)
	return f, true
}
