package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/relaybus-core/internal/command"
	"github.com/nerrad567/relaybus-core/internal/device"
	"github.com/nerrad567/relaybus-core/internal/metrics"
)

// maxWindow bounds how far back a tick looks. Minutes missed beyond it,
// for example while the process was down, are never evaluated.
const maxWindow = 2 * time.Minute

// Submitter accepts relay commands.
type Submitter interface {
	Submit(ctx context.Context, channelID string, state bool, source device.Source) (*command.Pending, error)
}

// Firing is one command issued by a rule.
type Firing struct {
	RuleID    string    `json:"rule_id"`
	ChannelID string    `json:"channel_id"`
	Action    Action    `json:"action"`
	At        time.Time `json:"at"`
	CommandID string    `json:"command_id,omitempty"`
	Err       error     `json:"-"`
}

// Scheduler evaluates schedules once per minute of wall-clock time in the
// site time zone.
type Scheduler struct {
	rules   *Registry
	submit  Submitter
	loc     *time.Location
	tick    time.Duration
	metrics *metrics.Metrics
	logger  Logger
	now     func() time.Time

	mu   sync.Mutex
	last time.Time // last evaluated minute, zero before the first tick
}

// NewScheduler creates a Scheduler. A nil location means UTC and a
// non-positive tick means one minute.
func NewScheduler(rules *Registry, submit Submitter, loc *time.Location, tick time.Duration) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		rules:  rules,
		submit: submit,
		loc:    loc,
		tick:   tick,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMetrics sets the metrics sink. Nil disables metrics.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Run ticks immediately and then on every tick boundary until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "tick", s.tick, "timezone", s.loc.String())
	s.Tick(ctx, s.now())

	for {
		now := s.now()
		next := now.Truncate(s.tick).Add(s.tick)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Tick evaluates every enabled schedule against the minutes crossed since
// the previous tick, capped at two minutes. The first tick evaluates only
// its own minute, and a tick within an already evaluated minute does
// nothing. Each schedule issues at most one command per tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []Firing {
	start, end, ok := s.window(now)
	if !ok {
		return nil
	}

	var firings []Firing
	for _, sch := range s.rules.Schedules() {
		if !sch.Enabled {
			continue
		}
		action, at, due := crossing(&sch, start, end)
		if !due {
			continue
		}
		firings = append(firings, s.fire(ctx, &sch, action, at))
	}
	return firings
}

// window returns the first and last minute to evaluate.
func (s *Scheduler) window(now time.Time) (time.Time, time.Time, bool) {
	local := now.In(s.loc)
	minute := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, s.loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last.IsZero() {
		s.last = minute
		return minute, minute, true
	}
	if !minute.After(s.last) {
		return time.Time{}, time.Time{}, false
	}

	start := s.last.Add(time.Minute)
	if earliest := minute.Add(time.Minute - maxWindow); start.Before(earliest) {
		s.logger.Warn("scheduler skipped missed minutes",
			"from", start.Format(time.RFC3339),
			"to", earliest.Add(-time.Minute).Format(time.RFC3339),
		)
		start = earliest
	}
	s.last = minute
	return start, minute, true
}

// crossing finds the latest on or off transition of sch within the minutes
// [start, end]. The on transition requires its own weekday to be enabled;
// the off transition requires the weekday on which the active window
// started, which is the previous day when the window wraps midnight.
func crossing(sch *Schedule, start, end time.Time) (Action, time.Time, bool) {
	onMin, offMin := sch.OnTime.MinuteOfDay(), sch.OffTime.MinuteOfDay()
	if onMin == offMin {
		return "", time.Time{}, false
	}

	var action Action
	var at time.Time
	for m := start; !m.After(end); m = m.Add(time.Minute) {
		mod := m.Hour()*60 + m.Minute()
		switch mod {
		case onMin:
			if sch.Days.Includes(m) {
				action, at = ActionOn, m
			}
		case offMin:
			day := m
			if sch.Wraps() {
				day = m.AddDate(0, 0, -1)
			}
			if sch.Days.Includes(day) {
				action, at = ActionOff, m
			}
		}
	}
	return action, at, action != ""
}

func (s *Scheduler) fire(ctx context.Context, sch *Schedule, action Action, at time.Time) Firing {
	f := Firing{RuleID: sch.ID, ChannelID: sch.ChannelID, Action: action, At: at}

	pending, err := s.submit.Submit(ctx, sch.ChannelID, action.State(), device.SourceSchedule)
	if err != nil {
		f.Err = err
		if errors.Is(err, device.ErrUnknownChannel) {
			s.logger.Warn("schedule skipped: target channel missing",
				"schedule_id", sch.ID,
				"channel_id", sch.ChannelID,
			)
			return f
		}
		s.logger.Warn("schedule command rejected",
			"schedule_id", sch.ID,
			"channel_id", sch.ChannelID,
			"action", action,
			"error", err,
		)
		return f
	}

	f.CommandID = pending.ID
	s.metrics.IncScheduleFire(string(action))
	s.logger.Info("schedule fired",
		"schedule_id", sch.ID,
		"name", sch.Name,
		"channel_id", sch.ChannelID,
		"action", action,
		"command_id", pending.ID,
	)
	return f
}
