package automation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// TimeOfDay is a wall-clock time as seconds since midnight.
type TimeOfDay int

// NewTimeOfDay builds a TimeOfDay from its components.
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// Hour returns the hour component.
func (t TimeOfDay) Hour() int { return int(t) / 3600 }

// Minute returns the minute component.
func (t TimeOfDay) Minute() int { return int(t) % 3600 / 60 }

// Second returns the second component.
func (t TimeOfDay) Second() int { return int(t) % 60 }

// MinuteOfDay is the minute the time falls in; seconds are truncated.
func (t TimeOfDay) MinuteOfDay() int { return int(t) / 60 }

// String formats the time as HH:MM, or HH:MM:SS when seconds are set.
func (t TimeOfDay) String() string {
	if t.Second() != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
	}
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// MarshalJSON encodes the time as a string.
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses HH:MM or HH:MM:SS.
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTime, err)
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Weekdays is a set of days with 0 = Monday through 6 = Sunday.
type Weekdays uint8

// AllDays contains every day of the week.
const AllDays Weekdays = 1<<7 - 1

// NewWeekdays builds a set from day indices. Out-of-range days are ignored;
// use ValidateDays to reject them.
func NewWeekdays(days ...int) Weekdays {
	var w Weekdays
	for _, d := range days {
		if d >= 0 && d <= 6 {
			w |= 1 << d
		}
	}
	return w
}

// Has reports whether day d (0 = Monday) is in the set.
func (w Weekdays) Has(d int) bool {
	return d >= 0 && d <= 6 && w&(1<<d) != 0
}

// Includes reports whether the weekday of t is in the set.
func (w Weekdays) Includes(t time.Time) bool {
	return w.Has(DayIndex(t.Weekday()))
}

// Days returns the day indices in ascending order.
func (w Weekdays) Days() []int {
	days := make([]int, 0, 7)
	for d := 0; d <= 6; d++ {
		if w.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

// MarshalJSON encodes the set as an array of day indices.
func (w Weekdays) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Days())
}

// UnmarshalJSON decodes an array of day indices.
func (w *Weekdays) UnmarshalJSON(data []byte) error {
	var days []int
	if err := json.Unmarshal(data, &days); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDays, err)
	}
	if err := ValidateDays(days); err != nil {
		return err
	}
	*w = NewWeekdays(days...)
	return nil
}

// DayIndex converts a time.Weekday to the Monday-based index.
func DayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Operator is a trigger comparison.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Compare applies the operator to (value, threshold). Equality is exact.
// A NaN value only satisfies !=.
func (o Operator) Compare(value, threshold float64) bool {
	if math.IsNaN(value) {
		return o == OpNotEqual
	}
	switch o {
	case OpGreater:
		return value > threshold
	case OpLess:
		return value < threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	}
	return false
}

// Action is the relay state a rule requests.
type Action string

const (
	ActionOn  Action = "on"
	ActionOff Action = "off"
)

// State returns the relay state for the action.
func (a Action) State() bool {
	return a == ActionOn
}

// Schedule switches a relay on and off at fixed wall-clock times.
// When OnTime is after OffTime the active window wraps past midnight.
type Schedule struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Name      string    `json:"name"`
	OnTime    TimeOfDay `json:"on_time"`
	OffTime   TimeOfDay `json:"off_time"`
	Days      Weekdays  `json:"days_of_week"`
	Enabled   bool      `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns a copy of the schedule.
func (s *Schedule) DeepCopy() *Schedule {
	if s == nil {
		return nil
	}
	cpy := *s
	return &cpy
}

// Wraps reports whether the active window spans midnight.
func (s *Schedule) Wraps() bool {
	return s.OnTime.MinuteOfDay() > s.OffTime.MinuteOfDay()
}

// Trigger switches a relay when a sensor reading satisfies a comparison.
type Trigger struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	SourceChannelID string     `json:"source_channel_id"`
	TargetChannelID string     `json:"target_channel_id"`
	Operator        Operator   `json:"operator"`
	Threshold       float64    `json:"threshold"`
	Action          Action     `json:"action"`
	CooldownSeconds int        `json:"cooldown_seconds"`
	Enabled         bool       `json:"enabled"`
	LastFired       *time.Time `json:"last_fired,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the trigger.
func (t *Trigger) DeepCopy() *Trigger {
	if t == nil {
		return nil
	}
	cpy := *t
	if t.LastFired != nil {
		lf := *t.LastFired
		cpy.LastFired = &lf
	}
	return &cpy
}

// Cooldown returns the cooldown as a Duration.
func (t *Trigger) Cooldown() time.Duration {
	return time.Duration(t.CooldownSeconds) * time.Second
}

// CoolingDown reports whether now is still within the cooldown measured from
// the last accepted command.
func (t *Trigger) CoolingDown(now time.Time) bool {
	if t.LastFired == nil {
		return false
	}
	return now.Sub(*t.LastFired) < t.Cooldown()
}

func sortSchedules(s []Schedule) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Name != s[j].Name {
			return s[i].Name < s[j].Name
		}
		return s[i].ID < s[j].ID
	})
}

func sortTriggers(t []Trigger) {
	sort.Slice(t, func(i, j int) bool {
		if t[i].Name != t[j].Name {
			return t[i].Name < t[j].Name
		}
		return t[i].ID < t[j].ID
	})
}
