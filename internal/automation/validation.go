package automation

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength   = 100
	maxCooldownSecs = 7 * 24 * 3600
)

// operatorAliases maps the legacy word forms to their symbols.
var operatorAliases = map[string]Operator{
	"gt":  OpGreater,
	"lt":  OpLess,
	"gte": OpGreaterEqual,
	"ge":  OpGreaterEqual,
	"lte": OpLessEqual,
	"le":  OpLessEqual,
	"eq":  OpEqual,
	"ne":  OpNotEqual,
	"neq": OpNotEqual,
}

// ValidateSchedule checks a schedule before it is persisted.
func ValidateSchedule(s *Schedule) error {
	if s == nil {
		return ErrInvalidSchedule
	}
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if strings.TrimSpace(s.ChannelID) == "" {
		return fmt.Errorf("%w: channel_id is required", ErrInvalidSchedule)
	}
	if err := validateTime(s.OnTime); err != nil {
		return fmt.Errorf("on_time: %w", err)
	}
	if err := validateTime(s.OffTime); err != nil {
		return fmt.Errorf("off_time: %w", err)
	}
	if s.Days == 0 {
		return fmt.Errorf("%w: at least one day is required", ErrInvalidDays)
	}
	if s.Days&^AllDays != 0 {
		return fmt.Errorf("%w: day outside 0-6", ErrInvalidDays)
	}
	return nil
}

// ValidateTrigger checks a trigger before it is persisted.
// The operator and action are normalised in place.
func ValidateTrigger(t *Trigger) error {
	if t == nil {
		return ErrInvalidTrigger
	}
	if err := ValidateName(t.Name); err != nil {
		return err
	}
	if strings.TrimSpace(t.SourceChannelID) == "" {
		return fmt.Errorf("%w: source_channel_id is required", ErrInvalidTrigger)
	}
	if strings.TrimSpace(t.TargetChannelID) == "" {
		return fmt.Errorf("%w: target_channel_id is required", ErrInvalidTrigger)
	}

	op, err := ParseOperator(string(t.Operator))
	if err != nil {
		return err
	}
	t.Operator = op

	action, err := ParseAction(string(t.Action))
	if err != nil {
		return err
	}
	t.Action = action

	if math.IsNaN(t.Threshold) || math.IsInf(t.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be a finite number", ErrInvalidTrigger)
	}
	if t.CooldownSeconds < 0 || t.CooldownSeconds > maxCooldownSecs {
		return fmt.Errorf("%w: cooldown_seconds must be 0-%d", ErrInvalidTrigger, maxCooldownSecs)
	}
	return nil
}

// ValidateName checks if a rule name is valid.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateDays checks that every day index is within 0..6.
func ValidateDays(days []int) error {
	for _, d := range days {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: %d is outside 0-6", ErrInvalidDays, d)
		}
	}
	return nil
}

func validateTime(t TimeOfDay) error {
	if t < 0 || t >= 24*3600 {
		return fmt.Errorf("%w: %d seconds is outside one day", ErrInvalidTime, int(t))
	}
	return nil
}

// ParseTimeOfDay parses HH:MM or HH:MM:SS in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q is not HH:MM or HH:MM:SS", ErrInvalidTime, s)
	}

	limits := []int{23, 59, 59}
	var fields [3]int
	for i, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("%w: %q is not HH:MM or HH:MM:SS", ErrInvalidTime, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidTime, s)
		}
		fields[i] = n
	}
	return NewTimeOfDay(fields[0], fields[1], fields[2]), nil
}

// ParseOperator accepts a comparison symbol or one of its legacy aliases
// (gt, gte, lt, lte, eq, ne) and returns the symbol.
func ParseOperator(s string) (Operator, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch op := Operator(v); op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual:
		return op, nil
	}
	if op, ok := operatorAliases[v]; ok {
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOperator, s)
}

// ParseAction accepts "on" or "off" in any case.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionOn, ActionOff:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// GenerateID creates a new UUID for a schedule or trigger.
func GenerateID() string {
	return uuid.New().String()
}
