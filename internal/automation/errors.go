package automation

import "errors"

// Domain errors for the automation package.
//
//	if errors.Is(err, automation.ErrScheduleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrScheduleNotFound is returned when a schedule ID does not exist.
	ErrScheduleNotFound = errors.New("schedule: not found")

	// ErrTriggerNotFound is returned when a trigger ID does not exist.
	ErrTriggerNotFound = errors.New("trigger: not found")

	// ErrExists is returned when creating a rule with an ID that already exists.
	ErrExists = errors.New("automation: already exists")

	// ErrUnknownChannel is returned when a rule references a channel that
	// is not configured.
	ErrUnknownChannel = errors.New("automation: unknown channel")

	// ErrInvalidSchedule is returned when schedule validation fails.
	ErrInvalidSchedule = errors.New("schedule: invalid")

	// ErrInvalidTrigger is returned when trigger validation fails.
	ErrInvalidTrigger = errors.New("trigger: invalid")

	// ErrInvalidName is returned when a rule name is empty or too long.
	ErrInvalidName = errors.New("automation: invalid name")

	// ErrInvalidTime is returned for a time that is not HH:MM or HH:MM:SS.
	ErrInvalidTime = errors.New("automation: invalid time")

	// ErrInvalidDays is returned for a weekday outside 0..6.
	ErrInvalidDays = errors.New("automation: invalid days")

	// ErrInvalidOperator is returned for an unknown comparison operator.
	ErrInvalidOperator = errors.New("trigger: invalid operator")

	// ErrInvalidAction is returned for an action other than on or off.
	ErrInvalidAction = errors.New("automation: invalid action")
)
