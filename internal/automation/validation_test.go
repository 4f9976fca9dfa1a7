package automation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"06:00", NewTimeOfDay(6, 0, 0), false},
		{"23:59", NewTimeOfDay(23, 59, 0), false},
		{"00:00:30", NewTimeOfDay(0, 0, 30), false},
		{" 18:05 ", NewTimeOfDay(18, 5, 0), false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"6:00", 0, true},
		{"06-00", 0, true},
		{"", 0, true},
		{"06:00:00:00", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTime) {
					t.Errorf("ParseTimeOfDay(%q) error = %v, want ErrInvalidTime", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeOfDay(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseTimeOfDay(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTimeOfDayString(t *testing.T) {
	if got := NewTimeOfDay(6, 5, 0).String(); got != "06:05" {
		t.Errorf("String() = %q, want 06:05", got)
	}
	if got := NewTimeOfDay(6, 5, 9).String(); got != "06:05:09" {
		t.Errorf("String() = %q, want 06:05:09", got)
	}
}

func TestParseOperator(t *testing.T) {
	tests := []struct {
		in   string
		want Operator
	}{
		{">", OpGreater},
		{"<", OpLess},
		{">=", OpGreaterEqual},
		{"<=", OpLessEqual},
		{"==", OpEqual},
		{"!=", OpNotEqual},
		{"gt", OpGreater},
		{"GTE", OpGreaterEqual},
		{"lt", OpLess},
		{"lte", OpLessEqual},
		{"eq", OpEqual},
		{"ne", OpNotEqual},
	}

	for _, tt := range tests {
		got, err := ParseOperator(tt.in)
		if err != nil {
			t.Errorf("ParseOperator(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOperator(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "=", "<>", "between"} {
		if _, err := ParseOperator(bad); !errors.Is(err, ErrInvalidOperator) {
			t.Errorf("ParseOperator(%q) error = %v, want ErrInvalidOperator", bad, err)
		}
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Schedule)
		wantErr error
	}{
		{"valid", func(*Schedule) {}, nil},
		{"wrapping window", func(s *Schedule) { s.OnTime, s.OffTime = NewTimeOfDay(22, 0, 0), NewTimeOfDay(6, 0, 0) }, nil},
		{"equal times allowed", func(s *Schedule) { s.OffTime = s.OnTime }, nil},
		{"empty name", func(s *Schedule) { s.Name = " " }, ErrInvalidName},
		{"long name", func(s *Schedule) { s.Name = strings.Repeat("x", maxNameLength+1) }, ErrInvalidName},
		{"no channel", func(s *Schedule) { s.ChannelID = "" }, ErrInvalidSchedule},
		{"no days", func(s *Schedule) { s.Days = 0 }, ErrInvalidDays},
		{"day out of range", func(s *Schedule) { s.Days = 1 << 7 }, ErrInvalidDays},
		{"time out of range", func(s *Schedule) { s.OffTime = 24 * 3600 }, ErrInvalidTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := daySchedule()
			tt.mutate(s)
			err := ValidateSchedule(s)
			if tt.wantErr == nil && err != nil {
				t.Errorf("ValidateSchedule() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSchedule() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTrigger(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Trigger)
		wantErr error
	}{
		{"valid", func(*Trigger) {}, nil},
		{"zero cooldown", func(tr *Trigger) { tr.CooldownSeconds = 0 }, nil},
		{"negative cooldown", func(tr *Trigger) { tr.CooldownSeconds = -1 }, ErrInvalidTrigger},
		{"unknown operator", func(tr *Trigger) { tr.Operator = "~" }, ErrInvalidOperator},
		{"bad action", func(tr *Trigger) { tr.Action = "toggle" }, ErrInvalidAction},
		{"no source", func(tr *Trigger) { tr.SourceChannelID = "" }, ErrInvalidTrigger},
		{"no target", func(tr *Trigger) { tr.TargetChannelID = "" }, ErrInvalidTrigger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := hotTrigger()
			tt.mutate(tr)
			err := ValidateTrigger(tr)
			if tt.wantErr == nil && err != nil {
				t.Errorf("ValidateTrigger() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateTrigger() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTriggerNormalisesAliases(t *testing.T) {
	tr := hotTrigger()
	tr.Operator = "gte"
	tr.Action = "OFF"

	if err := ValidateTrigger(tr); err != nil {
		t.Fatalf("ValidateTrigger() error = %v", err)
	}
	if tr.Operator != OpGreaterEqual || tr.Action != ActionOff {
		t.Errorf("normalised = %q/%q, want >=/off", tr.Operator, tr.Action)
	}
}

func TestScheduleJSON(t *testing.T) {
	in := `{"channel_id":"ch-r1","name":"Night","on_time":"22:00","off_time":"06:00","days_of_week":[0,2,4],"enabled":true}`

	var s Schedule
	if err := json.Unmarshal([]byte(in), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s.OnTime != NewTimeOfDay(22, 0, 0) || s.OffTime != NewTimeOfDay(6, 0, 0) {
		t.Errorf("times = %v/%v", s.OnTime, s.OffTime)
	}
	if !s.Wraps() {
		t.Error("Wraps() = false, want true")
	}
	if got := s.Days.Days(); len(got) != 3 || got[0] != 0 || got[1] != 2 || got[2] != 4 {
		t.Errorf("days = %v, want [0 2 4]", got)
	}

	out, err := json.Marshal(s.Days)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != "[0,2,4]" {
		t.Errorf("days JSON = %s, want [0,2,4]", out)
	}

	if err := json.Unmarshal([]byte(`{"days_of_week":[7]}`), &s); !errors.Is(err, ErrInvalidDays) {
		t.Errorf("Unmarshal(day 7) error = %v, want ErrInvalidDays", err)
	}
}
