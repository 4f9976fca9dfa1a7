package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout is a fixed-width RFC 3339 layout so stored timestamps sort
// lexically.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Repository defines the interface for schedule and trigger persistence.
type Repository interface {
	// Schedules
	ListSchedules(ctx context.Context) ([]Schedule, error)
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	CreateSchedule(ctx context.Context, s *Schedule) error
	UpdateSchedule(ctx context.Context, s *Schedule) error
	DeleteSchedule(ctx context.Context, id string) error

	// Triggers
	ListTriggers(ctx context.Context) ([]Trigger, error)
	GetTrigger(ctx context.Context, id string) (*Trigger, error)
	CreateTrigger(ctx context.Context, t *Trigger) error
	UpdateTrigger(ctx context.Context, t *Trigger) error
	DeleteTrigger(ctx context.Context, id string) error
	SetTriggerLastFired(ctx context.Context, id string, at time.Time) error
}

const scheduleColumns = `id, channel_id, name, on_time, off_time, days_of_week, enabled,
			created_at, updated_at`

const triggerColumns = `id, name, source_channel_id, target_channel_id, operator, threshold,
			action, cooldown_seconds, enabled, last_fired, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ListSchedules retrieves all schedules ordered by name.
func (r *SQLiteRepository) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		s, scanErr := scanSchedule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning schedule: %w", scanErr)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}
	return out, nil
}

// GetSchedule retrieves a schedule by ID.
func (r *SQLiteRepository) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	s, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("querying schedule: %w", err)
	}
	return s, nil
}

// CreateSchedule inserts a new schedule.
func (r *SQLiteRepository) CreateSchedule(ctx context.Context, s *Schedule) error {
	days, err := json.Marshal(s.Days)
	if err != nil {
		return fmt.Errorf("marshalling days: %w", err)
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.ChannelID,
		s.Name,
		s.OnTime.String(),
		s.OffTime.String(),
		string(days),
		boolToInt(s.Enabled),
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
	)
	if err != nil {
		return classifyWriteError(err, "schedule", s.ID)
	}
	return nil
}

// UpdateSchedule modifies an existing schedule.
func (r *SQLiteRepository) UpdateSchedule(ctx context.Context, s *Schedule) error {
	days, err := json.Marshal(s.Days)
	if err != nil {
		return fmt.Errorf("marshalling days: %w", err)
	}
	s.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET
			channel_id = ?, name = ?, on_time = ?, off_time = ?,
			days_of_week = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		s.ChannelID,
		s.Name,
		s.OnTime.String(),
		s.OffTime.String(),
		string(days),
		boolToInt(s.Enabled),
		formatTime(s.UpdatedAt),
		s.ID,
	)
	if err != nil {
		return classifyWriteError(err, "schedule", s.ID)
	}
	return requireRow(result, ErrScheduleNotFound)
}

// DeleteSchedule removes a schedule by ID.
func (r *SQLiteRepository) DeleteSchedule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	return requireRow(result, ErrScheduleNotFound)
}

// ListTriggers retrieves all triggers ordered by name.
func (r *SQLiteRepository) ListTriggers(ctx context.Context) ([]Trigger, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+triggerColumns+` FROM triggers ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying triggers: %w", err)
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		t, scanErr := scanTrigger(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning trigger: %w", scanErr)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating triggers: %w", err)
	}
	return out, nil
}

// GetTrigger retrieves a trigger by ID.
func (r *SQLiteRepository) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = ?`, id)
	t, err := scanTrigger(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTriggerNotFound
		}
		return nil, fmt.Errorf("querying trigger: %w", err)
	}
	return t, nil
}

// CreateTrigger inserts a new trigger.
func (r *SQLiteRepository) CreateTrigger(ctx context.Context, t *Trigger) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO triggers (`+triggerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Name,
		t.SourceChannelID,
		t.TargetChannelID,
		string(t.Operator),
		t.Threshold,
		string(t.Action),
		t.CooldownSeconds,
		boolToInt(t.Enabled),
		nullableTime(t.LastFired),
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
	)
	if err != nil {
		return classifyWriteError(err, "trigger", t.ID)
	}
	return nil
}

// UpdateTrigger modifies the definition of an existing trigger.
// last_fired is left untouched; it is owned by SetTriggerLastFired.
func (r *SQLiteRepository) UpdateTrigger(ctx context.Context, t *Trigger) error {
	t.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE triggers SET
			name = ?, source_channel_id = ?, target_channel_id = ?, operator = ?,
			threshold = ?, action = ?, cooldown_seconds = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		t.Name,
		t.SourceChannelID,
		t.TargetChannelID,
		string(t.Operator),
		t.Threshold,
		string(t.Action),
		t.CooldownSeconds,
		boolToInt(t.Enabled),
		formatTime(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		return classifyWriteError(err, "trigger", t.ID)
	}
	return requireRow(result, ErrTriggerNotFound)
}

// DeleteTrigger removes a trigger by ID.
func (r *SQLiteRepository) DeleteTrigger(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting trigger: %w", err)
	}
	return requireRow(result, ErrTriggerNotFound)
}

// SetTriggerLastFired records the time of the last accepted command.
func (r *SQLiteRepository) SetTriggerLastFired(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE triggers SET last_fired = ? WHERE id = ?`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("updating trigger last_fired: %w", err)
	}
	return requireRow(result, ErrTriggerNotFound)
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(scanner rowScanner) (*Schedule, error) {
	var s Schedule
	var onTime, offTime, days, createdAt, updatedAt string
	var enabled int

	err := scanner.Scan(
		&s.ID,
		&s.ChannelID,
		&s.Name,
		&onTime,
		&offTime,
		&days,
		&enabled,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if s.OnTime, err = ParseTimeOfDay(onTime); err != nil {
		return nil, fmt.Errorf("parsing on_time: %w", err)
	}
	if s.OffTime, err = ParseTimeOfDay(offTime); err != nil {
		return nil, fmt.Errorf("parsing off_time: %w", err)
	}
	if err = json.Unmarshal([]byte(days), &s.Days); err != nil {
		return nil, fmt.Errorf("parsing days_of_week: %w", err)
	}
	s.Enabled = enabled != 0

	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &s, nil
}

func scanTrigger(scanner rowScanner) (*Trigger, error) {
	var t Trigger
	var operator, action, createdAt, updatedAt string
	var lastFired sql.NullString
	var enabled int

	err := scanner.Scan(
		&t.ID,
		&t.Name,
		&t.SourceChannelID,
		&t.TargetChannelID,
		&operator,
		&t.Threshold,
		&action,
		&t.CooldownSeconds,
		&enabled,
		&lastFired,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Rows written before operators were normalised may hold aliases.
	if t.Operator, err = ParseOperator(operator); err != nil {
		return nil, err
	}
	t.Action = Action(action)
	t.Enabled = enabled != 0

	if lastFired.Valid {
		lf, parseErr := parseTime(lastFired.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing last_fired: %w", parseErr)
		}
		t.LastFired = &lf
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &t, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(result sql.Result, missing error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

func classifyWriteError(err error, entity, id string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s %s", ErrExists, entity, id)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: referenced by %s %s", ErrUnknownChannel, entity, id)
	}
	return fmt.Errorf("writing %s: %w", entity, err)
}
