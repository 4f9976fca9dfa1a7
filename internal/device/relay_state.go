package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/relaybus-core/internal/infrastructure/database"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// RelayStateRepository stores the commanded state of relay channels.
//
// Only the command queue writes relay state. Every write overwrites the one
// live row for the channel and appends the same values to the history.
type RelayStateRepository interface {
	// SetRelayState upserts the live row and appends a history row atomically.
	SetRelayState(ctx context.Context, s *RelayState) error

	// GetRelayState returns the live row, or ErrNoRelayState.
	GetRelayState(ctx context.Context, channelID string) (*RelayState, error)

	// ListRelayStates returns every live row ordered by channel ID.
	ListRelayStates(ctx context.Context) ([]RelayState, error)

	// GetHistory returns recent changes for a channel, newest first.
	GetHistory(ctx context.Context, channelID string, limit int) ([]RelayStateChange, error)
}

// SQLiteRelayStateRepository implements RelayStateRepository using SQLite.
type SQLiteRelayStateRepository struct {
	db *sql.DB
}

// NewSQLiteRelayStateRepository creates a new SQLite relay state repository.
func NewSQLiteRelayStateRepository(db *sql.DB) *SQLiteRelayStateRepository {
	return &SQLiteRelayStateRepository{db: db}
}

// SetRelayState overwrites the live state of a channel and records the change.
func (r *SQLiteRelayStateRepository) SetRelayState(ctx context.Context, s *RelayState) error {
	if s.ChannelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if !s.Source.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSource, s.Source)
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	ts := formatTime(s.Timestamp)

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO relay_states (channel_id, state, source, timestamp)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(channel_id) DO UPDATE SET
				state = excluded.state,
				source = excluded.source,
				timestamp = excluded.timestamp`,
			s.ChannelID, boolToInt(s.State), string(s.Source), ts,
		)
		if err != nil {
			if isForeignKeyError(err) {
				return fmt.Errorf("%w: %s", ErrUnknownChannel, s.ChannelID)
			}
			return fmt.Errorf("upserting relay state: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO relay_state_history (channel_id, state, source, timestamp)
			VALUES (?, ?, ?, ?)`,
			s.ChannelID, boolToInt(s.State), string(s.Source), ts,
		)
		if err != nil {
			return fmt.Errorf("inserting relay state history: %w", err)
		}
		return nil
	})
}

// GetRelayState returns the live state of a channel.
func (r *SQLiteRelayStateRepository) GetRelayState(ctx context.Context, channelID string) (*RelayState, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT channel_id, state, source, timestamp FROM relay_states WHERE channel_id = ?`,
		channelID,
	)
	s, err := scanRelayState(row)
	if err != nil {
		return nil, notFound(err, ErrNoRelayState)
	}
	return s, nil
}

// ListRelayStates returns every live row.
func (r *SQLiteRelayStateRepository) ListRelayStates(ctx context.Context) ([]RelayState, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT channel_id, state, source, timestamp FROM relay_states ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("querying relay states: %w", err)
	}
	defer rows.Close()

	var states []RelayState
	for rows.Next() {
		s, err := scanRelayState(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning relay state: %w", err)
		}
		states = append(states, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relay states: %w", err)
	}
	return states, nil
}

// GetHistory returns recent relay state changes for a channel, newest first.
// limit defaults to 50 and is capped at 200.
func (r *SQLiteRelayStateRepository) GetHistory(ctx context.Context, channelID string, limit int) ([]RelayStateChange, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, channel_id, state, source, timestamp
		FROM relay_state_history
		WHERE channel_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`,
		channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying relay state history: %w", err)
	}
	defer rows.Close()

	entries := make([]RelayStateChange, 0, limit)
	for rows.Next() {
		var e RelayStateChange
		var state int
		var source, ts string
		if err := rows.Scan(&e.ID, &e.ChannelID, &state, &source, &ts); err != nil {
			return nil, fmt.Errorf("scanning relay state history: %w", err)
		}
		e.State = state != 0
		e.Source = Source(source)
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relay state history: %w", err)
	}
	return entries, nil
}

func scanRelayState(scanner rowScanner) (*RelayState, error) {
	var s RelayState
	var state int
	var source, ts string
	if err := scanner.Scan(&s.ChannelID, &state, &source, &ts); err != nil {
		return nil, err
	}
	s.State = state != 0
	s.Source = Source(source)

	var err error
	if s.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &s, nil
}
