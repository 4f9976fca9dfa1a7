package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReadingRepository stores the append-only sensor time series.
//
// Only the poller appends readings.
type ReadingRepository interface {
	// AddReading appends one reading.
	AddReading(ctx context.Context, r *Reading) error

	// LatestReading returns the newest reading of a channel, or ErrNoReading.
	LatestReading(ctx context.Context, channelID string) (*Reading, error)

	// LatestReadings returns the newest reading of every channel that has one.
	LatestReadings(ctx context.Context) ([]LatestReading, error)

	// PruneReadings deletes readings older than before and returns the count.
	PruneReadings(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteReadingRepository implements ReadingRepository using SQLite.
type SQLiteReadingRepository struct {
	db *sql.DB
}

// NewSQLiteReadingRepository creates a new SQLite reading repository.
func NewSQLiteReadingRepository(db *sql.DB) *SQLiteReadingRepository {
	return &SQLiteReadingRepository{db: db}
}

// AddReading appends one reading and sets its ID.
func (r *SQLiteReadingRepository) AddReading(ctx context.Context, rd *Reading) error {
	if rd.ChannelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if rd.Timestamp.IsZero() {
		rd.Timestamp = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO readings (channel_id, value, timestamp) VALUES (?, ?, ?)`,
		rd.ChannelID, rd.Value, formatTime(rd.Timestamp),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: %s", ErrUnknownChannel, rd.ChannelID)
		}
		return fmt.Errorf("inserting reading: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading insert id: %w", err)
	}
	rd.ID = id
	return nil
}

// LatestReading returns the newest reading of a channel.
func (r *SQLiteReadingRepository) LatestReading(ctx context.Context, channelID string) (*Reading, error) {
	var rd Reading
	var ts string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, channel_id, value, timestamp
		FROM readings
		WHERE channel_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`,
		channelID,
	).Scan(&rd.ID, &rd.ChannelID, &rd.Value, &ts)
	if err != nil {
		return nil, notFound(err, ErrNoReading)
	}

	if rd.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &rd, nil
}

// LatestReadings returns the newest reading per channel joined with channel
// and device metadata, ordered by device and channel number.
func (r *SQLiteReadingRepository) LatestReadings(ctx context.Context) ([]LatestReading, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.channel_id, r.value, r.timestamp,
		       c.name, c.channel_type, c.unit, d.id, d.name
		FROM readings r
		JOIN (
			SELECT channel_id, MAX(id) AS max_id
			FROM readings
			GROUP BY channel_id
		) latest ON latest.max_id = r.id
		JOIN channels c ON c.id = r.channel_id
		JOIN devices d ON d.id = c.device_id
		ORDER BY d.name, c.channel_num`)
	if err != nil {
		return nil, fmt.Errorf("querying latest readings: %w", err)
	}
	defer rows.Close()

	var out []LatestReading
	for rows.Next() {
		var lr LatestReading
		var ts string
		if err := rows.Scan(
			&lr.ID, &lr.ChannelID, &lr.Value, &ts,
			&lr.ChannelName, &lr.ChannelType, &lr.Unit, &lr.DeviceID, &lr.DeviceName,
		); err != nil {
			return nil, fmt.Errorf("scanning latest reading: %w", err)
		}
		if lr.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		out = append(out, lr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating latest readings: %w", err)
	}
	return out, nil
}

// PruneReadings deletes readings older than before.
func (r *SQLiteReadingRepository) PruneReadings(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM readings WHERE timestamp < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("pruning readings: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
