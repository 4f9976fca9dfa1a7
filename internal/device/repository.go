package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/relaybus-core/internal/infrastructure/database"
)

// timeLayout is fixed-width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Repository defines the persistence operations for the device graph.
type Repository interface {
	// ListGateways returns every gateway ordered by name.
	ListGateways(ctx context.Context) ([]Gateway, error)

	// CreateGateway inserts a gateway.
	CreateGateway(ctx context.Context, g *Gateway) error

	// UpdateGatewayOnline records gateway reachability.
	UpdateGatewayOnline(ctx context.Context, id string, online bool, seenAt time.Time) error

	// ListDevices returns every device with its channels.
	ListDevices(ctx context.Context) ([]Device, error)

	// GetDevice returns one device with its channels.
	GetDevice(ctx context.Context, id string) (*Device, error)

	// CreateDevice inserts a device and its channels in one transaction.
	CreateDevice(ctx context.Context, d *Device) error

	// GetChannel returns one channel.
	GetChannel(ctx context.Context, id string) (*Channel, error)

	// UpdateDeviceOnline sets the online flag. last_seen is only advanced
	// when the device answered.
	UpdateDeviceOnline(ctx context.Context, id string, online bool, seenAt time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite device repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const gatewayColumns = `id, name, host, port, protocol, enabled, online, last_seen, created_at, updated_at`

const deviceColumns = `id, gateway_id, name, modbus_address, device_type, model, enabled, online,
	last_seen, created_at, updated_at`

const channelColumns = `id, device_id, channel_num, channel_type, name, unit, register, scale,
	enabled, created_at, updated_at`

// ListGateways returns every gateway ordered by name.
func (r *SQLiteRepository) ListGateways(ctx context.Context) ([]Gateway, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+gatewayColumns+` FROM gateways ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying gateways: %w", err)
	}
	defer rows.Close()

	var gateways []Gateway
	for rows.Next() {
		g, err := scanGateway(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning gateway: %w", err)
		}
		gateways = append(gateways, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating gateways: %w", err)
	}
	return gateways, nil
}

// CreateGateway inserts a gateway.
func (r *SQLiteRepository) CreateGateway(ctx context.Context, g *Gateway) error {
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gateways (`+gatewayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.Host, g.Port, string(g.Protocol),
		boolToInt(g.Enabled), boolToInt(g.Online), nullableTime(g.LastSeen),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: gateway %s", ErrExists, g.ID)
		}
		return fmt.Errorf("inserting gateway: %w", err)
	}
	return nil
}

// UpdateGatewayOnline records gateway reachability.
func (r *SQLiteRepository) UpdateGatewayOnline(ctx context.Context, id string, online bool, seenAt time.Time) error {
	return r.updateOnline(ctx, "gateways", id, online, seenAt, ErrGatewayNotFound)
}

// ListDevices returns every device with its channels, ordered by gateway
// and bus address.
func (r *SQLiteRepository) ListDevices(ctx context.Context) ([]Device, error) {
	devices, err := r.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices ORDER BY gateway_id, modbus_address`)
	if err != nil {
		return nil, err
	}

	// The pool holds one connection, so channels are loaded only after the
	// device rows are closed.
	channels, err := r.queryChannels(ctx,
		`SELECT `+channelColumns+` FROM channels ORDER BY device_id, channel_num`)
	if err != nil {
		return nil, err
	}

	byDevice := make(map[string][]Channel, len(devices))
	for _, ch := range channels {
		byDevice[ch.DeviceID] = append(byDevice[ch.DeviceID], ch)
	}
	for i := range devices {
		devices[i].Channels = byDevice[devices[i].ID]
	}
	return devices, nil
}

// GetDevice returns one device with its channels.
func (r *SQLiteRepository) GetDevice(ctx context.Context, id string) (*Device, error) {
	devices, err := r.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrDeviceNotFound
	}

	d := &devices[0]
	d.Channels, err = r.queryChannels(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE device_id = ? ORDER BY channel_num`, id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// CreateDevice inserts a device and its channels in one transaction.
func (r *SQLiteRepository) CreateDevice(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO devices (`+deviceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.GatewayID, d.Name, d.ModbusAddress, string(d.Type), d.Model,
			boolToInt(d.Enabled), boolToInt(d.Online), nullableTime(d.LastSeen),
			formatTime(now), formatTime(now),
		)
		if err != nil {
			return classifyInsertError(err, "device", d.ID)
		}

		for i := range d.Channels {
			ch := &d.Channels[i]
			ch.DeviceID = d.ID
			ch.CreatedAt = now
			ch.UpdatedAt = now
			_, err := tx.ExecContext(ctx, `
				INSERT INTO channels (`+channelColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				ch.ID, ch.DeviceID, ch.Number, ch.Type, ch.Name, ch.Unit,
				nullableInt(ch.Register), nullableFloat(ch.Scale), boolToInt(ch.Enabled),
				formatTime(now), formatTime(now),
			)
			if err != nil {
				return classifyInsertError(err, "channel", ch.ID)
			}
		}
		return nil
	})
	return err
}

// GetChannel returns one channel.
func (r *SQLiteRepository) GetChannel(ctx context.Context, id string) (*Channel, error) {
	channels, err := r.queryChannels(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
	return &channels[0], nil
}

// UpdateDeviceOnline sets the device online flag.
func (r *SQLiteRepository) UpdateDeviceOnline(ctx context.Context, id string, online bool, seenAt time.Time) error {
	return r.updateOnline(ctx, "devices", id, online, seenAt, ErrDeviceNotFound)
}

func (r *SQLiteRepository) updateOnline(ctx context.Context, table, id string, online bool, seenAt time.Time, missing error) error {
	var (
		result sql.Result
		err    error
	)
	if online {
		result, err = r.db.ExecContext(ctx,
			`UPDATE `+table+` SET online = 1, last_seen = ?, updated_at = ? WHERE id = ?`,
			formatTime(seenAt), formatTime(time.Now().UTC()), id)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE `+table+` SET online = 0, updated_at = ? WHERE id = ?`,
			formatTime(time.Now().UTC()), id)
	}
	if err != nil {
		return fmt.Errorf("updating %s online: %w", table, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

func (r *SQLiteRepository) queryChannels(ctx context.Context, query string, args ...any) ([]Channel, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		channels = append(channels, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channels: %w", err)
	}
	return channels, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGateway(scanner rowScanner) (*Gateway, error) {
	var g Gateway
	var protocol string
	var enabled, online int
	var lastSeen sql.NullString
	var createdAt, updatedAt string

	if err := scanner.Scan(
		&g.ID, &g.Name, &g.Host, &g.Port, &protocol,
		&enabled, &online, &lastSeen, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	g.Protocol = Protocol(protocol)
	g.Enabled = enabled != 0
	g.Online = online != 0
	g.LastSeen = parseNullableTime(lastSeen)

	var err error
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &g, nil
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var deviceType string
	var enabled, online int
	var lastSeen sql.NullString
	var createdAt, updatedAt string

	if err := scanner.Scan(
		&d.ID, &d.GatewayID, &d.Name, &d.ModbusAddress, &deviceType, &d.Model,
		&enabled, &online, &lastSeen, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	d.Type = DeviceType(deviceType)
	d.Enabled = enabled != 0
	d.Online = online != 0
	d.LastSeen = parseNullableTime(lastSeen)

	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
}

func scanChannel(scanner rowScanner) (*Channel, error) {
	var ch Channel
	var register sql.NullInt64
	var scale sql.NullFloat64
	var enabled int
	var createdAt, updatedAt string

	if err := scanner.Scan(
		&ch.ID, &ch.DeviceID, &ch.Number, &ch.Type, &ch.Name, &ch.Unit,
		&register, &scale, &enabled, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if register.Valid {
		v := int(register.Int64)
		ch.Register = &v
	}
	if scale.Valid {
		v := scale.Float64
		ch.Scale = &v
	}
	ch.Enabled = enabled != 0

	var err error
	if ch.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if ch.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &ch, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func classifyInsertError(err error, entity, id string) error {
	switch {
	case isUniqueConstraintError(err):
		return fmt.Errorf("%w: %s %s", ErrExists, entity, id)
	case isForeignKeyError(err):
		if entity == "device" {
			return fmt.Errorf("%w: referenced by device %s", ErrGatewayNotFound, id)
		}
		return fmt.Errorf("%w: referenced by %s %s", ErrDeviceNotFound, entity, id)
	}
	return fmt.Errorf("inserting %s: %w", entity, err)
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// notFound maps sql.ErrNoRows to the given sentinel.
func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}
