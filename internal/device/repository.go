package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists devices.
type Repository interface {
	// GetByID returns ErrDeviceNotFound for an unknown id.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List returns every device ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Upsert inserts a device, or refreshes host, name, version and
	// availability of a known one. FirstSeen and State are never
	// overwritten.
	Upsert(ctx context.Context, device *Device) error

	Delete(ctx context.Context, id string) error

	// UpdateState merges a partial state; nil values remove keys.
	UpdateState(ctx context.Context, id string, state State) error

	UpdateAvailability(ctx context.Context, id string, available bool, lastSeen time.Time) error
}

// SQLiteRepository stores devices in the devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, host, name, manufacturer, model, version, available,
	state, state_updated_at, first_seen, last_seen, created_at, updated_at`

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrDeviceNotFound
	case err != nil:
		return nil, fmt.Errorf("loading device %s: %w", id, err)
	}
	return d, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("listing devices: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

func (r *SQLiteRepository) Upsert(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}

	now := time.Now().UTC()
	if d.FirstSeen.IsZero() {
		d.FirstSeen = now
	}
	if d.LastSeen.IsZero() {
		d.LastSeen = now
	}
	if d.Manufacturer == "" {
		d.Manufacturer = DefaultManufacturer
	}
	if d.Model == "" {
		d.Model = DefaultModel
	}
	if d.State == nil {
		d.State = State{}
	}
	state, err := json.Marshal(d.State)
	if err != nil {
		return fmt.Errorf("encoding state of %s: %w", d.ID, err)
	}

	const q = `INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			host       = excluded.host,
			name       = excluded.name,
			version    = COALESCE(excluded.version, devices.version),
			available  = excluded.available,
			last_seen  = excluded.last_seen,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, q,
		d.ID, d.Host, d.Name, d.Manufacturer, d.Model, optionalText(d.Version), d.Available,
		string(state), textTime(d.FirstSeen), textTime(d.LastSeen), textTime(now), textTime(now),
	)
	if err != nil {
		return fmt.Errorf("saving device %s: %w", d.ID, err)
	}

	d.UpdatedAt = now
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "deleting device "+id, `DELETE FROM devices WHERE id = ?`, id)
}

// UpdateState relies on json_patch: keys absent from the patch are kept and
// null values delete.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State) error {
	if err := ValidateState(state); err != nil {
		return err
	}
	patch, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state of %s: %w", id, err)
	}

	now := textTime(time.Now())
	return r.execOne(ctx, "updating state of "+id,
		`UPDATE devices SET state = json_patch(COALESCE(state, '{}'), ?), state_updated_at = ?, updated_at = ? WHERE id = ?`,
		string(patch), now, now, id)
}

func (r *SQLiteRepository) UpdateAvailability(ctx context.Context, id string, available bool, lastSeen time.Time) error {
	return r.execOne(ctx, "updating availability of "+id,
		`UPDATE devices SET available = ?, last_seen = ?, updated_at = ? WHERE id = ?`,
		available, textTime(lastSeen), textTime(time.Now()), id)
}

// execOne runs a statement that must touch exactly one device.
func (r *SQLiteRepository) execOne(ctx context.Context, what, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var d Device
	var version sql.NullString
	var state string
	var stateUpdated, firstSeen, lastSeen, created, upd sqlTime
	err := s.Scan(&d.ID, &d.Host, &d.Name, &d.Manufacturer, &d.Model, &version, &d.Available,
		&state, &stateUpdated, &firstSeen, &lastSeen, &created, &upd)
	if err != nil {
		return nil, err
	}

	if version.Valid {
		d.Version = &version.String
	}
	if err := json.Unmarshal([]byte(state), &d.State); err != nil {
		return nil, fmt.Errorf("decoding state of %s: %w", d.ID, err)
	}
	if d.State == nil {
		d.State = State{}
	}
	if stateUpdated.Valid {
		t := stateUpdated.Time
		d.StateUpdatedAt = &t
	}
	d.FirstSeen, d.LastSeen = firstSeen.Time, lastSeen.Time
	d.CreatedAt, d.UpdatedAt = created.Time, upd.Time
	return &d, nil
}

// textTime is the RFC3339 UTC text every timestamp column holds.
func textTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func optionalText(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// sqlTime scans a nullable RFC3339 text column.
type sqlTime struct {
	Time  time.Time
	Valid bool
}

func (t *sqlTime) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case nil:
		*t = sqlTime{}
		return nil
	case time.Time:
		*t = sqlTime{Time: v.UTC(), Valid: true}
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("timestamp column holds %T", src)
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	*t = sqlTime{Time: parsed.UTC(), Valid: true}
	return nil
}
