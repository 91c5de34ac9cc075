package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// sqliteTime matches the created_at default in the state_history migration.
const sqliteTime = "2006-01-02T15:04:05Z"

var errNoDeviceID = errors.New("state history: device id is required")

// SQLiteStateHistoryRepository keeps state history in the state_history
// table. Values are stored as JSON text.
type SQLiteStateHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteStateHistoryRepository wraps an open, migrated database.
func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{db: db}
}

// RecordStateChange stores one transition. An empty Source means report.
func (r *SQLiteStateHistoryRepository) RecordStateChange(ctx context.Context, e StateHistoryEntry) error {
	switch {
	case e.DeviceID == "":
		return errNoDeviceID
	case e.Field == "":
		return errors.New("state history: field is required")
	}
	if e.Source == "" {
		e.Source = StateHistorySourceReport
	}

	value, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("encoding %s value: %w", e.Field, err)
	}

	const q = `INSERT INTO state_history (device_id, field, channel, value, source) VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, e.DeviceID, e.Field, e.Channel, string(value), e.Source); err != nil {
		return fmt.Errorf("recording %s/%s: %w", e.DeviceID, e.Field, err)
	}
	return nil
}

// GetHistory returns the newest matching transitions of a device. Filters
// apply before the limit.
func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, deviceID string, hq HistoryQuery) ([]StateHistoryEntry, error) {
	if deviceID == "" {
		return nil, errNoDeviceID
	}

	where := []string{"device_id = ?"}
	args := []any{deviceID}
	if hq.Field != "" {
		where = append(where, "field = ?")
		args = append(args, hq.Field)
	}
	if hq.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, strings.ToLower(hq.Channel))
	}
	if !hq.Since.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, hq.Since.UTC().Format(sqliteTime))
	}
	args = append(args, hq.limit())

	q := `SELECT id, device_id, field, channel, value, source, created_at FROM state_history WHERE ` +
		strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := []StateHistoryEntry{}
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanHistoryEntry(rows *sql.Rows) (StateHistoryEntry, error) {
	var (
		e       StateHistoryEntry
		value   string
		created string
	)
	if err := rows.Scan(&e.ID, &e.DeviceID, &e.Field, &e.Channel, &value, &e.Source, &created); err != nil {
		return e, fmt.Errorf("scanning state history: %w", err)
	}
	if err := json.Unmarshal([]byte(value), &e.Value); err != nil {
		return e, fmt.Errorf("decoding history %d value: %w", e.ID, err)
	}
	ts, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return e, fmt.Errorf("history %d created_at: %w", e.ID, err)
	}
	e.CreatedAt = ts.UTC()
	return e, nil
}

// PruneHistory deletes entries older than olderThan and returns how many
// went.
func (r *SQLiteStateHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("state history: retention %s must be positive", olderThan)
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(sqliteTime)
	res, err := r.db.ExecContext(ctx, `DELETE FROM state_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	return res.RowsAffected()
}
