// Package store keeps the station's sensor history in a local sqlite file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
)

// ErrEmpty is returned by Latest before anything was recorded.
var ErrEmpty = errors.New("no readings recorded yet")

// TimeSeriesStore is what the recorders and the station endpoints need.
type TimeSeriesStore interface {
	RecordInterval(ctx context.Context, snap sensor.Snapshot) error
	RecordTrigger(ctx context.Context, at time.Time, field string, value float64) error
	Latest(ctx context.Context) (sensor.Snapshot, error)
	IntervalRows(ctx context.Context, limit int) ([]sensor.Snapshot, error)
	Count(ctx context.Context) (int64, error)
	SizeBytes() (int64, error)
	Backup(ctx context.Context, dst string) error
}

// SQLite is a TimeSeriesStore backed by one database file.
type SQLite struct {
	conn *sql.DB
	path string
}

// Open creates the database and its schema if needed.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory failed: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	// sqlite serialises writers anyway.
	conn.SetMaxOpenConns(1)

	s := &SQLite{conn: conn, path: path}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema failed: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS interval_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at INTEGER NOT NULL,
		field TEXT NOT NULL,
		value REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interval_taken_at ON interval_readings(taken_at);

	CREATE TABLE IF NOT EXISTS trigger_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at INTEGER NOT NULL,
		field TEXT NOT NULL,
		value REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trigger_field ON trigger_readings(field, taken_at);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Path is the database file.
func (s *SQLite) Path() string { return s.path }

// RecordInterval stores every value of snap under the same timestamp.
func (s *SQLite) RecordInterval(ctx context.Context, snap sensor.Snapshot) error {
	if snap.IsZero() {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin interval record: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO interval_readings (taken_at, field, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare interval record: %w", err)
	}
	defer stmt.Close()

	at := snap.Time.UnixMilli()
	for _, field := range snap.Fields() {
		if _, err := stmt.ExecContext(ctx, at, field, snap.Values[field]); err != nil {
			return fmt.Errorf("insert %s: %w", field, err)
		}
	}
	return tx.Commit()
}

// RecordTrigger stores one value that moved past its variance.
func (s *SQLite) RecordTrigger(ctx context.Context, at time.Time, field string, value float64) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO trigger_readings (taken_at, field, value) VALUES (?, ?, ?)`,
		at.UnixMilli(), field, value)
	if err != nil {
		return fmt.Errorf("insert trigger %s: %w", field, err)
	}
	return nil
}

// Latest returns the most recent interval snapshot.
func (s *SQLite) Latest(ctx context.Context) (sensor.Snapshot, error) {
	rows, err := s.IntervalRows(ctx, 1)
	if err != nil {
		return sensor.Snapshot{}, err
	}
	if len(rows) == 0 {
		return sensor.Snapshot{}, ErrEmpty
	}
	return rows[0], nil
}

// IntervalRows returns up to limit interval snapshots, newest first.
func (s *SQLite) IntervalRows(ctx context.Context, limit int) ([]sensor.Snapshot, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT taken_at, field, value FROM interval_readings
		WHERE taken_at IN (
			SELECT DISTINCT taken_at FROM interval_readings ORDER BY taken_at DESC LIMIT ?
		)
		ORDER BY taken_at DESC, field`, limit)
	if err != nil {
		return nil, fmt.Errorf("query interval rows: %w", err)
	}
	defer rows.Close()

	var out []sensor.Snapshot
	for rows.Next() {
		var (
			at    int64
			field string
			value float64
		)
		if err := rows.Scan(&at, &field, &value); err != nil {
			return nil, fmt.Errorf("scan interval row: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].Time.UnixMilli() != at {
			out = append(out, sensor.Snapshot{Time: time.UnixMilli(at).UTC(), Values: map[string]float64{}})
		}
		out[len(out)-1].Values[field] = value
	}
	return out, rows.Err()
}

// Count is the number of stored values, interval and trigger.
func (s *SQLite) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM interval_readings) + (SELECT COUNT(*) FROM trigger_readings)`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return n, nil
}

// SizeBytes is the on-disk size of the database including its WAL.
func (s *SQLite) SizeBytes() (int64, error) {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		fi, err := os.Stat(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += fi.Size()
	}
	return total, nil
}

// Backup writes a consistent copy of the database to dst, replacing it.
func (s *SQLite) Backup(ctx context.Context, dst string) error {
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove old backup: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, `VACUUM INTO ?`, dst); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dst, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

var _ TimeSeriesStore = (*SQLite)(nil)
