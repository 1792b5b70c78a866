// Package alerts persists classification alerts and fans out live updates
// to subscribers.
package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrAppend reports a failure to persist an alert. The classification
// result itself may still be valid when this is returned.
var ErrAppend = errors.New("append alert")

// Alert is one persisted classification event.
type Alert struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ThreatType string    `json:"threat_type"`
	Confidence float64   `json:"confidence"`
	SourceIP   string    `json:"source_ip"`
	Details    string    `json:"details"`
}

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   TEXT    NOT NULL,
	threat_type TEXT    NOT NULL,
	confidence  REAL    NOT NULL,
	source_ip   TEXT    NOT NULL,
	details     TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_threat_type ON alerts(threat_type);
`

// Store is an append-only alert log on SQLite. A single write connection
// keeps inserts serialized, so assigned ids are strictly increasing.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and if needed creates) the alert database at path.
// Use ":memory:" for an ephemeral store.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open alert store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init alert schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append persists one alert and returns its assigned id. A zero timestamp
// is filled with the current time. The row is durable once Append returns.
func (s *Store) Append(ctx context.Context, a Alert) (int64, error) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (timestamp, threat_type, confidence, source_ip, details)
		 VALUES (?, ?, ?, ?, ?)`,
		a.Timestamp.UTC().Format(time.RFC3339Nano),
		a.ThreatType, a.Confidence, a.SourceIP, a.Details)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAppend, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAppend, err)
	}
	return id, nil
}

// Count returns the number of persisted alerts.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}

// Recent returns up to limit alerts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, threat_type, confidence, source_ip, details
		 FROM alerts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var ts string
		if err := rows.Scan(&a.ID, &ts, &a.ThreatType, &a.Confidence, &a.SourceIP, &a.Details); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse alert timestamp: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
