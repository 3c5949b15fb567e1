package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/hwman/internal/store"
)

// DB implements store.Store on SQLite (modernc.org/sqlite driver, CGO-free).
// The DSN is a filesystem path; ":memory:" gives an in-memory database.
type DB struct {
	db *sql.DB
}

func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TIMESTAMP NOT NULL,
			service TEXT NOT NULL,
			action TEXT NOT NULL,
			principal TEXT NOT NULL,
			detail TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_events_service ON service_events(service);`,
		`CREATE TABLE IF NOT EXISTS issued_certs(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			issued_at TIMESTAMP NOT NULL,
			operator_id TEXT NOT NULL,
			serial TEXT NOT NULL,
			not_after TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_issued_certs_operator ON issued_certs(operator_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) RecordServiceEvent(ctx context.Context, ev store.Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_events(occurred_at, service, action, principal, detail)
		VALUES(?, ?, ?, ?, ?);`,
		ev.Time.UTC(), ev.Service, ev.Action, ev.Principal, ev.Detail)
	return err
}

func (s *DB) RecordIssuedCert(ctx context.Context, ic store.IssuedCert) error {
	if ic.IssuedAt.IsZero() {
		ic.IssuedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issued_certs(issued_at, operator_id, serial, not_after)
		VALUES(?, ?, ?, ?);`,
		ic.IssuedAt.UTC(), ic.OperatorID, ic.Serial, ic.NotAfter.UTC())
	return err
}

func (s *DB) ServiceEvents(ctx context.Context, service string, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, service, action, principal, detail
		FROM service_events
		WHERE service=?
		ORDER BY occurred_at DESC
		LIMIT ?;`, service, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

func (s *DB) IssuedCerts(ctx context.Context, operatorID string, limit int) ([]store.IssuedCert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issued_at, operator_id, serial, not_after
		FROM issued_certs
		WHERE operator_id=?
		ORDER BY issued_at DESC
		LIMIT ?;`, operatorID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanIssued(rows)
}

func (s *DB) PurgeEventsBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM service_events WHERE occurred_at < ?;`, t.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]store.Event, error) {
	out := make([]store.Event, 0)
	for rows.Next() {
		var ev store.Event
		var detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Time, &ev.Service, &ev.Action, &ev.Principal, &detail); err != nil {
			return nil, err
		}
		ev.Detail = detail.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanIssued(rows *sql.Rows) ([]store.IssuedCert, error) {
	out := make([]store.IssuedCert, 0)
	for rows.Next() {
		var ic store.IssuedCert
		if err := rows.Scan(&ic.ID, &ic.IssuedAt, &ic.OperatorID, &ic.Serial, &ic.NotAfter); err != nil {
			return nil, err
		}
		out = append(out, ic)
	}
	return out, rows.Err()
}
