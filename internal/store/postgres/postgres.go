package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/hwman/internal/store"
)

// DB implements store.Store on PostgreSQL via the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_events(
			id BIGSERIAL PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			service TEXT NOT NULL,
			action TEXT NOT NULL,
			principal TEXT NOT NULL,
			detail TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_events_service ON service_events(service);`,
		`CREATE TABLE IF NOT EXISTS issued_certs(
			id BIGSERIAL PRIMARY KEY,
			issued_at TIMESTAMPTZ NOT NULL,
			operator_id TEXT NOT NULL,
			serial TEXT NOT NULL,
			not_after TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_issued_certs_operator ON issued_certs(operator_id);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) RecordServiceEvent(ctx context.Context, ev store.Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_events(occurred_at, service, action, principal, detail)
		VALUES($1,$2,$3,$4,$5);`,
		ev.Time.UTC(), ev.Service, ev.Action, ev.Principal, ev.Detail)
	return err
}

func (p *DB) RecordIssuedCert(ctx context.Context, ic store.IssuedCert) error {
	if ic.IssuedAt.IsZero() {
		ic.IssuedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO issued_certs(issued_at, operator_id, serial, not_after)
		VALUES($1,$2,$3,$4);`,
		ic.IssuedAt.UTC(), ic.OperatorID, ic.Serial, ic.NotAfter.UTC())
	return err
}

func (p *DB) ServiceEvents(ctx context.Context, service string, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, occurred_at, service, action, principal, detail
		FROM service_events
		WHERE service=$1
		ORDER BY occurred_at DESC
		LIMIT $2;`, service, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func (p *DB) IssuedCerts(ctx context.Context, operatorID string, limit int) ([]store.IssuedCert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, issued_at, operator_id, serial, not_after
		FROM issued_certs
		WHERE operator_id=$1
		ORDER BY issued_at DESC
		LIMIT $2;`, operatorID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func (p *DB) PurgeEventsBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM service_events WHERE occurred_at < $1;`, t.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
