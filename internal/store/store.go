// Package store persists the audit trail: service lifecycle transitions
// and certificate issuance. It answers "who did what, when" after the
// fact; nothing in the control path reads it back at runtime.
package store

import (
	"context"
	"time"
)

// Event is one recorded service lifecycle transition.
type Event struct {
	ID        int64     `json:"id"`
	Time      time.Time `json:"time"`
	Service   string    `json:"service"`
	Action    string    `json:"action"`
	Principal string    `json:"principal"`
	Detail    string    `json:"detail,omitempty"`
}

// IssuedCert is one recorded certificate issuance.
type IssuedCert struct {
	ID         int64     `json:"id"`
	IssuedAt   time.Time `json:"issued_at"`
	OperatorID string    `json:"operator_id"`
	Serial     string    `json:"serial"`
	NotAfter   time.Time `json:"not_after"`
}

// Store is the audit backend. Implementations are sqlite (default) and
// postgres.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordServiceEvent(ctx context.Context, ev Event) error
	RecordIssuedCert(ctx context.Context, ic IssuedCert) error
	ServiceEvents(ctx context.Context, service string, limit int) ([]Event, error)
	IssuedCerts(ctx context.Context, operatorID string, limit int) ([]IssuedCert, error)
	PurgeEventsBefore(ctx context.Context, t time.Time) (int64, error)
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Type string `json:"type" mapstructure:"type"` // "sqlite" or "postgres"
	// DSN is the sqlite file path (":memory:" allowed) or the postgres DSN.
	DSN string `json:"dsn" mapstructure:"dsn"`
}
