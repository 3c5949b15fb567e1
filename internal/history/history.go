// Package history exports audit events to external analytics systems. The
// sinks are fire-and-forget from the control plane's point of view; a lost
// event never fails the operation that produced it.
package history

import (
	"context"
	"log/slog"
	"time"
)

// Kind discriminates the event payload.
type Kind string

const (
	KindServiceEvent Kind = "service_event"
	KindCertIssued   Kind = "cert_issued"
)

// Event is one exported audit record. Service fields are set for
// KindServiceEvent, operator fields for KindCertIssued.
type Event struct {
	Kind       Kind      `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`

	Service   string `json:"service,omitempty"`
	Action    string `json:"action,omitempty"`
	Principal string `json:"principal,omitempty"`
	Detail    string `json:"detail,omitempty"`

	Operator string `json:"operator,omitempty"`
	Serial   string `json:"serial,omitempty"`
}

// Sink is a destination for history events. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Fanout delivers to every sink, logging failures instead of propagating
// them; history export must never block or break a lifecycle operation.
type Fanout []Sink

func (f Fanout) Send(ctx context.Context, e Event) error {
	for _, s := range f {
		if err := s.Send(ctx, e); err != nil {
			slog.Warn("history sink send failed", "kind", e.Kind, "err", err)
		}
	}
	return nil
}
