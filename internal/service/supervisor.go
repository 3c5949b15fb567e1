package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Event is one lifecycle transition, fanned out to the audit store and
// history sinks when a recorder is attached.
type Event struct {
	Time    time.Time `json:"time"`
	Service string    `json:"service"`
	Action  string    `json:"action"`
	Detail  string    `json:"detail,omitempty"`
}

// Recorder receives lifecycle events. Implementations must not block the
// supervisor; slow sinks buffer on their side.
type Recorder func(ctx context.Context, ev Event)

type entry struct {
	// mu serializes lifecycle operations for this one service. It is held
	// across the probe and the spawn, so two concurrent starts cannot both
	// observe "not running" and double-spawn.
	mu  sync.Mutex
	svc Service
}

// Supervisor owns the fixed set of services named in the configuration.
// Registration happens once at boot; there is no dynamic add or remove.
type Supervisor struct {
	mu      sync.RWMutex
	entries map[string]*entry
	rec     Recorder
}

func NewSupervisor() *Supervisor {
	return &Supervisor{entries: make(map[string]*entry)}
}

// SetRecorder attaches the lifecycle event sink. Safe to leave unset.
func (s *Supervisor) SetRecorder(r Recorder) {
	s.mu.Lock()
	s.rec = r
	s.mu.Unlock()
}

// Register adds a service built from spec. Unknown kinds and duplicate
// names are configuration errors.
func (s *Supervisor) Register(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("register: service name is required")
	}
	var svc Service
	switch spec.Kind {
	case KindLocal, "":
		svc = newLocalService(spec)
	case KindRemote:
		if spec.Remote.Host == "" || spec.Remote.Pattern == "" {
			return fmt.Errorf("register %s: remote services need host and pattern", spec.Name)
		}
		svc = newRemoteService(spec)
	default:
		return fmt.Errorf("register %s: unknown kind %q", spec.Name, spec.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[spec.Name]; exists {
		return fmt.Errorf("register: duplicate service %q", spec.Name)
	}
	s.entries[spec.Name] = &entry{svc: svc}
	return nil
}

func (s *Supervisor) lookup(name string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return e, nil
}

// Names returns the registered service names, sorted.
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start starts one service. Returns ErrAlreadyRunning when the probe finds
// it live, ErrUnknownService for unregistered names.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.svc.Status(ctx).Running {
		return ErrAlreadyRunning
	}
	if err := e.svc.Start(ctx); err != nil {
		return err
	}
	s.record(ctx, Event{Time: time.Now(), Service: name, Action: "start"})
	return nil
}

// Stop stops one service. Returns ErrNotRunning when nothing is live.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.svc.Stop(ctx); err != nil {
		return err
	}
	s.record(ctx, Event{Time: time.Now(), Service: name, Action: "stop"})
	return nil
}

// Status reports one service.
func (s *Supervisor) Status(ctx context.Context, name string) (Status, error) {
	e, err := s.lookup(name)
	if err != nil {
		return Status{}, err
	}
	return e.svc.Status(ctx), nil
}

// StatusAll reports every registered service, sorted by name.
func (s *Supervisor) StatusAll(ctx context.Context) []Status {
	names := s.Names()
	out := make([]Status, 0, len(names))
	for _, n := range names {
		if st, err := s.Status(ctx, n); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// StartAll starts every registered service in name order, collecting
// failures instead of aborting; ErrAlreadyRunning is not a failure.
func (s *Supervisor) StartAll(ctx context.Context) error {
	var firstErr error
	for _, n := range s.Names() {
		err := s.Start(ctx, n)
		if err == nil || errors.Is(err, ErrAlreadyRunning) {
			continue
		}
		slog.Error("start failed", "name", n, "err", err)
		if firstErr == nil {
			firstErr = fmt.Errorf("start %s: %w", n, err)
		}
	}
	return firstErr
}

// Shutdown stops everything still running and then runs every service's
// Cleanup. Individual failures are logged and do not halt the sweep.
func (s *Supervisor) Shutdown(ctx context.Context) {
	for _, n := range s.Names() {
		if err := s.Stop(ctx, n); err != nil && !errors.Is(err, ErrNotRunning) {
			slog.Warn("shutdown stop failed", "name", n, "err", err)
		}
	}
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()
	for _, e := range entries {
		e.svc.Cleanup(ctx)
	}
}

func (s *Supervisor) record(ctx context.Context, ev Event) {
	s.mu.RLock()
	rec := s.rec
	s.mu.RUnlock()
	if rec != nil {
		rec(ctx, ev)
	}
}
