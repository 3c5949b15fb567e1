package service

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by supervisor lifecycle operations. Callers
// branch on them with errors.Is; they are expected conditions, not faults.
var (
	ErrAlreadyRunning = errors.New("service already running")
	ErrNotRunning     = errors.New("service not running")
	ErrUnknownService = errors.New("unknown service")

	// ErrNotRegistered marks the transient "the service has not announced
	// itself yet" condition during connection establishment. RetryConnect
	// retries only this class.
	ErrNotRegistered = errors.New("service not registered yet")
)

// RemoteControlError wraps a failure of a control command sent over the ssh
// leg of a remote service. It marks the failure as remote-side so callers
// can report it without treating the local supervisor as broken.
type RemoteControlError struct {
	Service string
	Op      string
	Err     error
}

func (e *RemoteControlError) Error() string {
	return fmt.Sprintf("remote control %s on %s: %v", e.Op, e.Service, e.Err)
}

func (e *RemoteControlError) Unwrap() error { return e.Err }
