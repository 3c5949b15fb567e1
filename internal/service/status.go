package service

import "time"

// State distinguishes a service that has never been spawned from one that
// ran and exited; both are "not running" but mean different things to an
// operator.
type State string

const (
	StateNeverStarted State = "never_started"
	StateRunning      State = "running"
	StateExited       State = "exited"
)

// RemoteStatus is the two-dimensional liveness of a remote service: the
// local ssh transport and the process on the remote host are observed
// independently, so all four combinations are reportable.
type RemoteStatus struct {
	Transport bool `json:"transport"`
	Remote    bool `json:"remote"`
}

// Status is a point-in-time snapshot of one service.
type Status struct {
	Name      string        `json:"name"`
	Kind      Kind          `json:"kind"`
	State     State         `json:"state"`
	Running   bool          `json:"running"`
	PID       int           `json:"pid,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	StoppedAt time.Time     `json:"stopped_at,omitempty"`
	ExitError string        `json:"exit_error,omitempty"`
	Remote    *RemoteStatus `json:"remote,omitempty"`
}
