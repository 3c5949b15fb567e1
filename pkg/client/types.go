package client

import "time"

// ServiceStatus mirrors one entry of the server's /services response.
type ServiceStatus struct {
	Name      string        `json:"name"`
	Kind      string        `json:"kind"`
	State     string        `json:"state"`
	Running   bool          `json:"running"`
	PID       int           `json:"pid,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	StoppedAt time.Time     `json:"stopped_at,omitempty"`
	ExitError string        `json:"exit_error,omitempty"`
	Remote    *RemoteStatus `json:"remote,omitempty"`
}

// RemoteStatus reports the ssh transport and the remote process separately.
type RemoteStatus struct {
	Transport bool `json:"transport"`
	Remote    bool `json:"remote"`
}

// ServiceResult is the triple every service operation answers with.
type ServiceResult struct {
	Message   string `json:"message"`
	Success   bool   `json:"success"`
	IsRunning bool   `json:"is_running"`
}

// Health is the aggregate over all supervised services.
type Health struct {
	Healthy  bool            `json:"healthy"`
	Services []ServiceStatus `json:"services"`
}

// Job describes a measurement job. Type names a standard test; an empty ID
// lets the server assign one.
type Job struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type standardTestRequest struct {
	TestType string `json:"test_type"`
	PID      string `json:"pid"`
}

// TestResult is a completed measurement summary.
type TestResult struct {
	Status        bool               `json:"status"`
	DataPath      string             `json:"data_path"`
	PID           string             `json:"pid"`
	SNR           float64            `json:"snr"`
	FitParameters map[string]float64 `json:"fit_parameters"`
}
