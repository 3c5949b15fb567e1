// Package measure is the boundary to the measurement side of the lab. The
// control plane only dispatches named standard tests; the instrument code
// behind a Runner stays out of this repo, with the dummy sweep standing in
// so the dispatch path is exercisable end to end.
package measure

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// TestType is the closed set of standard tests. Adding a member means
// extending every switch over it; the compiler flags the ones missed.
type TestType int

const (
	TestResonatorSpec TestType = iota
)

// ErrUnknownTestType marks a request for a test outside the closed set. The
// API maps it to a request-level failure rather than a measurement failure.
var ErrUnknownTestType = errors.New("unknown test type")

// ParseTestType maps the wire name to a TestType.
func ParseTestType(s string) (TestType, error) {
	switch s {
	case "resonator_spec":
		return TestResonatorSpec, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTestType, s)
	}
}

func (t TestType) String() string {
	switch t {
	case TestResonatorSpec:
		return "resonator_spec"
	}
	return fmt.Sprintf("TestType(%d)", int(t))
}

// Result summarizes one completed standard test.
type Result struct {
	Status        bool               `json:"status"`
	DataPath      string             `json:"data_path"`
	PID           string             `json:"pid"`
	SNR           float64            `json:"snr"`
	FitParameters map[string]float64 `json:"fit_parameters"`
}

// Runner executes standard tests. Implementations own the data directory
// layout under their configured root.
type Runner interface {
	StandardTest(ctx context.Context, t TestType, pid string) (Result, error)
}

// NewPID generates a measurement process id, the short-uuid form used in
// data directory names.
func NewPID() string {
	return uuid.NewString()[:8]
}
