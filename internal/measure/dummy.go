package measure

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
)

// Dummy simulates a resonator frequency sweep without touching hardware.
// Each run writes a data file under <DataDir>/<pid>/ and fits the simulated
// dip, so downstream consumers see the same shapes a real run produces.
type Dummy struct {
	DataDir string

	// Points per sweep; zero means the default grid.
	Points int
}

const dummyDefaultPoints = 201

// Sweep shape constants. Frequencies are in MHz around a fictitious
// readout resonator.
const (
	dummyFreqStart  = 5990.0
	dummyFreqStop   = 6010.0
	dummyCenter     = 6000.0
	dummyWidth      = 1.5
	dummyDepth      = 0.8
	dummyNoiseScale = 0.02
)

var _ Runner = (*Dummy)(nil)

// StandardTest runs one simulated test. An empty pid gets a generated one.
func (d *Dummy) StandardTest(ctx context.Context, t TestType, pid string) (Result, error) {
	if pid == "" {
		pid = NewPID()
	}
	switch t {
	case TestResonatorSpec:
		return d.resonatorSpec(ctx, pid)
	}
	return Result{}, fmt.Errorf("%w: %v", ErrUnknownTestType, t)
}

func (d *Dummy) resonatorSpec(ctx context.Context, pid string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	n := d.Points
	if n <= 0 {
		n = dummyDefaultPoints
	}

	freqs := make([]float64, n)
	mags := make([]float64, n)
	step := (dummyFreqStop - dummyFreqStart) / float64(n-1)
	for i := 0; i < n; i++ {
		f := dummyFreqStart + float64(i)*step
		freqs[i] = f
		mags[i] = lorentzianDip(f, dummyCenter, dummyWidth, dummyDepth) + rand.NormFloat64()*dummyNoiseScale
	}

	dir := filepath.Join(d.DataDir, pid)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create data dir: %w", err)
	}
	dataFile := filepath.Join(dir, "data.csv")
	if err := writeSweep(dataFile, freqs, mags); err != nil {
		return Result{}, err
	}

	fit := fitDip(freqs, mags)
	snr := estimateSNR(freqs, mags, fit)
	slog.Info("resonator spec completed", "pid", pid, "f0", fit["f0"], "snr", snr)

	return Result{
		Status:        true,
		DataPath:      dir,
		PID:           pid,
		SNR:           snr,
		FitParameters: fit,
	}, nil
}

// lorentzianDip is unity baseline minus a Lorentzian of the given depth.
func lorentzianDip(f, f0, width, depth float64) float64 {
	x := (f - f0) / (width / 2)
	return 1 - depth/(1+x*x)
}

func writeSweep(path string, freqs, mags []float64) error {
	f, err := os.Create(path) // #nosec G304 path is under the configured data dir
	if err != nil {
		return fmt.Errorf("create data file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"freq_mhz", "magnitude"}); err != nil {
		return err
	}
	for i := range freqs {
		rec := []string{
			strconv.FormatFloat(freqs[i], 'f', 6, 64),
			strconv.FormatFloat(mags[i], 'f', 6, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// fitDip estimates the three dip parameters without a full least-squares
// pass: center from the minimum, depth against the edge baseline, width
// from the half-depth crossings.
func fitDip(freqs, mags []float64) map[string]float64 {
	minIdx := 0
	for i := range mags {
		if mags[i] < mags[minIdx] {
			minIdx = i
		}
	}
	baseline := (mags[0] + mags[len(mags)-1]) / 2
	depth := baseline - mags[minIdx]
	half := baseline - depth/2

	lo, hi := freqs[0], freqs[len(freqs)-1]
	for i := minIdx; i >= 0; i-- {
		if mags[i] >= half {
			lo = freqs[i]
			break
		}
	}
	for i := minIdx; i < len(mags); i++ {
		if mags[i] >= half {
			hi = freqs[i]
			break
		}
	}

	return map[string]float64{
		"f0":    freqs[minIdx],
		"width": hi - lo,
		"depth": depth,
	}
}

// estimateSNR compares dip depth against the noise on the off-resonance
// tail (the first tenth of the sweep).
func estimateSNR(freqs, mags []float64, fit map[string]float64) float64 {
	tail := len(freqs) / 10
	if tail < 2 {
		tail = 2
	}
	var mean float64
	for _, m := range mags[:tail] {
		mean += m
	}
	mean /= float64(tail)
	var variance float64
	for _, m := range mags[:tail] {
		variance += (m - mean) * (m - mean)
	}
	sigma := math.Sqrt(variance / float64(tail-1))
	if sigma == 0 {
		return 0
	}
	return fit["depth"] / sigma
}
