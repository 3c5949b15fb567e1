package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hwman",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hwman",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of service stops (graceful or kill).",
		}, []string{"name"},
	)
	serviceKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hwman",
			Subsystem: "service",
			Name:      "kills_total",
			Help:      "Number of SIGKILL escalations after a graceful stop timed out.",
		}, []string{"name"},
	)
	remoteProbeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hwman",
			Subsystem: "service",
			Name:      "remote_probe_failures_total",
			Help:      "Number of failed remote liveness probes over the control connection.",
		}, []string{"name"},
	)
	serviceRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hwman",
			Subsystem: "service",
			Name:      "running",
			Help:      "Whether the service is currently observed running (1) or not (0).",
		}, []string{"name"},
	)

	certsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hwman",
			Subsystem: "ca",
			Name:      "certificates_issued_total",
			Help:      "Number of certificates issued, by kind (root, server, client).",
		}, []string{"kind"},
	)

	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hwman",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Control API requests by operation, principal and result.",
		}, []string{"op", "principal", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStops, serviceKills, remoteProbeFailures, serviceRunning, certsIssued, rpcRequests}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer; the caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Recording helpers below no-op until Register has been called, so library
// embedders that never opt into metrics pay nothing.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func IncKill(name string) {
	if regOK.Load() {
		serviceKills.WithLabelValues(name).Inc()
	}
}

func IncRemoteProbeFailure(name string) {
	if regOK.Load() {
		remoteProbeFailures.WithLabelValues(name).Inc()
	}
}

func SetRunning(name string, running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1.0
		}
		serviceRunning.WithLabelValues(name).Set(v)
	}
}

func IncCertIssued(kind string) {
	if regOK.Load() {
		certsIssued.WithLabelValues(kind).Inc()
	}
}

func IncRPCRequest(op, principal, result string) {
	if regOK.Load() {
		rpcRequests.WithLabelValues(op, principal, result).Inc()
	}
}
