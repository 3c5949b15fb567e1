package hwman

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/hwman/internal/ca"
	cfg "github.com/loykin/hwman/internal/config"
	"github.com/loykin/hwman/internal/measure"
	"github.com/loykin/hwman/internal/metrics"
	"github.com/loykin/hwman/internal/mtls"
	iapi "github.com/loykin/hwman/internal/server"
	"github.com/loykin/hwman/internal/service"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = service.Spec

type RemoteSpec = service.RemoteSpec

type Status = service.Status

type Health = service.Health

type Kind = service.Kind

const (
	KindLocal  = service.KindLocal
	KindRemote = service.KindRemote
)

// Supervisor is a thin facade over internal/service.Supervisor.
// It provides a stable public API for embedding.

type Supervisor struct{ inner *service.Supervisor }

func New() *Supervisor { return &Supervisor{inner: service.NewSupervisor()} }

func (s *Supervisor) Register(spec Spec) error { return s.inner.Register(spec) }
func (s *Supervisor) Start(ctx context.Context, name string) error {
	return s.inner.Start(ctx, name)
}
func (s *Supervisor) Stop(ctx context.Context, name string) error { return s.inner.Stop(ctx, name) }
func (s *Supervisor) Status(ctx context.Context, name string) (Status, error) {
	return s.inner.Status(ctx, name)
}
func (s *Supervisor) StatusAll(ctx context.Context) []Status { return s.inner.StatusAll(ctx) }
func (s *Supervisor) StartAll(ctx context.Context) error     { return s.inner.StartAll(ctx) }
func (s *Supervisor) Shutdown(ctx context.Context)           { s.inner.Shutdown(ctx) }
func (s *Supervisor) Names() []string                        { return s.inner.Names() }

// CheckHealth snapshots every supervised service and ANDs the running flags.
func (s *Supervisor) CheckHealth(ctx context.Context) Health {
	return service.CheckHealth(ctx, s.inner)
}

// CA facade

type CA = ca.Manager

type CertInfo = ca.Info

// NewCA opens (or creates) the certificate directory.
func NewCA(certDir string) (*CA, error) { return ca.New(certDir) }

// LoadCertInfo summarizes one PEM certificate.
func LoadCertInfo(path string) (CertInfo, error) { return ca.CertInfo(path) }

// TLS helpers

// ServerTLSConfig builds a config that requires CA-signed client certificates.
func ServerTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	return mtls.ServerTLSConfig(certFile, keyFile, caFile)
}

// ClientTLSConfig builds a config presenting one operator's certificate.
func ClientTLSConfig(caFile, certFile, keyFile, serverName string) (*tls.Config, error) {
	return mtls.ClientTLSConfig(caFile, certFile, keyFile, serverName)
}

// Measurement boundary

type TestResult = measure.Result

type TestRunner = measure.Runner

// NewDummyRunner returns the simulated sweep runner writing under dataDir.
func NewDummyRunner(dataDir string) TestRunner { return &measure.Dummy{DataDir: dataDir} }

// Config

type Config = cfg.FileConfig

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// HTTP embedding

// NewRouter returns an embeddable handler for the control-plane API.
func NewRouter(s *Supervisor, runner TestRunner, basePath string) http.Handler {
	return iapi.NewRouter(s.inner, runner, basePath).Handler()
}

// NewTLSServer starts the control-plane API on addr behind mutual TLS.
func NewTLSServer(addr string, tlsCfg *tls.Config, handler http.Handler) *http.Server {
	return iapi.NewServer(addr, tlsCfg, handler)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }
