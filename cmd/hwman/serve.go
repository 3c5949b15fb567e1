package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/hwman/internal/ca"
	"github.com/loykin/hwman/internal/config"
	"github.com/loykin/hwman/internal/history"
	historyfactory "github.com/loykin/hwman/internal/history/factory"
	"github.com/loykin/hwman/internal/logger"
	"github.com/loykin/hwman/internal/measure"
	"github.com/loykin/hwman/internal/metrics"
	"github.com/loykin/hwman/internal/mtls"
	"github.com/loykin/hwman/internal/server"
	"github.com/loykin/hwman/internal/service"
	"github.com/loykin/hwman/internal/store"
	storefactory "github.com/loykin/hwman/internal/store/factory"
)

// createServeCommand creates the serve subcommand.
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the control-plane server",
		Long: `Run the control-plane server: ensure the CA material, start the
dependent services and serve the mutual-TLS API.

Examples:
  hwman serve --config=hwman.toml
  hwman serve hwman.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			if configPath == "" {
				return fmt.Errorf("config file required: use --config=hwman.toml or pass it as an argument")
			}
			return runServe(configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Setup(cfg.Server.LogLevel)
	ctx := context.Background()

	mgr, err := ca.New(cfg.Server.CertDir)
	if err != nil {
		return err
	}
	if err := mgr.EnsureRoot(); err != nil {
		return fmt.Errorf("ensure root CA: %w", err)
	}
	if err := mgr.EnsureServerCert(cfg.Server.Hostname); err != nil {
		return fmt.Errorf("ensure server certificate: %w", err)
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			slog.Warn("metrics registration failed", "error", err)
		}
	}

	st, err := storefactory.New(cfg.StoreCfg())
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	if st != nil {
		if err := st.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("audit store schema: %w", err)
		}
		defer func() { _ = st.Close() }()
	}

	sink, err := historyfactory.NewSinks(cfg.History.Sinks)
	if err != nil {
		return fmt.Errorf("history sinks: %w", err)
	}
	defer closeSink(sink)

	sup := service.NewSupervisor()
	for _, spec := range cfg.Specs() {
		if err := sup.Register(spec); err != nil {
			return err
		}
	}
	sup.SetRecorder(newRecorder(st, sink))

	if err := sup.StartAll(ctx); err != nil {
		slog.Warn("not all services started", "error", err)
	}
	service.LogHealth(ctx, sup)

	tlsCfg, err := mtls.ServerTLSConfig(mgr.ServerCertFile(), mgr.ServerKeyFile(), mgr.RootCertFile())
	if err != nil {
		return fmt.Errorf("server TLS: %w", err)
	}

	dataDir := cfg.Server.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	runner := &measure.Dummy{DataDir: dataDir}

	var opts []server.Option
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(cfg.Metrics.Path))
	}
	router := server.NewRouter(sup, runner, cfg.Server.BasePath, opts...)
	srv := server.NewServer(cfg.Server.Listen, tlsCfg, router.Handler())
	slog.Info("serving", "listen", cfg.Server.Listen, "base_path", cfg.Server.BasePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	_ = srv.Close()
	sup.Shutdown(ctx)
	return nil
}

// newRecorder fans supervisor lifecycle events out to the audit store and
// the history sinks. Failures are logged; they never fail the operation
// that produced the event.
func newRecorder(st store.Store, sink history.Sink) service.Recorder {
	return func(ctx context.Context, ev service.Event) {
		principal := mtls.PrincipalFromContext(ctx)
		if st != nil {
			rec := store.Event{
				Time:      ev.Time,
				Service:   ev.Service,
				Action:    ev.Action,
				Principal: principal,
				Detail:    ev.Detail,
			}
			if err := st.RecordServiceEvent(ctx, rec); err != nil {
				slog.Warn("audit record failed", "service", ev.Service, "error", err)
			}
		}
		if sink != nil {
			_ = sink.Send(ctx, history.Event{
				Kind:       history.KindServiceEvent,
				OccurredAt: ev.Time,
				Service:    ev.Service,
				Action:     ev.Action,
				Principal:  principal,
				Detail:     ev.Detail,
			})
		}
	}
}

func closeSink(sink history.Sink) {
	fan, ok := sink.(history.Fanout)
	if !ok {
		if c, ok := sink.(io.Closer); ok {
			_ = c.Close()
		}
		return
	}
	for _, s := range fan {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
