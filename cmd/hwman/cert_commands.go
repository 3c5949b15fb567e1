package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/hwman/internal/ca"
	"github.com/loykin/hwman/internal/config"
	"github.com/loykin/hwman/internal/history"
	historyfactory "github.com/loykin/hwman/internal/history/factory"
	"github.com/loykin/hwman/internal/metrics"
	"github.com/loykin/hwman/internal/store"
	storefactory "github.com/loykin/hwman/internal/store/factory"
)

// CertFlags holds the flags shared by the cert subcommands.
type CertFlags struct {
	CertDir  string
	Hostname string
}

func defaultCertDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.hwman/certs"
	}
	return "certs"
}

// createCertCommand creates the cert command with subcommands.
func createCertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Certificate authority management",
		Long: `Manage the private certificate authority backing the mutual-TLS API.

Examples:
  hwman cert setup-server --hostname=lab-ctrl
  hwman cert create-client alice
  hwman cert list-clients
  hwman cert status`,
	}
	cmd.AddCommand(
		createCertSetupServerCommand(),
		createCertCreateClientCommand(),
		createCertListClientsCommand(),
		createCertStatusCommand(),
	)
	return cmd
}

func createCertSetupServerCommand() *cobra.Command {
	flags := &CertFlags{}
	cmd := &cobra.Command{
		Use:   "setup-server",
		Short: "Create the root CA and server certificate",
		Long: `Ensure the root CA and the server leaf certificate exist.
Existing material is loaded, never regenerated; a fresh directory gets a
new self-signed root and a server certificate signed by it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCertSetupServer(cmd, *flags)
		},
	}
	cmd.Flags().StringVar(&flags.CertDir, "cert-dir", defaultCertDir(), "certificate directory")
	cmd.Flags().StringVar(&flags.Hostname, "hostname", "localhost", "server certificate hostname")
	return cmd
}

func runCertSetupServer(cmd *cobra.Command, flags CertFlags) error {
	mgr, err := ca.New(flags.CertDir)
	if err != nil {
		return err
	}
	if err := mgr.EnsureRoot(); err != nil {
		return err
	}
	if err := mgr.EnsureServerCert(flags.Hostname); err != nil {
		return err
	}
	cmd.Printf("CA ready in %s\n", mgr.Dir())
	cmd.Printf("  root:   %s\n", mgr.RootCertFile())
	cmd.Printf("  server: %s (hostname %s)\n", mgr.ServerCertFile(), flags.Hostname)
	return nil
}

func createCertCreateClientCommand() *cobra.Command {
	flags := &CertFlags{}
	var configPath string
	cmd := &cobra.Command{
		Use:   "create-client <operator_id>",
		Short: "Issue a client certificate for an operator",
		Long: `Issue a fresh client certificate and key for the given operator id.
Each invocation generates a new key pair and overwrites any previous one.
Fails when the CA has not been set up yet; run setup-server first.

With --config pointing at the server configuration, the issuance is also
recorded in the audit store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCertCreateClient(cmd, *flags, configPath, args[0])
		},
	}
	cmd.Flags().StringVar(&flags.CertDir, "cert-dir", defaultCertDir(), "certificate directory")
	cmd.Flags().StringVar(&configPath, "config", "", "server config for audit recording (optional)")
	return cmd
}

func runCertCreateClient(cmd *cobra.Command, flags CertFlags, configPath, operatorID string) error {
	mgr, err := ca.New(flags.CertDir)
	if err != nil {
		return err
	}
	if !mgr.HasServerCert() {
		return fmt.Errorf("server certificates missing in %s: run 'hwman cert setup-server' first", mgr.Dir())
	}
	certFile, keyFile, err := mgr.IssueClientCert(operatorID)
	if err != nil {
		return err
	}
	metrics.IncCertIssued("client")
	if configPath != "" {
		if err := recordIssuance(cmd.Context(), configPath, operatorID, certFile); err != nil {
			cmd.PrintErrf("warning: issuance not recorded: %v\n", err)
		}
	}
	cmd.Printf("issued client certificate for %s\n", operatorID)
	cmd.Printf("  cert: %s\n", certFile)
	cmd.Printf("  key:  %s\n", keyFile)
	return nil
}

// recordIssuance writes the issuance to the audit store and history sinks
// named by the server config. Best effort; the certificate is already on
// disk at this point.
func recordIssuance(ctx context.Context, configPath, operatorID, certFile string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	info, err := ca.CertInfo(certFile)
	if err != nil {
		return err
	}
	issuedAt := time.Now()

	var firstErr error
	st, err := storefactory.New(cfg.StoreCfg())
	if err != nil {
		firstErr = err
	} else if st != nil {
		defer func() { _ = st.Close() }()
		if err := st.EnsureSchema(ctx); err != nil {
			firstErr = err
		} else if err := st.RecordIssuedCert(ctx, store.IssuedCert{
			IssuedAt:   issuedAt,
			OperatorID: operatorID,
			Serial:     info.Serial,
			NotAfter:   info.NotAfter,
		}); err != nil {
			firstErr = err
		}
	}

	sink, err := historyfactory.NewSinks(cfg.History.Sinks)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else if sink != nil {
		defer closeSink(sink)
		_ = sink.Send(ctx, history.Event{
			Kind:       history.KindCertIssued,
			OccurredAt: issuedAt,
			Operator:   operatorID,
			Serial:     info.Serial,
		})
	}
	return firstErr
}

func createCertListClientsCommand() *cobra.Command {
	flags := &CertFlags{}
	cmd := &cobra.Command{
		Use:   "list-clients",
		Short: "List issued operator certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCertListClients(cmd, *flags)
		},
	}
	cmd.Flags().StringVar(&flags.CertDir, "cert-dir", defaultCertDir(), "certificate directory")
	return cmd
}

func runCertListClients(cmd *cobra.Command, flags CertFlags) error {
	mgr, err := ca.New(flags.CertDir)
	if err != nil {
		return err
	}
	clients, err := mgr.ListClients()
	if err != nil {
		return err
	}
	if len(clients) == 0 {
		cmd.Println("no client certificates issued")
		return nil
	}
	for _, cl := range clients {
		info, err := ca.CertInfo(cl.CertFile)
		if err != nil {
			cmd.Printf("%s  (unreadable: %v)\n", cl.ID, err)
			continue
		}
		state := "valid until " + info.NotAfter.Format("2006-01-02")
		if info.Expired {
			state = "EXPIRED " + info.NotAfter.Format("2006-01-02")
		}
		cmd.Printf("%s  %s\n", cl.ID, state)
		cmd.Printf("  cert: %s\n", cl.CertFile)
		cmd.Printf("  key:  %s\n", cl.KeyFile)
	}
	return nil
}

func createCertStatusCommand() *cobra.Command {
	flags := &CertFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show root and server certificate status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCertStatus(cmd, *flags)
		},
	}
	cmd.Flags().StringVar(&flags.CertDir, "cert-dir", defaultCertDir(), "certificate directory")
	return cmd
}

func runCertStatus(cmd *cobra.Command, flags CertFlags) error {
	mgr, err := ca.New(flags.CertDir)
	if err != nil {
		return err
	}
	printCert := func(label, path string, present bool) {
		if !present {
			cmd.Printf("%s: missing\n", label)
			return
		}
		info, err := ca.CertInfo(path)
		if err != nil {
			cmd.Printf("%s: unreadable (%v)\n", label, err)
			return
		}
		state := "valid"
		if info.Expired {
			state = "EXPIRED"
		}
		cmd.Printf("%s: %s, CN=%s, not after %s\n", label, state, info.CommonName, info.NotAfter.Format("2006-01-02"))
	}
	printCert("root  ", mgr.RootCertFile(), mgr.HasRoot())
	printCert("server", mgr.ServerCertFile(), mgr.HasServerCert())
	return nil
}
