package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by subcommands.
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command tree.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "hwman",
		Short: "Lab instrument control plane",
		Long: `Hwman runs the control-plane server for the lab instrument rack:
a private certificate authority for operator identities, a mutual-TLS API,
and a supervisor for the local and remote services the instruments need.

Examples:
  hwman cert setup-server --cert-dir=/var/lib/hwman/certs
  hwman cert create-client alice --cert-dir=/var/lib/hwman/certs
  hwman serve --config=hwman.toml`,
	}

	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file")

	root.AddCommand(
		createCertCommand(),
		createServeCommand(globalFlags),
	)
	return root
}
