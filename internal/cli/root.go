// Package cli implements the triggersync command line.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags "-X ...cli.Version=...".
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "triggersync",
		Short: "Event and marker synchronisation for EEG experiments",
		Long: `triggersync timestamps experiment events, forwards their trigger codes to
the acquisition device over TCP and exports the session as a workbook.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewBridgeCommand(opts))
	cmd.AddCommand(NewSendCommand())
	cmd.AddCommand(NewCodesCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
