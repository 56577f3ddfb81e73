// Package cli implements the rampart command-line interface using Cobra.
// It provides commands for running the sandbox decision daemon, checking
// access manifests, and inspecting the audit chain.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/majorcontext/rampart/internal/log"
)

var (
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "rampart",
	Short: "Rampart - file-access arbitration for sandboxed build steps",
	Long: `Rampart is the decision core of a build sandbox. It consumes file
observations from an interception layer, normalizes them into canonical
events, checks each one against a per-step access manifest, and reports
decisions to a hash-chained audit log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := log.Init(log.Options{
			Verbose:    verbose,
			JSONFormat: jsonOut,
		}); err != nil {
			cmd.PrintErrf("Warning: failed to initialize logging: %v\n", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
}
