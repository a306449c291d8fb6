// Package main is the entry point for the caliper-demo binary: a small
// reference CLI that wires a calipergo Runtime to every demo service in
// this module and drives a scripted annotation sequence.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/phroun/calipergo/cmd/caliper-demo/commands"
	"github.com/phroun/calipergo/pkg/version"
)

var (
	verbose bool
	quiet   bool
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "caliper-demo",
		Short: "calipergo demo - drives a scripted annotation sequence through every service",
		Long: `caliper-demo exercises a calipergo Runtime end to end.

Commands:
  run       Drive a scripted begin/set/end sequence and print the resulting snapshots
  version   Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (no subcommand reads this flag)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output (no subcommand reads this flag)")

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "caliper-demo %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
