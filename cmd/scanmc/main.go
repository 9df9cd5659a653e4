// Package main provides the entry point for the scanmc CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scanmc/scanmc/cmd/scanmc/commands"
	"github.com/scanmc/scanmc/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scanmc",
		Short: "scanmc - adaptive MCMC posterior scanner",
		Long: `scanmc samples Bayesian posterior distributions over model
parameters with adaptive Markov Chain Monte Carlo: parallel chains,
automatic convergence diagnosis, parameter-space partitioning and
checkpoint/resume.

Commands:
  scan      Run the MCMC scan (prerun + main sampling phase)
  optimize  Refine a point estimate with a local mode search
  gof       Goodness-of-fit p-value for a parameter point`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewScanCommand())
	rootCmd.AddCommand(commands.NewOptimizeCommand())
	rootCmd.AddCommand(commands.NewGoodnessOfFitCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "scanmc %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
