package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
	cfgFile   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tether",
		Short: "Two-way issue sync between Redmine and GitLab",
		Long: `Tether keeps a Redmine tracker and a GitLab forge converged: linked
projects are discovered through a project custom field, issues are
mirrored in both directions, and concurrent edits are reconciled
against canonical snapshots.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path (default ~/.tether/config.yaml)")

	rootCmd.AddCommand(
		newStartCmd(),
		newRunCmd(),
		newStatusCmd(),
		newInitCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
