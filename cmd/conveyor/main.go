package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/conveyor/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "conveyor",
		Short: "CI/CD pipeline orchestrator",
		Long: `Conveyor runs declarative build pipelines: ordered stages with parallel
groups, branch and approval gates, and a single end-of-run notification.
Runs are durable; a stage result is persisted the moment it is recorded.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewRunCmd(),
		commands.NewStatusCmd(),
		commands.NewApproveCmd(),
		commands.NewServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
