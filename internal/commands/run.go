package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/conveyor/internal/config"
	"github.com/dwsmith1983/conveyor/internal/engine"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var commit string

	cmd := &cobra.Command{
		Use:   "run [branch]",
		Short: "Execute the pipeline for a branch and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(args[0], commit)
		},
	}

	cmd.Flags().StringVar(&commit, "commit", "", "Commit SHA the run is building")
	return cmd
}

func runPipeline(branch, commit string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := buildStack(cfg)
	if err != nil {
		return err
	}

	// Ctrl-C cancels the run: in-flight stages record CANCELLED, cleanup
	// still executes, and exactly one notification goes out.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	color.Cyan("Running pipeline %s on branch %s...\n", s.def.Name, branch)

	run, event, err := s.engine.Trigger(ctx, types.TriggerEvent{
		Branch: branch,
		Commit: commit,
		Source: "cli",
	})
	if err != nil {
		return err
	}

	printRunResults(run)

	switch run.Status {
	case types.RunUnstable:
		color.Yellow("Build #%d UNSTABLE: advisory checks reported findings", run.BuildNumber)
	case types.RunSucceeded:
		color.Green("Build #%d succeeded", run.BuildNumber)
	case types.RunCancelled:
		color.Yellow("Build #%d cancelled", run.BuildNumber)
	default:
		color.Red("Build #%d failed", run.BuildNumber)
	}

	if code := engine.ExitCode(run.Status); code != 0 {
		return fmt.Errorf("pipeline finished %s (event %s)", run.Status, event)
	}
	return nil
}

func printRunResults(run *types.PipelineRun) {
	bold := color.New(color.Bold)
	fmt.Println()
	_, _ = bold.Printf("Run %s (build #%d, branch %s)\n", run.RunID, run.BuildNumber, run.Branch)

	for _, res := range run.Results {
		var statusStr string
		switch res.Outcome {
		case types.OutcomeSuccess:
			statusStr = color.GreenString("SUCCESS")
		case types.OutcomeFailure:
			if res.Advisory {
				statusStr = color.YellowString("FAILURE (advisory)")
			} else {
				statusStr = color.RedString("FAILURE")
			}
		case types.OutcomeUnstable:
			statusStr = color.YellowString("UNSTABLE")
		case types.OutcomeCancelled:
			statusStr = color.YellowString("CANCELLED")
		default:
			statusStr = color.CyanString("SKIPPED")
		}

		duration := ""
		if res.CompletedAt != nil {
			duration = res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Printf("  %-25s %-28s %8s  %s\n", res.Stage, statusStr, duration, res.Message)
	}
	fmt.Println()
}
