package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/conveyor/internal/config"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent runs and pending approvals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of recent runs to show")
	return cmd
}

func runStatus(limit int) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := buildStack(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bold := color.New(color.Bold)
	_, _ = bold.Printf("Pipeline: %s\n", s.def.Name)
	fmt.Printf("  Stages: %d\n", len(s.def.Stages))
	fmt.Println()

	runs, err := s.store.ListRuns(ctx, s.def.Name, limit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
	} else {
		_, _ = bold.Println("Recent Runs:")
		for _, r := range runs {
			statusStr := string(r.Status)
			switch r.Status {
			case types.RunSucceeded:
				statusStr = color.GreenString(statusStr)
			case types.RunUnstable:
				statusStr = color.YellowString(statusStr)
			case types.RunFailed:
				statusStr = color.RedString(statusStr)
			case types.RunCancelled:
				statusStr = color.YellowString(statusStr)
			case types.RunRunning, types.RunAwaitingApproval:
				statusStr = color.CyanString(statusStr)
			}
			approver := ""
			if r.Approver != "" {
				approver = "approved by " + r.Approver
			}
			fmt.Printf("  #%-5d %-28s %-20s branch=%-12s %s  %s\n",
				r.BuildNumber, r.RunID, statusStr, r.Branch,
				r.UpdatedAt.Format(time.RFC3339), approver)
		}
	}

	pending, err := s.store.ListPendingApprovals(ctx)
	if err != nil {
		return fmt.Errorf("listing approvals: %w", err)
	}
	if len(pending) > 0 {
		fmt.Println()
		_, _ = bold.Println("Pending Approvals:")
		for _, pa := range pending {
			color.Yellow("  %s  run=%s stage=%s  %q  expires %s",
				pa.ApprovalID, pa.RunID, pa.Stage, pa.Message,
				pa.ExpiresAt.Format(time.RFC3339))
		}
	}

	fmt.Println()
	return nil
}
