package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const approveTimeout = 10 * time.Second

// NewApproveCmd creates the approve command.
func NewApproveCmd() *cobra.Command {
	var (
		serverURL string
		actor     string
		apiKey    string
		reject    bool
	)

	cmd := &cobra.Command{
		Use:   "approve [approval-id]",
		Short: "Resolve a pending production approval",
		Long: `Sends an approve (or, with --reject, a reject) decision to a running
conveyor server. Pending approval IDs are listed by 'conveyor status'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprove(serverURL, apiKey, args[0], actor, reject)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Conveyor server base URL")
	cmd.Flags().StringVar(&actor, "actor", "", "Name recorded as the approver (required)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key, if the server requires one")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject instead of approve")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func runApprove(serverURL, apiKey, approvalID, actor string, reject bool) error {
	decision := "approve"
	if reject {
		decision = "reject"
	}

	body, err := json.Marshal(map[string]string{"decision": decision, "actor": actor})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), approveTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/approvals/%s", serverURL, approvalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		if reject {
			color.Yellow("Approval %s rejected by %s", approvalID, actor)
		} else {
			color.Green("Approval %s approved by %s", approvalID, actor)
		}
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("approval %s not found", approvalID)
	case http.StatusConflict:
		return fmt.Errorf("approval %s was already resolved", approvalID)
	default:
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
}
