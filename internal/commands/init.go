package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/conveyor/internal/pipeline"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [project-name]",
		Short: "Initialize a new Conveyor project",
		Long:  "Creates project scaffolding with a starter pipeline and config.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0])
		},
	}
}

func runInit(projectName string) error {
	bold := color.New(color.Bold)
	_, _ = bold.Printf("Initializing Conveyor project: %s\n", projectName)

	if err := os.MkdirAll(projectName, 0o755); err != nil {
		return fmt.Errorf("creating project directory: %w", err)
	}

	configPath := filepath.Join(projectName, "conveyor.yaml")
	configContent := `store: memory
pipelineFile: pipeline.yaml
logUrlBase: http://localhost:8080/api/runs
recipients:
  - dev-team@example.com
server:
  addr: ":8080"
notifiers:
  - type: console
archive:
  path: ./archive
  retentionHours: 168
  intervalMinutes: 60
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	def := pipeline.Default()
	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshaling starter pipeline: %w", err)
	}
	pipelinePath := filepath.Join(projectName, "pipeline.yaml")
	if err := os.WriteFile(pipelinePath, data, 0o644); err != nil {
		return fmt.Errorf("writing starter pipeline: %w", err)
	}

	color.Green("  ✓ Project scaffolded")
	fmt.Println()
	_, _ = bold.Println("Next steps:")
	fmt.Printf("  cd %s\n", projectName)
	fmt.Println("  conveyor run develop")
	fmt.Println("  conveyor serve")
	return nil
}
