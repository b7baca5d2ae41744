// Package pipeline handles loading and validation of pipeline stage
// definitions.
package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/conveyor/pkg/types"
)

// Definition is a named, ordered list of stages.
type Definition struct {
	Name   string            `yaml:"name"`
	Stages []types.StageSpec `yaml:"stages"`
}

// Load reads and validates a pipeline definition from a YAML file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline definition: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing pipeline definition: %w", err)
	}
	if def.Name == "" {
		def.Name = types.DefaultPipeline
	}
	if err := Validate(&def); err != nil {
		return nil, fmt.Errorf("validating pipeline definition: %w", err)
	}
	return &def, nil
}

// Validate checks structural rules the sequencer depends on.
func Validate(def *Definition) error {
	if len(def.Stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}

	seen := make(map[string]bool)
	checkName := func(name string) error {
		if name == "" {
			return fmt.Errorf("stage name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate stage name %q", name)
		}
		seen[name] = true
		return nil
	}

	for _, st := range def.Stages {
		if err := checkName(st.Name); err != nil {
			return err
		}
		if len(st.Parallel) > 0 {
			if st.Command != "" || st.SmokeURL != "" {
				return fmt.Errorf("stage %q: parallel group cannot have its own body", st.Name)
			}
			if st.Approval != nil {
				return fmt.Errorf("stage %q: parallel group cannot be an approval gate", st.Name)
			}
			for _, sub := range st.Parallel {
				if err := checkName(sub.Name); err != nil {
					return err
				}
				if len(sub.Parallel) > 0 {
					return fmt.Errorf("stage %q: nested parallel groups are not supported", sub.Name)
				}
				if sub.Approval != nil {
					return fmt.Errorf("stage %q: approval gates cannot run in parallel", sub.Name)
				}
			}
		}
		if st.Approval != nil && st.AlwaysRun {
			return fmt.Errorf("stage %q: an always-run stage cannot require approval", st.Name)
		}
	}
	return nil
}

// Default returns the built-in definition: checkout through production
// deployment with branch gating, advisory quality stages, a manual
// production approval, and an always-run cleanup.
func Default() *Definition {
	return &Definition{
		Name: "webapp",
		Stages: []types.StageSpec{
			{Name: "checkout", Command: "git rev-parse HEAD"},
			{Name: "setup", Command: "python3 -m venv .venv"},
			{Name: "install-dependencies", Command: ". .venv/bin/activate && pip install -r requirements.txt"},
			{
				Name: "code-quality",
				Parallel: []types.StageSpec{
					{
						Name:         "lint",
						Command:      ". .venv/bin/activate && flake8 . && black --check .",
						Advisory:     true,
						ArtifactPath: "reports/lint.txt",
					},
					{
						Name:         "security-scan",
						Command:      ". .venv/bin/activate && bandit -r . -f json -o reports/bandit.json && safety check",
						Advisory:     true,
						ArtifactPath: "reports/bandit.json",
					},
				},
			},
			{
				Name:         "test",
				Command:      ". .venv/bin/activate && pytest --cov=. --cov-report=xml",
				ArtifactPath: "coverage.xml",
			},
			{
				Name:     "build-smoke-test",
				Command:  "docker build -t webapp:latest . && docker run -d --rm -p 5000:5000 --name webapp-smoke webapp:latest",
				SmokeURL: "http://localhost:5000/health",
			},
			{
				Name:     "deploy-staging",
				Branches: []string{"main", "staging"},
				Command:  "./scripts/deploy.sh staging",
			},
			{
				Name:     "integration-test",
				Branches: []string{"main", "staging"},
				Command:  ". .venv/bin/activate && pytest tests/integration",
			},
			{
				Name:             "deploy-production",
				Branches:         []string{"main"},
				RequireNotFailed: true,
				Approval: &types.ApprovalSpec{
					Message:        "Deploy to production?",
					TimeoutMinutes: 30,
				},
				Command: "./scripts/deploy.sh production",
			},
			{
				Name:      "cleanup",
				AlwaysRun: true,
				Command:   "docker rm -f webapp-smoke >/dev/null 2>&1 || true",
			},
		},
	}
}
