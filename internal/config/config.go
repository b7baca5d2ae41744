// Package config handles loading and validation of conveyor.yaml project
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	ddbstore "github.com/dwsmith1983/conveyor/internal/store/dynamodb"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

// storeConfigs is a helper struct used for a second YAML unmarshal pass to
// decode store-specific config sections into their concrete types.
type storeConfigs struct {
	DynamoDB *ddbstore.Config `yaml:"dynamodb,omitempty"`
}

// Load reads and parses conveyor.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, "conveyor.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Second pass: decode store-specific sections into concrete types.
	var raw storeConfigs
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing store config: %w", err)
	}
	if raw.DynamoDB != nil {
		cfg.DynamoDB = raw.DynamoDB
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *types.ProjectConfig) {
	if cfg.Store == "" {
		cfg.Store = "memory"
	}
	if cfg.PipelineFile == "" {
		cfg.PipelineFile = "pipeline.yaml"
	}
	if cfg.Server != nil && cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Archive != nil {
		if cfg.Archive.RetentionHours <= 0 {
			cfg.Archive.RetentionHours = 24 * 7
		}
		if cfg.Archive.IntervalMinutes <= 0 {
			cfg.Archive.IntervalMinutes = 60
		}
	}
}

func validate(cfg *types.ProjectConfig) error {
	switch cfg.Store {
	case "memory":
	case "dynamodb":
		dc, _ := cfg.DynamoDB.(*ddbstore.Config)
		if dc == nil {
			return fmt.Errorf("dynamodb config is required when store is dynamodb")
		}
		if dc.TableName == "" {
			return fmt.Errorf("dynamodb.tableName is required")
		}
	default:
		return fmt.Errorf("unknown store %q", cfg.Store)
	}

	for i, n := range cfg.Notifiers {
		switch n.Type {
		case types.NotifierConsole:
		case types.NotifierFile:
			if n.Path == "" {
				return fmt.Errorf("notifiers[%d]: file notifier requires path", i)
			}
		case types.NotifierWebhook:
			if n.URL == "" {
				return fmt.Errorf("notifiers[%d]: webhook notifier requires url", i)
			}
		case types.NotifierSNS:
			if n.TopicARN == "" {
				return fmt.Errorf("notifiers[%d]: sns notifier requires topicArn", i)
			}
		default:
			return fmt.Errorf("notifiers[%d]: unknown type %q", i, n.Type)
		}
	}

	if cfg.Archive != nil && cfg.Archive.Path == "" {
		return fmt.Errorf("archive.path is required when archive is configured")
	}
	return nil
}
