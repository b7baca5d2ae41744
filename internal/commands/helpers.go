// Package commands implements the CLI subcommands for the conveyor binary.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/dwsmith1983/conveyor/internal/engine"
	"github.com/dwsmith1983/conveyor/internal/gate"
	"github.com/dwsmith1983/conveyor/internal/invoke"
	"github.com/dwsmith1983/conveyor/internal/notify"
	"github.com/dwsmith1983/conveyor/internal/pipeline"
	"github.com/dwsmith1983/conveyor/internal/sequencer"
	"github.com/dwsmith1983/conveyor/internal/store"
	ddbstore "github.com/dwsmith1983/conveyor/internal/store/dynamodb"
	"github.com/dwsmith1983/conveyor/internal/store/memory"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

// stack holds the wired components every subcommand works against.
type stack struct {
	cfg        *types.ProjectConfig
	store      store.Store
	def        pipeline.Definition
	approvals  *gate.Coordinator
	engine     *engine.Engine
	dispatcher *notify.Dispatcher
	logger     *slog.Logger
}

// newStore creates the configured storage backend.
func newStore(cfg *types.ProjectConfig) (store.Store, error) {
	switch cfg.Store {
	case "memory":
		return memory.New(), nil
	case "dynamodb":
		dc, ok := cfg.DynamoDB.(*ddbstore.Config)
		if !ok || dc == nil {
			return nil, fmt.Errorf("dynamodb config is required when store is dynamodb")
		}
		return ddbstore.New(dc)
	default:
		return nil, fmt.Errorf("unsupported store: %s", cfg.Store)
	}
}

// loadDefinition reads the configured pipeline file, falling back to the
// built-in definition when none exists yet.
func loadDefinition(cfg *types.ProjectConfig) (pipeline.Definition, error) {
	if _, err := os.Stat(cfg.PipelineFile); os.IsNotExist(err) {
		return *pipeline.Default(), nil
	}
	def, err := pipeline.Load(cfg.PipelineFile)
	if err != nil {
		return pipeline.Definition{}, err
	}
	return *def, nil
}

// buildStack wires the store, approval coordinator, sequencer, notification
// dispatcher, and engine from the project configuration.
func buildStack(cfg *types.ProjectConfig) (*stack, error) {
	logger := slog.Default()

	st, err := newStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	def, err := loadDefinition(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading pipeline: %w", err)
	}

	dispatcher, err := notify.NewDispatcher(cfg.Notifiers, logger)
	if err != nil {
		return nil, fmt.Errorf("creating notification dispatcher: %w", err)
	}

	approvals := gate.NewCoordinator(st, logger)
	seq := sequencer.New(st, &invoke.ExecInvoker{}, approvals, logger)
	eng := engine.New(st, seq, dispatcher, def, logger,
		engine.WithLogURLBase(cfg.LogURLBase),
		engine.WithRecipients(cfg.Recipients))

	return &stack{
		cfg:        cfg,
		store:      st,
		def:        def,
		approvals:  approvals,
		engine:     eng,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}
