package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/conveyor/internal/archiver"
	"github.com/dwsmith1983/conveyor/internal/config"
	"github.com/dwsmith1983/conveyor/internal/server"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

const approvalExpiryInterval = time.Minute

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Conveyor HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := buildStack(cfg)
	if err != nil {
		return err
	}

	serverCfg := types.ServerConfig{Addr: ":8080"}
	if cfg.Server != nil {
		serverCfg = *cfg.Server
	}
	srv := server.New(serverCfg, s.engine, s.store, s.approvals, s.logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Approvals left pending by a previous process get expired on startup.
	if n, err := s.approvals.ExpireOverdue(ctx); err != nil {
		s.logger.Warn("failed to expire stale approvals", "error", err)
	} else if n > 0 {
		s.logger.Info("expired stale approvals", "count", n)
	}

	var arc *archiver.Archiver
	if cfg.Archive != nil {
		dest, err := archiver.NewFileDestination(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("creating archive destination: %w", err)
		}
		arc = archiver.New(s.store, dest, s.def.Name, *cfg.Archive, s.logger)
		arc.Start(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(approvalExpiryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := s.approvals.ExpireOverdue(ctx); err != nil {
					s.logger.Warn("approval expiry pass failed", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		color.Yellow("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if arc != nil {
			arc.Stop(shutdownCtx)
		}
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	color.Green("Server stopped gracefully")
	return nil
}
