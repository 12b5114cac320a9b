// Package main is the entry point for the runner supervisor binary.
// It wires config, client, and supervisor together and drives one run's
// lifecycle end to end.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Validate required run-identifying settings
//  3. Build logger
//  4. Build the supervisor for this run
//  5. Run until the worker exits or SIGINT/SIGTERM arrives
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orcabay/control-plane/runner/internal/config"
	"github.com/orcabay/control-plane/runner/internal/supervisor"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:   "runner",
		Short: "Runner supervisor — supervises one remote worker run",
		Long: `The runner supervisor spawns and supervises a single worker process for
one run: it polls the gateway for commands, forwards worker output as
events, answers interactive prompts in autonomous mode, and heartbeats
run state until the worker exits or a stop/halt command arrives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	config.RegisterFlags(root, cfg)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("runner %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting runner supervisor",
		zap.String("version", version),
		zap.String("gateway_url", cfg.GatewayURL),
		zap.String("run_id", cfg.RunID),
		zap.String("worker_type", cfg.WorkerType),
		zap.Bool("listener_mode", cfg.InitialPrompt == ""),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sup, err := supervisor.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build supervisor: %w", err)
	}
	defer sup.Close()

	if err := sup.Run(ctx, cfg.InitialPrompt); err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	logger.Info("runner supervisor stopped")
	return nil
}
