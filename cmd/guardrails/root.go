package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/upb/guardrails-control-plane/backend/config"
	"github.com/upb/guardrails-control-plane/backend/internal/observability"
	"go.uber.org/zap"
)

var (
	// Global flags
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "guardrails",
	Short: "Guardrails control plane - tenant policy and rule resolution",
	Long: `Guardrails manages rule templates, tenant rules and versioned policies
for every tenant, and resolves a policy into the effective rule set an
inference gateway enforces.

Every mutation is versioned and written to the audit ledger.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override LOG_FORMAT (json, console)")
}

// loadRuntime reads the configuration and builds the logger every
// command shares
func loadRuntime(ctx context.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.Observability.LogFormat = logFormat
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
