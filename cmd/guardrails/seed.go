package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/guardrails-control-plane/backend/app"
	"go.uber.org/zap"
)

var seedFlags struct {
	file string
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the rule catalogue into the store",
	Long: `Sync a YAML or JSON catalogue of system rule templates and capabilities.
New templates are created, changed ones get a new version, and the rest
are left alone. The report is printed as JSON.

Examples:
  guardrails seed --file catalog.yaml
  CATALOG_PATH=/etc/guardrails/catalog.yaml guardrails seed`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVarP(&seedFlags.file, "file", "f", "", "catalogue file (defaults to CATALOG_PATH)")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path := seedFlags.file
	if path == "" {
		path = cfg.Catalog.Path
	}
	if path == "" {
		return errors.New("no catalogue file: pass --file or set CATALOG_PATH")
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Close(ctx) }()

	report, err := deps.Catalog.SyncFile(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to sync catalogue: %w", err)
	}
	logger.Info("catalogue synced", zap.String("path", path))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
