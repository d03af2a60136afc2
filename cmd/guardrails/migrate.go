package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/guardrails-control-plane/backend/config"
	"github.com/upb/guardrails-control-plane/backend/repositories/postgres"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the PostgreSQL schema",
	Long: `Apply the schema to the database named by the DB_* variables. The
statements are idempotent, so running migrate against an up-to-date
database changes nothing.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Storage.Driver != config.StoragePostgres {
		return fmt.Errorf("migrate requires STORAGE_DRIVER=%s, got %q", config.StoragePostgres, cfg.Storage.Driver)
	}

	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = factory.Close() }()

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("schema applied", zap.String("database", cfg.Database.LogString()))
	return nil
}
