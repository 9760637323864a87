package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benetwork/benetwork/internal/config"
	"github.com/benetwork/benetwork/internal/core/store"
	"github.com/benetwork/benetwork/internal/observability"
)

// openStore loads config and opens the migrated response cache store.
func openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openStoreWith(ctx, cfg.Store)
}

func openStoreWith(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// storeLocation returns the remote URL or absolute file path of the store.
func storeLocation(cfg config.StoreConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	path := cfg.Path
	if path == "" {
		path = config.DefaultStorePath()
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the response cache database",
}

var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the response cache schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		db, err := openStoreWith(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		location := storeLocation(cfg.Store)
		observability.CLILogger.Info("Store migrated",
			zap.String("driver", db.Driver()),
			zap.String("database", location))
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Database: %s\n", location)
		return err
	},
}

func init() {
	storeCmd.AddCommand(storeMigrateCmd)
	rootCmd.AddCommand(storeCmd)
}
