package cmd

import (
	"context"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benetwork/benetwork/internal/config"
	errwrap "github.com/benetwork/benetwork/internal/errors"
	"github.com/benetwork/benetwork/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Run a self-health check to verify the application can start successfully:
configuration loads and validates, every configured rate limiter builds, and
the response cache backend opens.`,
	Run: func(cmd *cobra.Command, args []string) {
		if observability.CLILogger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		observability.CLILogger.Info("Running health check...")

		if versionInfo.Version == "" {
			observability.CLILogger.Error("❌ FAIL: Version information missing")
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		observability.CLILogger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		observability.CLILogger.Info("✅ Version information available")

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			observability.CLILogger.Error("❌ FAIL: Configuration invalid", zap.Error(err))
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid"))
			return
		}
		observability.CLILogger.Info("✅ Configuration loaded",
			zap.String("config_file", config.ConfigFileUsed()))

		if err := checkRuntime(cmd.Context(), cfg); err != nil {
			observability.CLILogger.Error("❌ FAIL: Request pipeline unavailable", zap.Error(err))
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Request pipeline unavailable", err)
			return
		}

		observability.CLILogger.Info("")
		observability.CLILogger.Info("✅ All health checks passed")
	},
}

// checkRuntime builds the full pipeline once and closes it again.
func checkRuntime(ctx context.Context, cfg *config.Config) error {
	rt, err := buildRuntime(ctx, cfg, nil)
	if err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "runtime initialization failed")
	}
	defer rt.Close() // nolint:errcheck // best-effort cleanup

	observability.CLILogger.Info("✅ Rate limiters ready",
		zap.Int("count", len(rt.registry.Names())),
		zap.String("names", strings.Join(rt.registry.Names(), ",")))

	if rt.store != nil {
		if err := rt.store.DB.PingContext(ctx); err != nil {
			return errwrap.WrapDatabaseError(ctx, err, "response cache unreachable")
		}
	}
	observability.CLILogger.Info("✅ Response cache ready", zap.String("backend", cfg.Cache.Backend))
	return nil
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
