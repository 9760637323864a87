package cmd

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/benetwork/benetwork/internal/config"
	"github.com/benetwork/benetwork/internal/core/limiter"
	"github.com/benetwork/benetwork/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display comprehensive environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()
		log := observability.CLILogger

		log.Info("=== benetwork Environment Information ===")
		log.Info("")

		identity := GetAppIdentity()
		log.Info("Application:")
		log.Info("  Name:       " + identity.BinaryName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		log.Info("")

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		configFile := config.ConfigFileUsed()
		if configFile == "" {
			configFile = config.DefaultConfigPath() + " (not found)"
		}

		log.Info("Configuration:")
		log.Info("  Config File:    "+configFile, zap.String("config_file", configFile))
		log.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		log.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		log.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		log.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		log.Info(fmt.Sprintf("  Workers:        %d", cfg.Workers), zap.Int("workers", cfg.Workers))
		log.Info("")

		log.Info("Requests:")
		log.Info("  Timeout:        "+cfg.HTTP.Timeout.String(), zap.Duration("http_timeout", cfg.HTTP.Timeout))
		log.Info("  User Agent:     " + cfg.HTTP.UserAgent)
		log.Info(fmt.Sprintf("  Retry Limit:    %d", cfg.Retry.Limit), zap.Int("retry_limit", cfg.Retry.Limit))
		log.Info(fmt.Sprintf("  Retry on 429:   %t", cfg.Retry.OnRateLimit))
		log.Info(fmt.Sprintf("  Retry Timeouts: %t", cfg.Retry.OnTimeout))
		log.Info(fmt.Sprintf("  Dedupe:         %t", cfg.DedupeRequests))
		log.Info(fmt.Sprintf("  Trace:          %t", cfg.Debug.TraceRequests))
		log.Info("")

		log.Info("Cache:")
		log.Info("  Backend:        "+cfg.Cache.Backend, zap.String("cache_backend", cfg.Cache.Backend))
		log.Info("  Default TTL:    " + cfg.Cache.DefaultTTL.String())
		if cfg.Cache.Backend == config.CacheStore {
			log.Info("  DB Driver:      "+cfg.Store.Driver, zap.String("db_driver", cfg.Store.Driver))
			log.Info("  DB Location:    " + storeLocation(cfg.Store))
		} else {
			log.Info(fmt.Sprintf("  Max Entries:    %d", cfg.Cache.MaxEntries))
		}
		log.Info("")

		log.Info("Rate Limits:")
		if len(cfg.RateLimits) == 0 {
			log.Info("  (none configured)")
		}
		names := make([]string, 0, len(cfg.RateLimits))
		for name := range cfg.RateLimits {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			log.Info("  "+name+": "+describeLimit(cfg.RateLimits[name]), zap.String("limiter", name))
		}
		log.Info("")

		log.Info("=== End Environment Information ===")
	},
}

func describeLimit(cfg limiter.Config) string {
	normalized, err := cfg.Normalized()
	if err != nil {
		return "invalid: " + err.Error()
	}
	switch normalized.Kind {
	case limiter.KindFixedDelay:
		return "fixed_delay every " + normalized.Interval.String()
	case limiter.KindDebounce:
		return "debounce " + normalized.WaitTime.String()
	case limiter.KindFrequency:
		parts := []string{fmt.Sprintf("%d per %s", normalized.Requests, normalized.Interval)}
		if normalized.Backend != "" {
			parts = append(parts, string(normalized.Backend))
		}
		return "frequency " + strings.Join(parts, ", ")
	default:
		return string(normalized.Kind)
	}
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
