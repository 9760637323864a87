package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benetwork/benetwork/internal/appid"
	"github.com/benetwork/benetwork/internal/config"
	"github.com/benetwork/benetwork/internal/observability"
)

var (
	cfgFile  string
	verbose  bool
	traceReq bool

	appIdentity *appidentity.Identity

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the loaded app identity, falling back to the compiled default.
func GetAppIdentity() *appidentity.Identity {
	if appIdentity == nil {
		identity := appid.Default
		return &identity
	}
	return appIdentity
}

var rootCmd = &cobra.Command{
	Use:   filepath.Base(os.Args[0]),
	Short: appid.Default.Description,
	Long: `Run declarative HTTP requests through adaptive rate limiting, retries
and a response cache.

Use the subcommands to perform specific operations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Keep config loading from emitting metrics to stdout; serve installs
	// the real exporter.
	observability.DisableTelemetry()

	if identity, err := appid.Get(context.Background()); err == nil && identity != nil {
		appIdentity = identity
		applyIdentity(identity)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/benetwork/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().BoolVar(&traceReq, "trace", false, "log every attempt, gate wait and retry decision")
}

func applyIdentity(identity *appidentity.Identity) {
	if identity.BinaryName != "" {
		rootCmd.Use = identity.BinaryName
	}
	if identity.Description != "" {
		rootCmd.Short = identity.Description
	}
	if f := rootCmd.PersistentFlags().Lookup("config"); f != nil && identity.ConfigName != "" {
		f.Usage = fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", identity.ConfigName)
	}
}

// initConfig sets up the CLI logger and points the loader at --config.
// Commands load the typed config themselves through loadConfig.
func initConfig() {
	identity := GetAppIdentity()
	config.SetConfigFile(cfgFile)
	observability.InitCLILogger(identity.BinaryName, "", verbose)

	if verbose {
		if cfgFile != "" {
			observability.CLILogger.Debug("Using config file", zap.String("path", cfgFile))
		} else {
			observability.CLILogger.Debug("Config discovery", zap.String("default_path", config.DefaultConfigPath()))
		}
	}
}

// loadConfig loads layered config, applying --trace and the CLI log level.
func loadConfig(ctx context.Context, overrides ...map[string]any) (*config.Config, error) {
	if traceReq {
		overrides = append(overrides, map[string]any{"debug": map[string]any{"trace_requests": true}})
	}
	cfg, err := config.Load(ctx, overrides...)
	if err != nil {
		return nil, err
	}
	observability.InitCLILogger(GetAppIdentity().BinaryName, cfg.Logging.Level, verbose || cfg.Debug.TraceRequests)
	return cfg, nil
}
