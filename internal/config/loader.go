// Package config provides centralized configuration management for benetwork.
// It layers configuration in three steps:
// Layer 1: compiled defaults (setDefaults)
// Layer 2: user config file (discovered via app identity, or --config)
// Layer 3: environment variables and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/benetwork/benetwork/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configFile  string
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// rateLimitFields maps env var suffixes to rate limit config keys.
var rateLimitFields = []struct {
	suffix string
	key    string
}{
	{suffix: "WAIT_TIME", key: "wait_time"},
	{suffix: "INTERVAL", key: "interval"},
	{suffix: "REQUESTS", key: "requests"},
	{suffix: "BACKEND", key: "backend"},
	{suffix: "TYPE", key: "type"},
}

// SetConfigFile selects an explicit config file. An empty path restores
// discovery of the default user config.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Load loads configuration using the three-layer pattern:
// 1. Compiled defaults
// 2. User overrides from the XDG config path or SetConfigFile
// 3. Environment variables and runtime overrides
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if envOverrides == nil {
		envOverrides = map[string]any{}
	}
	applyRateLimitEnvOverrides(envPrefix(), envOverrides)

	// runtime > env > file > defaults
	allOverrides := []map[string]any{envOverrides}
	allOverrides = append(allOverrides, runtimeOverrides...)
	for _, overrides := range allOverrides {
		if len(overrides) == 0 {
			continue
		}
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to merge overrides: %w", err)
		}
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)

	return cfg, nil
}

// Validate checks cross-field constraints that decoding cannot express.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch strings.ToLower(strings.TrimSpace(c.Cache.Backend)) {
	case CacheMemory, CacheStore, CacheNone:
	default:
		return fmt.Errorf("invalid cache backend %q (expected memory, store, or none)", c.Cache.Backend)
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.Retry.Limit < 0 {
		return fmt.Errorf("retry.limit must be >= 0, got %d", c.Retry.Limit)
	}

	names := make([]string, 0, len(c.RateLimits))
	for name := range c.RateLimits {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		normalized, err := c.RateLimits[name].Normalized()
		if err != nil {
			return fmt.Errorf("rate_limits.%s: %w", name, err)
		}
		if err := normalized.Validate(); err != nil {
			return fmt.Errorf("rate_limits.%s: %w", name, err)
		}
		c.RateLimits[name] = normalized
	}

	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.requests_per_second", 0)
	v.SetDefault("server.burst", 20)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "SIMPLE")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Cache defaults
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.default_ttl", "5m")
	v.SetDefault("cache.max_entries", 1024)

	// Outbound HTTP defaults
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.max_body_bytes", 10<<20)

	// Retry defaults
	v.SetDefault("retry.limit", 2)
	v.SetDefault("retry.on_rate_limit", true)
	v.SetDefault("retry.on_timeout", true)

	v.SetDefault("rate_limits", map[string]any{})
	v.SetDefault("dedupe_requests", false)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Worker defaults
	v.SetDefault("workers", 4)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.trace_requests", false)
	v.SetDefault("debug.pprof_enabled", false)
}

func readConfigFile(v *viper.Viper) error {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", explicit, err)
		}
		return nil
	}

	for _, path := range getUserConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// ConfigFileUsed returns the explicit config file, if one was set.
func ConfigFileUsed() string {
	configMu.RLock()
	defer configMu.RUnlock()
	return configFile
}

// getUserConfigPaths returns the list of user config file paths to check
func getUserConfigPaths() []string {
	configName, binaryName := appNamesForPaths()

	paths := []string{}
	if path := DefaultConfigPath(); path != "" {
		paths = append(paths, path)
	}
	if binaryName != configName {
		if dir := gfconfig.GetAppConfigDir(binaryName); dir != "" {
			paths = append(paths, filepath.Join(dir, "config.yaml"))
		}
	}
	return paths
}

func envPrefix() string {
	prefix := "BENETWORK_"
	if appIdentity != nil && strings.TrimSpace(appIdentity.EnvPrefix) != "" {
		prefix = appIdentity.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := envPrefix()

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},
		{Name: prefix + "SERVER_RPS", Path: []string{"server", "requests_per_second"}, Type: EnvString},
		{Name: prefix + "SERVER_BURST", Path: []string{"server", "burst"}, Type: EnvInt},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Cache config
		{Name: prefix + "CACHE_BACKEND", Path: []string{"cache", "backend"}, Type: EnvString},
		{Name: prefix + "CACHE_DEFAULT_TTL", Path: []string{"cache", "default_ttl"}, Type: EnvString},
		{Name: prefix + "CACHE_MAX_ENTRIES", Path: []string{"cache", "max_entries"}, Type: EnvInt},

		// Outbound HTTP config
		{Name: prefix + "HTTP_TIMEOUT", Path: []string{"http", "timeout"}, Type: EnvString},
		{Name: prefix + "HTTP_USER_AGENT", Path: []string{"http", "user_agent"}, Type: EnvString},
		{Name: prefix + "HTTP_MAX_BODY_BYTES", Path: []string{"http", "max_body_bytes"}, Type: EnvInt},

		// Retry defaults
		{Name: prefix + "RETRY_LIMIT", Path: []string{"retry", "limit"}, Type: EnvInt},
		{Name: prefix + "RETRY_ON_RATE_LIMIT", Path: []string{"retry", "on_rate_limit"}, Type: EnvBool},
		{Name: prefix + "RETRY_ON_TIMEOUT", Path: []string{"retry", "on_timeout"}, Type: EnvBool},
		{Name: prefix + "DEDUPE_REQUESTS", Path: []string{"dedupe_requests"}, Type: EnvBool},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_TRACE_REQUESTS", Path: []string{"debug", "trace_requests"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},

		// Workers
		{Name: prefix + "WORKERS", Path: []string{"workers"}, Type: EnvInt},
	}
}

// applyRateLimitEnvOverrides maps {PREFIX}RATE_LIMIT_<NAME>_<FIELD> onto
// rate_limits.<name>.<field>. Names are lowercased with underscores kept.
func applyRateLimitEnvOverrides(prefix string, envOverrides map[string]any) {
	limitPrefix := prefix + "RATE_LIMIT_"

	for _, item := range os.Environ() {
		key, value, ok := strings.Cut(item, "=")
		if !ok || !strings.HasPrefix(key, limitPrefix) {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		name, field := splitRateLimitKey(key[len(limitPrefix):])
		if name == "" || field == "" {
			continue
		}

		limits := ensureMap(envOverrides, "rate_limits")
		entry := ensureMap(limits, name)
		entry[field] = value
	}
}

func splitRateLimitKey(raw string) (name string, field string) {
	for _, f := range rateLimitFields {
		if !strings.HasSuffix(raw, "_"+f.suffix) {
			continue
		}
		name = strings.ToLower(strings.Trim(strings.TrimSuffix(raw, "_"+f.suffix), "_"))
		if name == "" {
			return "", ""
		}
		return name, f.key
	}
	return "", ""
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "benetwork" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "benetwork"
	binaryName = "benetwork"
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}
