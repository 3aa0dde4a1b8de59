package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix marks environment variables read as configuration.
	EnvPrefix = "COPYD_"
)

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (COPYD_SERVER_HTTP_PORT, COPYD_PROVIDER_NAME, ...)
//  2. YAML config file (~/.config/copyd/config.yaml)
//  3. Defaults
//
// The file is optional. When present it must live under ~/.config/copyd/
// or /etc/copyd/, be mode 0600 or 0400, and be at most 1MB.
//
// Environment variables drop the prefix and split on the first underscore
// only, so nested maps such as quota.tiers can only be set from the file:
//
//	COPYD_SERVER_HTTP_PORT        -> server.http_port
//	COPYD_PROVIDER_ANTHROPIC_API_KEY -> provider.anthropic_api_key
//	COPYD_BURST_WINDOW            -> burst.window
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := defaultConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Validate through the open descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Booleans that default to true must be set before decoding.
	cfg := &Config{Context: ContextConfig{ScrubSecrets: true, GitleaksRules: true}}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps COPYD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "copyd"), nil
}

// EnsureConfigDir creates ~/.config/copyd with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := defaultConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath checks the path is inside an allowed directory. It
// runs even if the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	userDir, err := defaultConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, "/etc/copyd"} {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/copyd/ or /etc/copyd/")
}

// validateConfigFileProperties checks permissions and size of an open file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8420
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.BodyLimit == "" {
		cfg.Server.BodyLimit = "16M"
	}

	// Observability
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "copyd"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Observability.OTLPProtocol == "" {
		cfg.Observability.OTLPProtocol = "grpc"
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Store
	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.local/share/copyd/copyd.db"
	}
	cfg.Store.Path = expandHome(cfg.Store.Path)

	// Redis
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "copyd:usage"
	}

	// Quota
	if cfg.Quota.Backend == "" {
		cfg.Quota.Backend = QuotaBackendStore
	}
	if cfg.Quota.DefaultTier == "" {
		cfg.Quota.DefaultTier = "free"
	}
	if cfg.Quota.PlanCacheTTL == 0 {
		cfg.Quota.PlanCacheTTL = Duration(time.Minute)
	}
	if cfg.Quota.PlanCacheMax == 0 {
		cfg.Quota.PlanCacheMax = 10000
	}
	if len(cfg.Quota.Tiers) == 0 {
		cfg.Quota.Tiers = DefaultTiers()
	}

	// Burst
	if cfg.Burst.MaxRequests == 0 {
		cfg.Burst.MaxRequests = 20
	}
	if cfg.Burst.Window == 0 {
		cfg.Burst.Window = Duration(time.Minute)
	}
	if cfg.Burst.SweepInterval == 0 {
		cfg.Burst.SweepInterval = Duration(5 * time.Minute)
	}

	// Provider
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = ProviderAnthropic
	}
	if cfg.Provider.Model == "" {
		if cfg.Provider.Name == ProviderOpenAI {
			cfg.Provider.Model = "gpt-4o"
		} else {
			cfg.Provider.Model = "claude-sonnet-4-20250514"
		}
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = Duration(90 * time.Second)
	}
	if cfg.Provider.RequestsPerMinute == 0 {
		cfg.Provider.RequestsPerMinute = 50
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = 4096
	}

	// Context
	if cfg.Context.MaxChars == 0 {
		cfg.Context.MaxChars = 8000
	}
	if cfg.Context.MaxSourceChars == 0 {
		cfg.Context.MaxSourceChars = 2000
	}
	if cfg.Context.MaxFieldChars == 0 {
		cfg.Context.MaxFieldChars = 600
	}
	if cfg.Context.MaxItems == 0 {
		cfg.Context.MaxItems = 10
	}

	if cfg.Prompts.Path != "" {
		cfg.Prompts.Path = expandHome(cfg.Prompts.Path)
	}
}

// DefaultTiers returns the built-in plan tiers.
func DefaultTiers() map[string]TierConfig {
	return map[string]TierConfig{
		"free": {Limits: map[string]int{
			"generation": 3,
			"recycle":    3,
			"audit":      1,
		}},
		"pro": {Unlimited: true},
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
