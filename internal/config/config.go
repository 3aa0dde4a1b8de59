// Package config provides configuration loading for copyd.
//
// Configuration is read from a YAML file and overlaid with environment
// variables (see LoadWithFile). Every section has defaults, so an empty
// file is a valid development configuration.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Quota counter backends.
const (
	QuotaBackendStore = "store"
	QuotaBackendRedis = "redis"
)

// Config holds the complete copyd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	Store         StoreConfig         `koanf:"store"`
	Redis         RedisConfig         `koanf:"redis"`
	Quota         QuotaConfig         `koanf:"quota"`
	Burst         BurstConfig         `koanf:"burst"`
	Provider      ProviderConfig      `koanf:"provider"`
	Context       ContextConfig       `koanf:"context"`
	Prompts       PromptsConfig       `koanf:"prompts"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	BodyLimit       string   `koanf:"body_limit"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	OTLPProtocol    string `koanf:"otlp_protocol"`
	OTLPInsecure    bool   `koanf:"otlp_insecure"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StoreConfig locates the SQLite record store.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// RedisConfig configures the optional Redis quota backend.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  Secret `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// TierConfig holds the monthly ceilings of one plan tier.
type TierConfig struct {
	Unlimited bool           `koanf:"unlimited"`
	Limits    map[string]int `koanf:"limits"`
}

// QuotaConfig configures monthly usage ceilings.
type QuotaConfig struct {
	Backend      string                `koanf:"backend"`
	DefaultTier  string                `koanf:"default_tier"`
	PlanCacheTTL Duration              `koanf:"plan_cache_ttl"`
	PlanCacheMax int                   `koanf:"plan_cache_max"`
	Tiers        map[string]TierConfig `koanf:"tiers"`
}

// BurstConfig configures the short-window limiter.
type BurstConfig struct {
	MaxRequests   int      `koanf:"max_requests"`
	Window        Duration `koanf:"window"`
	SweepInterval Duration `koanf:"sweep_interval"`
}

// ProviderConfig configures the AI completion provider.
type ProviderConfig struct {
	Name              string   `koanf:"name"`
	Model             string   `koanf:"model"`
	BaseURL           string   `koanf:"base_url"`
	AnthropicAPIKey   Secret   `koanf:"anthropic_api_key"`
	OpenAIAPIKey      Secret   `koanf:"openai_api_key"`
	Timeout           Duration `koanf:"timeout"`
	RequestsPerMinute float64  `koanf:"requests_per_minute"`
	MaxTokens         int      `koanf:"max_tokens"`
}

// APIKey returns the key of the selected provider.
func (p ProviderConfig) APIKey() Secret {
	if p.Name == ProviderOpenAI {
		return p.OpenAIAPIKey
	}
	return p.AnthropicAPIKey
}

// ContextConfig bounds the rendered context block.
type ContextConfig struct {
	MaxChars       int  `koanf:"max_chars"`
	MaxSourceChars int  `koanf:"max_source_chars"`
	MaxFieldChars  int  `koanf:"max_field_chars"`
	MaxItems       int  `koanf:"max_items"`
	ScrubSecrets   bool `koanf:"scrub_secrets"`

	// GitleaksRules adds the gitleaks rule set to the scrubber.
	GitleaksRules bool `koanf:"gitleaks_rules"`
}

// PromptsConfig points at an optional prompt override file.
type PromptsConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Context: ContextConfig{ScrubSecrets: true, GitleaksRules: true}}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if c.Store.Path == "" {
		return errors.New("store path is required")
	}

	switch c.Quota.Backend {
	case QuotaBackendStore:
	case QuotaBackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis addr is required when quota backend is redis")
		}
	default:
		return fmt.Errorf("unknown quota backend %q", c.Quota.Backend)
	}
	if _, ok := c.Quota.Tiers[c.Quota.DefaultTier]; !ok {
		return fmt.Errorf("default tier %q is not defined", c.Quota.DefaultTier)
	}
	for name, tier := range c.Quota.Tiers {
		for category, limit := range tier.Limits {
			if limit < 0 {
				return fmt.Errorf("tier %s: %s limit must be >= 0", name, category)
			}
		}
	}

	if c.Burst.MaxRequests < 1 {
		return fmt.Errorf("burst max_requests must be >= 1, got %d", c.Burst.MaxRequests)
	}
	if c.Burst.Window.Duration() < time.Second {
		return fmt.Errorf("burst window must be at least 1s, got %s", c.Burst.Window.Duration())
	}

	switch c.Provider.Name {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	if c.Provider.Timeout.Duration() <= 0 {
		return errors.New("provider timeout must be positive")
	}
	if c.Provider.RequestsPerMinute <= 0 {
		return errors.New("provider requests_per_minute must be positive")
	}

	if c.Context.MaxSourceChars > c.Context.MaxChars {
		return fmt.Errorf("context max_source_chars (%d) exceeds max_chars (%d)",
			c.Context.MaxSourceChars, c.Context.MaxChars)
	}
	return nil
}
