package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the copyd config dir
// inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "copyd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8420, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "copyd", cfg.Observability.ServiceName)
	assert.Equal(t, QuotaBackendStore, cfg.Quota.Backend)
	assert.Equal(t, 20, cfg.Burst.MaxRequests)
	assert.Equal(t, time.Minute, cfg.Burst.Window.Duration())
	assert.Equal(t, ProviderAnthropic, cfg.Provider.Name)
	assert.True(t, cfg.Context.ScrubSecrets)
	assert.Equal(t, 3, cfg.Quota.Tiers["free"].Limits["generation"])
	assert.True(t, cfg.Quota.Tiers["pro"].Unlimited)
	assert.True(t, strings.HasSuffix(cfg.Store.Path, filepath.Join(".local", "share", "copyd", "copyd.db")))
	assert.False(t, strings.HasPrefix(cfg.Store.Path, "~"))
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  http_port: 9191
  shutdown_timeout: 3s
burst:
  max_requests: 5
  window: 30s
quota:
  tiers:
    free:
      limits:
        generation: 10
    agency:
      unlimited: true
provider:
  name: openai
  timeout: 45s
context:
  max_chars: 4000
  scrub_secrets: false
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, 5, cfg.Burst.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.Burst.Window.Duration())
	assert.Equal(t, 10, cfg.Quota.Tiers["free"].Limits["generation"])
	assert.True(t, cfg.Quota.Tiers["agency"].Unlimited)
	assert.Equal(t, ProviderOpenAI, cfg.Provider.Name)
	assert.Equal(t, "gpt-4o", cfg.Provider.Model)
	assert.Equal(t, 45*time.Second, cfg.Provider.Timeout.Duration())
	assert.Equal(t, 4000, cfg.Context.MaxChars)
	assert.False(t, cfg.Context.ScrubSecrets)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0600)

	t.Setenv("COPYD_SERVER_HTTP_PORT", "9292")
	t.Setenv("COPYD_PROVIDER_ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("COPYD_BURST_WINDOW", "2m")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9292, cfg.Server.Port)
	assert.Equal(t, "sk-ant-test", cfg.Provider.AnthropicAPIKey.Value())
	assert.Equal(t, "sk-ant-test", cfg.Provider.APIKey().Value())
	assert.Equal(t, 2*time.Minute, cfg.Burst.Window.Duration())
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	outside := filepath.Join(t.TempDir(), "config.yaml")

	_, err := LoadWithFile(outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_RejectsLargeFile(t *testing.T) {
	dir := setupTestHome(t)
	big := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	path := writeConfig(t, dir, big, 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad provider", "provider:\n  name: mistral\n", "unknown provider"},
		{"bad backend", "quota:\n  backend: memcached\n", "unknown quota backend"},
		{"redis without addr", "quota:\n  backend: redis\n", "redis addr is required"},
		{"burst window too small", "burst:\n  window: 500ms\n", "burst window"},
		{"negative tier limit", "quota:\n  tiers:\n    free:\n      limits:\n        generation: -2\n", "must be >= 0"},
		{"missing default tier", "quota:\n  default_tier: gold\n", "default tier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupTestHome(t)
			path := writeConfig(t, dir, tt.yaml, 0600)
			_, err := LoadWithFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.http_port", envKey("COPYD_SERVER_HTTP_PORT"))
	assert.Equal(t, "provider.openai_api_key", envKey("COPYD_PROVIDER_OPENAI_API_KEY"))
	assert.Equal(t, "debug", envKey("COPYD_DEBUG"))
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("sk-live-123")
	assert.Equal(t, "[REDACTED]", s.String())
	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))
	assert.True(t, s.IsSet())

	var back Secret
	assert.Error(t, back.UnmarshalJSON(b))
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
