package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigUsesFileAPIKeysWhenEnvEmpty(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	configDir := filepath.Join(home, ".sitegen")
	require.NoError(t, os.MkdirAll(configDir, 0700))
	data := []byte("api_keys:\n  anthropic: file-ant\n  openai: file-openai\n")
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0600))

	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("DEEPSEEK_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file-ant", cfg.AnthropicAPIKey)
	assert.Equal(t, "env-openai", cfg.OpenAIAPIKey)
	assert.False(t, cfg.HasAdapter("google"))
	assert.True(t, cfg.HasAdapter("anthropic"))
	assert.NotNil(t, cfg.RoutingConfig)
}

func TestConfigUsesEnvAPIKeys(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	t.Setenv("ANTHROPIC_API_KEY", "env-ant")
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("GOOGLE_API_KEY", "env-google")
	t.Setenv("DEEPSEEK_API_KEY", "env-deepseek")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-ant", cfg.APIKey("anthropic"))
	assert.Equal(t, "env-openai", cfg.APIKey("openai"))
	assert.Equal(t, "env-google", cfg.APIKey("google"))
	assert.Equal(t, "env-deepseek", cfg.APIKey("deepseek"))
	assert.Empty(t, cfg.APIKey("mock"))
}

func TestLoadWithRoutingFile_MergesDefaults(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	path := filepath.Join(t.TempDir(), "routing.yaml")
	data := []byte(`
breaker:
  failure_threshold: 3
pipeline:
  max_concurrency: 8
  default_items: [hero, contact]
`)
	require.NoError(t, os.WriteFile(path, data, 0600))

	cfg, err := LoadWithRoutingFile(path)
	require.NoError(t, err)
	rc := cfg.RoutingConfig
	assert.Equal(t, 3, rc.Breaker.FailureThreshold)
	assert.Equal(t, 60000, rc.Breaker.RecoveryTimeoutMs)
	assert.Equal(t, 8, rc.Pipeline.MaxConcurrency)
	assert.Equal(t, []string{"hero", "contact"}, rc.Pipeline.DefaultItems)
	assert.Equal(t, 5000, rc.Pipeline.SimpleTimeoutMs)
	assert.Equal(t, 15000, rc.Pipeline.ComplexTimeoutMs)
	assert.Contains(t, rc.Tasks, TaskContent)
	assert.Equal(t, "anthropic", rc.ProviderFor("claude-sonnet-4-20250514"))
}

func TestLoadRoutingConfig_RejectsUnknownModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	data := []byte(`
tasks:
  content: {quality: ghost-model, speed: gpt-4o-mini, cost: gpt-4o-mini}
`)
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err := LoadRoutingConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost-model")
}

func TestLoadRoutingConfig_ResolvesAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	data := []byte(`
tasks:
  content: {quality: quality, speed: fast, cost: flash}
  selection: {quality: balanced, speed: flash, cost: mini}
fallback_chains:
  quality: [balanced, fast]
`)
	require.NoError(t, os.WriteFile(path, data, 0600))

	rc, err := LoadRoutingConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", rc.Tasks[TaskContent].Quality)
	assert.Equal(t, "gpt-4o-mini", rc.Tasks[TaskSelection].Cost)
	assert.Equal(t, []string{"gpt-4o", "claude-3-5-haiku-20241022"}, rc.FallbackChains["claude-sonnet-4-20250514"])
}

func TestValidate_FieldConstraints(t *testing.T) {
	cfg := DefaultRoutingConfig()
	cfg.Pipeline.SuccessRatio = 1.5
	require.Error(t, Validate(cfg))

	cfg = DefaultRoutingConfig()
	cfg.ContextRules = append(cfg.ContextRules, ContextRule{Name: "bad", PreferModel: "nope"})
	require.Error(t, Validate(cfg))

	require.NoError(t, Validate(DefaultRoutingConfig()))
}

func TestDefaultRoutingConfig_Defaults(t *testing.T) {
	cfg := DefaultRoutingConfig()
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 16000, cfg.Retry.MaxBackoffMs)
	assert.Equal(t, 1000, cfg.Retry.BaseBackoffMs)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrency)
	assert.Equal(t, 3600, cfg.Pipeline.CacheTTLSeconds)
	assert.NotEmpty(t, cfg.Pipeline.DefaultItems)
}

func TestLoad_ConfigDirOverrideAndMalformedFile(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	dir := filepath.Join(t.TempDir(), "conf")
	t.Setenv(ConfigDirEnv, dir)
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ConfigDir)
	assert.DirExists(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("api_keys: [not, a, map]\n"), 0o600))
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.yaml")
}

func TestLoad_ModelsFileInConfigDir(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	dir := t.TempDir()
	t.Setenv(ConfigDirEnv, dir)
	data := []byte("aliases:\n  house: gpt-4o-mini\nproviders:\n  openai: [gpt-4o-mini]\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models.yaml"), data, 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.Aliases.Resolve("house"))
}

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv(ConfigDirEnv, "")
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}
