package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigDirEnv overrides the ~/.sitegen config directory.
const ConfigDirEnv = "SITEGEN_CONFIG_DIR"

// providerKeyEnv names the environment variable holding each completion
// provider's API key.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"google":    "GOOGLE_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
}

// Config is everything sitegen reads at startup: provider credentials, the
// routing configuration and the model aliases. It is not modified after Load.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	RoutingConfig   *RoutingConfig
	Aliases         *ModelAliases
	ConfigDir       string
}

// FileConfig is the layout of config.yaml in the config directory.
type FileConfig struct {
	APIKeys APIKeysConfig `yaml:"api_keys"`
}

// APIKeysConfig holds provider keys from config.yaml. Environment variables
// win over these.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
	DeepSeek  string `yaml:"deepseek"`
}

func (k APIKeysConfig) forProvider(provider string) string {
	switch provider {
	case "anthropic":
		return k.Anthropic
	case "openai":
		return k.OpenAI
	case "google":
		return k.Google
	case "deepseek":
		return k.DeepSeek
	}
	return ""
}

// Load reads credentials and aliases from the config directory and the
// environment. routing.yaml in the config directory is used when present,
// otherwise DefaultRoutingConfig.
func Load() (*Config, error) {
	cfg, err := loadBase()
	if err != nil {
		return nil, err
	}

	routingPath := filepath.Join(cfg.ConfigDir, "routing.yaml")
	if _, err := os.Stat(routingPath); err != nil {
		cfg.RoutingConfig = DefaultRoutingConfig()
		return cfg, nil
	}
	routing, err := LoadRoutingConfigWithAliases(routingPath, cfg.Aliases)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing config: %w", err)
	}
	cfg.RoutingConfig = routing
	return cfg, nil
}

// LoadWithRoutingFile is Load with an explicit routing file.
func LoadWithRoutingFile(routingPath string) (*Config, error) {
	cfg, err := loadBase()
	if err != nil {
		return nil, err
	}

	routing, err := LoadRoutingConfigWithAliases(routingPath, cfg.Aliases)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing config from %s: %w", routingPath, err)
	}
	cfg.RoutingConfig = routing
	return cfg, nil
}

func loadBase() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	fileConfig, err := loadFileConfig(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return nil, err
	}
	aliases, err := LoadAliasesWithFallback(filepath.Join(configDir, "models.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load model aliases: %w", err)
	}

	key := func(provider string) string {
		if v := os.Getenv(providerKeyEnv[provider]); v != "" {
			return v
		}
		return fileConfig.APIKeys.forProvider(provider)
	}
	return &Config{
		AnthropicAPIKey: key("anthropic"),
		OpenAIAPIKey:    key("openai"),
		GoogleAPIKey:    key("google"),
		DeepSeekAPIKey:  key("deepseek"),
		Aliases:         aliases,
		ConfigDir:       configDir,
	}, nil
}

// APIKey returns the key for a completion provider, or "".
func (c *Config) APIKey(provider string) string {
	switch provider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "google":
		return c.GoogleAPIKey
	case "deepseek":
		return c.DeepSeekAPIKey
	}
	return ""
}

// HasAdapter reports whether provider has a key, so a live adapter can be
// built for it.
func (c *Config) HasAdapter(provider string) bool {
	return c.APIKey(provider) != ""
}

// loadFileConfig reads config.yaml. A missing file yields no keys; a
// malformed one is an error.
func loadFileConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func getConfigDir() (string, error) {
	configDir := os.Getenv(ConfigDirEnv)
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".sitegen")
	}
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", err
	}
	return configDir, nil
}
