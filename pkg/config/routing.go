package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Routing tasks known to the router.
const (
	TaskSelection = "selection"
	TaskStructure = "structure"
	TaskContent   = "content"
	TaskSEO       = "seo"
	TaskStyling   = "styling"
)

// RoutingConfig holds model routing tables and the resilience settings
// that surround a generation run.
type RoutingConfig struct {
	Tasks          map[string]TaskRoutes    `yaml:"tasks" validate:"required,min=1,dive"`
	Models         map[string]ModelProfile  `yaml:"models" validate:"required,min=1,dive"`
	FallbackChains map[string][]string      `yaml:"fallback_chains,omitempty"`
	TokenEstimates map[string]TokenEstimate `yaml:"token_estimates,omitempty"`
	ContextRules   []ContextRule            `yaml:"context_rules,omitempty" validate:"dive"`
	Industries     map[string][]string      `yaml:"industries,omitempty"`
	Breaker        BreakerConfig            `yaml:"breaker,omitempty"`
	Retry          RetryConfig              `yaml:"retry,omitempty"`
	Pipeline       PipelineConfig           `yaml:"pipeline,omitempty"`
	RateLimits     map[string]RateLimit     `yaml:"rate_limits,omitempty" validate:"dive"`
}

// TaskRoutes is the per-priority primary model for one task.
type TaskRoutes struct {
	Quality string `yaml:"quality" validate:"required"`
	Speed   string `yaml:"speed" validate:"required"`
	Cost    string `yaml:"cost" validate:"required"`
}

// ModelProfile carries the static facts the router estimates from.
type ModelProfile struct {
	Provider       string       `yaml:"provider" validate:"required"`
	Quality        float64      `yaml:"quality" validate:"gte=0,lte=1"`
	LatencyMs      int          `yaml:"latency_ms" validate:"gte=0"`
	LatencyPer1KMs int          `yaml:"latency_per_1k_ms" validate:"gte=0"`
	Pricing        ModelPricing `yaml:"pricing"`
}

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty" validate:"gte=0"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty" validate:"gte=0"`
}

// TokenEstimate is the expected prompt/completion size for a task.
type TokenEstimate struct {
	Input  int `yaml:"input" validate:"gte=0"`
	Output int `yaml:"output" validate:"gte=0"`
}

// ContextRule overrides the table pick when the generation context matches.
// Empty Industries or Tasks match everything.
type ContextRule struct {
	Name        string   `yaml:"name" validate:"required"`
	Industries  []string `yaml:"industries,omitempty"`
	Tasks       []string `yaml:"tasks,omitempty"`
	MinQuality  float64  `yaml:"min_quality,omitempty" validate:"gte=0,lte=1"`
	PreferModel string   `yaml:"prefer_model,omitempty"`
}

// BreakerConfig holds per-model circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold  int `yaml:"failure_threshold,omitempty" validate:"gte=0"`
	RecoveryTimeoutMs int `yaml:"recovery_timeout_ms,omitempty" validate:"gte=0"`
}

// RetryConfig defines retry and backoff behavior.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty" validate:"gte=0"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty" validate:"gte=0"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty" validate:"gte=0"`
}

// PipelineConfig tunes the two-stage generation run.
type PipelineConfig struct {
	SelectionTimeoutMs int               `yaml:"selection_timeout_ms,omitempty" validate:"gte=0"`
	SimpleTimeoutMs    int               `yaml:"simple_timeout_ms,omitempty" validate:"gte=0"`
	ComplexTimeoutMs   int               `yaml:"complex_timeout_ms,omitempty" validate:"gte=0"`
	ComplexItems       []string          `yaml:"complex_items,omitempty"`
	DefaultItems       []string          `yaml:"default_items,omitempty"`
	ItemTasks          map[string]string `yaml:"item_tasks,omitempty"`
	MaxConcurrency     int               `yaml:"max_concurrency,omitempty" validate:"gte=0"`
	ItemRetries        int               `yaml:"item_retries,omitempty" validate:"gte=0"`
	CacheTTLSeconds    int               `yaml:"cache_ttl_seconds,omitempty" validate:"gte=0"`
	CacheSize          int               `yaml:"cache_size,omitempty" validate:"gte=0"`
	SuccessRatio       float64           `yaml:"success_ratio,omitempty" validate:"gte=0,lt=1"`
	MaxBudgetUSD       float64           `yaml:"max_budget_usd,omitempty" validate:"gte=0"`
	// RepairInvalid allows one repair round when a reply fails its schema.
	RepairInvalid bool `yaml:"repair_invalid,omitempty"`
}

// RateLimit bounds dispatch to one provider.
type RateLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"gt=0"`
	Burst             int `yaml:"burst,omitempty" validate:"gte=0"`
}

// RecoveryTimeout returns the breaker cool-down as a duration.
func (b BreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(b.RecoveryTimeoutMs) * time.Millisecond
}

// SimpleTimeout returns the per-item deadline for ordinary items.
func (p PipelineConfig) SimpleTimeout() time.Duration {
	return time.Duration(p.SimpleTimeoutMs) * time.Millisecond
}

// ComplexTimeout returns the per-item deadline for items in ComplexItems.
func (p PipelineConfig) ComplexTimeout() time.Duration {
	return time.Duration(p.ComplexTimeoutMs) * time.Millisecond
}

// SelectionTimeout returns the deadline for the whole selection stage.
func (p PipelineConfig) SelectionTimeout() time.Duration {
	return time.Duration(p.SelectionTimeoutMs) * time.Millisecond
}

// CacheTTL returns the content cache entry lifetime.
func (p PipelineConfig) CacheTTL() time.Duration {
	return time.Duration(p.CacheTTLSeconds) * time.Second
}

// ProviderFor returns the provider serving model, or "".
func (c *RoutingConfig) ProviderFor(model string) string {
	if c == nil {
		return ""
	}
	if p, ok := c.Models[model]; ok {
		return p.Provider
	}
	return ""
}

// LoadRoutingConfig reads routing configuration from a YAML file, resolving
// the built-in model aliases. Missing sections are filled from
// DefaultRoutingConfig.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	return LoadRoutingConfigWithAliases(path, DefaultAliases())
}

// LoadRoutingConfigWithAliases is LoadRoutingConfig with caller-supplied aliases.
func LoadRoutingConfigWithAliases(path string, aliases *ModelAliases) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RoutingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	fillMissingSections(&cfg, DefaultRoutingConfig())
	aliases.ApplyTo(&cfg)
	applyRoutingDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultRoutingConfig returns the default routing configuration.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{
		Tasks: map[string]TaskRoutes{
			TaskSelection: {Quality: "gpt-4o", Speed: "gemini-2.0-flash", Cost: "gpt-4o-mini"},
			TaskStructure: {Quality: "claude-sonnet-4-20250514", Speed: "gpt-4o-mini", Cost: "deepseek-chat"},
			TaskContent:   {Quality: "claude-sonnet-4-20250514", Speed: "claude-3-5-haiku-20241022", Cost: "gemini-2.0-flash"},
			TaskSEO:       {Quality: "gpt-4o", Speed: "gemini-2.0-flash", Cost: "gpt-4o-mini"},
			TaskStyling:   {Quality: "claude-sonnet-4-20250514", Speed: "gpt-4o-mini", Cost: "deepseek-chat"},
		},
		Models: map[string]ModelProfile{
			"claude-sonnet-4-20250514": {
				Provider: "anthropic", Quality: 0.95, LatencyMs: 900, LatencyPer1KMs: 14000,
				Pricing: ModelPricing{PromptPer1K: 0.003, CompletionPer1K: 0.015},
			},
			"claude-3-5-haiku-20241022": {
				Provider: "anthropic", Quality: 0.82, LatencyMs: 500, LatencyPer1KMs: 7000,
				Pricing: ModelPricing{PromptPer1K: 0.0008, CompletionPer1K: 0.004},
			},
			"gpt-4o": {
				Provider: "openai", Quality: 0.9, LatencyMs: 700, LatencyPer1KMs: 11000,
				Pricing: ModelPricing{PromptPer1K: 0.0025, CompletionPer1K: 0.01},
			},
			"gpt-4o-mini": {
				Provider: "openai", Quality: 0.76, LatencyMs: 400, LatencyPer1KMs: 8000,
				Pricing: ModelPricing{PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
			},
			"gemini-2.0-flash": {
				Provider: "google", Quality: 0.78, LatencyMs: 350, LatencyPer1KMs: 5000,
				Pricing: ModelPricing{PromptPer1K: 0.0001, CompletionPer1K: 0.0004},
			},
			"deepseek-chat": {
				Provider: "deepseek", Quality: 0.8, LatencyMs: 1200, LatencyPer1KMs: 16000,
				Pricing: ModelPricing{PromptPer1K: 0.00027, CompletionPer1K: 0.0011},
			},
		},
		FallbackChains: map[string][]string{
			"claude-sonnet-4-20250514":  {"gpt-4o", "claude-3-5-haiku-20241022", "gemini-2.0-flash"},
			"claude-3-5-haiku-20241022": {"gpt-4o-mini", "gemini-2.0-flash"},
			"gpt-4o":                    {"claude-sonnet-4-20250514", "gpt-4o-mini", "gemini-2.0-flash"},
			"gpt-4o-mini":               {"gemini-2.0-flash", "claude-3-5-haiku-20241022"},
			"gemini-2.0-flash":          {"gpt-4o-mini", "claude-3-5-haiku-20241022"},
			"deepseek-chat":             {"gpt-4o-mini", "gemini-2.0-flash"},
		},
		TokenEstimates: map[string]TokenEstimate{
			TaskSelection: {Input: 600, Output: 200},
			TaskStructure: {Input: 1200, Output: 1500},
			TaskContent:   {Input: 900, Output: 700},
			TaskSEO:       {Input: 500, Output: 300},
			TaskStyling:   {Input: 700, Output: 900},
		},
		ContextRules: []ContextRule{
			{
				Name:       "regulated-industries",
				Industries: []string{"healthcare", "finance", "legal"},
				Tasks:      []string{TaskContent, TaskSEO},
				MinQuality: 0.9,
			},
			{
				Name:        "creative-copy",
				Industries:  []string{"restaurant", "photography", "fitness"},
				Tasks:       []string{TaskContent},
				PreferModel: "claude-sonnet-4-20250514",
			},
			{
				Name:       "commerce-structure",
				Industries: []string{"ecommerce"},
				Tasks:      []string{TaskStructure},
				MinQuality: 0.85,
			},
		},
		Industries: map[string][]string{
			"healthcare":  {"clinic", "dental", "dentist", "medical", "doctor", "therapy", "hospital", "healthcare"},
			"finance":     {"bank", "accounting", "accountant", "investment", "financial", "wealth", "insurance"},
			"legal":       {"law firm", "lawyer", "attorney", "legal"},
			"restaurant":  {"restaurant", "cafe", "bakery", "bistro", "menu", "catering"},
			"ecommerce":   {"online store", "shop", "store", "ecommerce", "products"},
			"saas":        {"saas", "software", "platform", "startup", "app"},
			"fitness":     {"gym", "fitness", "yoga", "personal trainer", "pilates"},
			"real_estate": {"real estate", "realtor", "property", "properties"},
			"photography": {"photographer", "photography", "photo studio"},
		},
		Pipeline: PipelineConfig{
			ComplexItems: []string{"features", "pricing", "testimonials", "faq"},
			DefaultItems: []string{"hero", "features", "about", "contact", "footer"},
			ItemTasks: map[string]string{
				"footer":  TaskStructure,
				"gallery": TaskStyling,
				"seo":     TaskSEO,
			},
		},
	}

	applyRoutingDefaults(cfg)
	return cfg
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.RecoveryTimeoutMs == 0 {
		cfg.Breaker.RecoveryTimeoutMs = 60000
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 2
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 1000
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 16000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	p := &cfg.Pipeline
	if p.SelectionTimeoutMs == 0 {
		p.SelectionTimeoutMs = 20000
	}
	if p.SimpleTimeoutMs == 0 {
		p.SimpleTimeoutMs = 5000
	}
	if p.ComplexTimeoutMs == 0 {
		p.ComplexTimeoutMs = 15000
	}
	if p.MaxConcurrency == 0 {
		p.MaxConcurrency = 4
	}
	if p.CacheTTLSeconds == 0 {
		p.CacheTTLSeconds = 3600
	}
	if p.CacheSize == 0 {
		p.CacheSize = 256
	}
}

// fillMissingSections copies whole sections the file left out from def.
func fillMissingSections(cfg, def *RoutingConfig) {
	if cfg.Tasks == nil {
		cfg.Tasks = def.Tasks
	}
	if cfg.Models == nil {
		cfg.Models = def.Models
	}
	if cfg.FallbackChains == nil {
		cfg.FallbackChains = def.FallbackChains
	}
	if cfg.TokenEstimates == nil {
		cfg.TokenEstimates = def.TokenEstimates
	}
	if cfg.ContextRules == nil {
		cfg.ContextRules = def.ContextRules
	}
	if cfg.Industries == nil {
		cfg.Industries = def.Industries
	}
	if cfg.Pipeline.ComplexItems == nil {
		cfg.Pipeline.ComplexItems = def.Pipeline.ComplexItems
	}
	if cfg.Pipeline.DefaultItems == nil {
		cfg.Pipeline.DefaultItems = def.Pipeline.DefaultItems
	}
	if cfg.Pipeline.ItemTasks == nil {
		cfg.Pipeline.ItemTasks = def.Pipeline.ItemTasks
	}
}
