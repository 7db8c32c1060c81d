package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// ModelAliases lets routing tables, fallback chains and context rules name
// models by short names ("fast", "quality"). It also lists the model ids each
// completion provider serves, which the validate command checks profiles
// against.
type ModelAliases struct {
	Aliases   map[string]string   `yaml:"aliases"`
	Providers map[string][]string `yaml:"providers"`
}

// LoadAliases reads a models.yaml holding an aliases table and the model ids
// each completion provider serves.
func LoadAliases(path string) (*ModelAliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model aliases: %w", err)
	}

	aliases := ModelAliases{
		Aliases:   map[string]string{},
		Providers: map[string][]string{},
	}
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("parse model aliases %s: %w", path, err)
	}
	return &aliases, nil
}

// LoadAliasesWithFallback loads ~/.sitegen/models.yaml, then defaultPath,
// then the built-in aliases.
func LoadAliasesWithFallback(defaultPath string) (*ModelAliases, error) {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".sitegen", "models.yaml"))
	}
	if defaultPath != "" {
		candidates = append(candidates, defaultPath)
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return LoadAliases(path)
		}
	}
	return DefaultAliases(), nil
}

// Resolve maps a routing-table entry such as "quality" to the model id the
// router dispatches to. Ids that are not aliases pass through.
func (a *ModelAliases) Resolve(modelOrAlias string) string {
	if canonical, ok := a.lookup(modelOrAlias); ok {
		return canonical
	}
	return modelOrAlias
}

// IsAlias reports whether name is a short name rather than a model id.
func (a *ModelAliases) IsAlias(name string) bool {
	_, ok := a.lookup(name)
	return ok
}

func (a *ModelAliases) lookup(name string) (string, bool) {
	if a == nil {
		return "", false
	}
	canonical, ok := a.Aliases[name]
	return canonical, ok
}

// ListAliases returns a copy of the alias table.
func (a *ModelAliases) ListAliases() map[string]string {
	if a == nil || a.Aliases == nil {
		return map[string]string{}
	}
	return maps.Clone(a.Aliases)
}

// ListProviders returns the completion providers in name order.
func (a *ModelAliases) ListProviders() []string {
	if a == nil || len(a.Providers) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(a.Providers))
}

// GetProviderModels returns the model ids a provider's adapter serves.
func (a *ModelAliases) GetProviderModels(provider string) []string {
	if a == nil {
		return nil
	}
	return a.Providers[provider]
}

// GetProviderForModel names the adapter that serves model, or "". Providers
// are searched in name order so a model listed twice resolves the same way
// every time.
func (a *ModelAliases) GetProviderForModel(model string) string {
	for _, provider := range a.ListProviders() {
		if slices.Contains(a.Providers[provider], model) {
			return provider
		}
	}
	return ""
}

// ApplyTo rewrites aliases in the routing tables, fallback chains and
// context rules of cfg to canonical model ids.
func (a *ModelAliases) ApplyTo(cfg *RoutingConfig) {
	if a == nil || cfg == nil {
		return
	}
	for task, routes := range cfg.Tasks {
		cfg.Tasks[task] = TaskRoutes{
			Quality: a.Resolve(routes.Quality),
			Speed:   a.Resolve(routes.Speed),
			Cost:    a.Resolve(routes.Cost),
		}
	}
	chains := make(map[string][]string, len(cfg.FallbackChains))
	for primary, chain := range cfg.FallbackChains {
		resolved := make([]string, len(chain))
		for i, m := range chain {
			resolved[i] = a.Resolve(m)
		}
		chains[a.Resolve(primary)] = resolved
	}
	cfg.FallbackChains = chains
	for i := range cfg.ContextRules {
		if cfg.ContextRules[i].PreferModel != "" {
			cfg.ContextRules[i].PreferModel = a.Resolve(cfg.ContextRules[i].PreferModel)
		}
	}
}

// ValidateRoutingConfig checks that every profiled model is served by the
// provider its profile names.
func (a *ModelAliases) ValidateRoutingConfig(cfg *RoutingConfig) []error {
	if a == nil || cfg == nil || len(a.Providers) == 0 {
		return nil
	}

	var errs []error
	for _, model := range sortedKeys(cfg.Models) {
		profile := cfg.Models[model]
		models, ok := a.Providers[profile.Provider]
		if !ok {
			errs = append(errs, fmt.Errorf("model %q: unknown provider %q", model, profile.Provider))
			continue
		}
		if !slices.Contains(models, model) {
			errs = append(errs, fmt.Errorf("model %q not in %s provider list", model, profile.Provider))
		}
	}
	return errs
}

// DefaultAliases returns the built-in aliases for the default model profiles.
func DefaultAliases() *ModelAliases {
	return &ModelAliases{
		Aliases: map[string]string{
			"quality":  "claude-sonnet-4-20250514",
			"fast":     "claude-3-5-haiku-20241022",
			"balanced": "gpt-4o",
			"mini":     "gpt-4o-mini",
			"flash":    "gemini-2.0-flash",
			"cheap":    "deepseek-chat",
		},
		Providers: map[string][]string{
			"anthropic": {"claude-sonnet-4-20250514", "claude-3-5-haiku-20241022"},
			"openai":    {"gpt-4o", "gpt-4o-mini"},
			"google":    {"gemini-2.0-flash"},
			"deepseek":  {"deepseek-chat"},
		},
	}
}
