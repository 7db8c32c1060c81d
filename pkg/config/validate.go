package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that every model named by a table,
// chain or rule has a profile.
func Validate(cfg *RoutingConfig) error {
	if cfg == nil {
		return errors.New("routing config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid routing config: %w", err)
	}

	var errs []error
	for _, task := range sortedKeys(cfg.Tasks) {
		routes := cfg.Tasks[task]
		for _, model := range []string{routes.Quality, routes.Speed, routes.Cost} {
			if _, ok := cfg.Models[model]; !ok {
				errs = append(errs, fmt.Errorf("task %q: unknown model %q", task, model))
			}
		}
	}
	for _, primary := range sortedKeys(cfg.FallbackChains) {
		for _, model := range cfg.FallbackChains[primary] {
			if _, ok := cfg.Models[model]; !ok {
				errs = append(errs, fmt.Errorf("fallback chain %q: unknown model %q", primary, model))
			}
		}
	}
	for _, rule := range cfg.ContextRules {
		if rule.PreferModel == "" {
			continue
		}
		if _, ok := cfg.Models[rule.PreferModel]; !ok {
			errs = append(errs, fmt.Errorf("context rule %q: unknown model %q", rule.Name, rule.PreferModel))
		}
	}
	if len(cfg.Pipeline.DefaultItems) == 0 {
		errs = append(errs, errors.New("pipeline.default_items must not be empty"))
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
