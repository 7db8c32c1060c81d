package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zen-systems/sitegen/pkg/adapter"
	"github.com/zen-systems/sitegen/pkg/config"
	"github.com/zen-systems/sitegen/pkg/failure"
)

// ErrBudgetExceeded is wrapped by the quota error returned once a run's
// spend reaches its budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

type costTracker struct {
	mu           sync.Mutex
	cfg          *config.RoutingConfig
	totalUsage   adapter.Usage
	totalAmount  float64
	calls        int
	maxBudgetUSD float64
	exceeded     bool
}

func newCostTracker(cfg *config.RoutingConfig, maxBudgetUSD float64) *costTracker {
	return &costTracker{cfg: cfg, maxBudgetUSD: maxBudgetUSD}
}

// checkBudget refuses a call when spend so far, plus the projected cost of
// running task on model, would pass the budget.
func (t *costTracker) checkBudget(model, task string) error {
	if t == nil || t.maxBudgetUSD <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.totalAmount >= t.maxBudgetUSD {
		t.exceeded = true
		return failure.NewQuotaExceededError(
			fmt.Sprintf("budget %.4f exceeded (current total %.4f)", t.maxBudgetUSD, t.totalAmount), ErrBudgetExceeded)
	}
	projected := t.totalAmount + t.estimate(model, task)
	if projected > t.maxBudgetUSD {
		t.exceeded = true
		return failure.NewQuotaExceededError(
			fmt.Sprintf("budget %.4f exceeded (projected total %.4f)", t.maxBudgetUSD, projected), ErrBudgetExceeded)
	}
	return nil
}

// record adds a completed call and returns its cost. Without reported
// usage the static token estimate for task is charged.
func (t *costTracker) record(model, task string, usage *adapter.Usage) float64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var amount float64
	if usage != nil {
		u := normalizeUsage(usage)
		amount = estimateCost(t.cfg, model, u).Amount
		t.totalUsage = addUsage(t.totalUsage, u)
	} else {
		amount = t.estimate(model, task)
	}
	t.totalAmount += amount
	t.calls++
	return amount
}

func (t *costTracker) estimate(model, task string) float64 {
	if t.cfg == nil {
		return 0
	}
	tokens := t.cfg.TokenEstimates[task]
	return estimateCost(t.cfg, model, adapter.Usage{
		PromptTokens:     tokens.Input,
		CompletionTokens: tokens.Output,
	}).Amount
}

func (t *costTracker) snapshot() (total float64, usage adapter.Usage, calls int, exceeded bool) {
	if t == nil {
		return 0, adapter.Usage{}, 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalAmount, t.totalUsage, t.calls, t.exceeded
}

func normalizeUsage(u *adapter.Usage) adapter.Usage {
	if u == nil {
		return adapter.Usage{}
	}
	usage := *u
	if usage.TotalTokens == 0 && (usage.PromptTokens > 0 || usage.CompletionTokens > 0) {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

func estimateCost(cfg *config.RoutingConfig, model string, usage adapter.Usage) adapter.Cost {
	if cfg == nil {
		return adapter.Cost{Currency: "USD"}
	}
	profile, ok := cfg.Models[model]
	if !ok {
		return adapter.Cost{Currency: "USD"}
	}
	promptCost := (float64(usage.PromptTokens) / 1000.0) * profile.Pricing.PromptPer1K
	completionCost := (float64(usage.CompletionTokens) / 1000.0) * profile.Pricing.CompletionPer1K
	return adapter.Cost{
		Currency:     "USD",
		Amount:       promptCost + completionCost,
		IsEstimate:   true,
		PricingModel: "per_1k_tokens",
	}
}

func addUsage(a adapter.Usage, b adapter.Usage) adapter.Usage {
	return adapter.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
