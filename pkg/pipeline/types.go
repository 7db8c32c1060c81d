package pipeline

import (
	"encoding/json"
	"time"

	"github.com/zen-systems/sitegen/pkg/failure"
	"github.com/zen-systems/sitegen/pkg/router"
)

// Provenance records where an item's payload came from.
type Provenance string

const (
	ProvenanceGenerated Provenance = "generated"
	ProvenanceCached    Provenance = "cached"
	ProvenanceFallback  Provenance = "fallback"
)

// GenerationContext is the business information a run is about.
type GenerationContext struct {
	BusinessName string `json:"business_name,omitempty"`
	Industry     string `json:"industry,omitempty"`
	Description  string `json:"description,omitempty"`
	Location     string `json:"location,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

// Request is one generation run.
type Request struct {
	Prompt   string            `json:"prompt"`
	Context  GenerationContext `json:"context"`
	Priority router.Priority   `json:"priority,omitempty"`
	// Items skips selection and fills exactly these item kinds.
	Items []string `json:"items,omitempty"`
	// MaxBudgetUSD overrides the configured per-run budget when positive.
	MaxBudgetUSD float64 `json:"max_budget_usd,omitempty"`
}

// ItemResult is the filled payload for one selected item.
type ItemResult struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	Provenance Provenance      `json:"provenance"`
	Model      string          `json:"model,omitempty"`
	Latency    time.Duration   `json:"latency"`
}

// ItemError describes why an item fell back.
type ItemError struct {
	Item        string         `json:"item"`
	Kind        failure.Kind   `json:"kind"`
	Action      failure.Action `json:"action"`
	Message     string         `json:"message"`
	UserMessage string         `json:"user_message"`
}

// SelectionInfo describes how the item list was chosen.
type SelectionInfo struct {
	Items     []string      `json:"items"`
	Model     string        `json:"model,omitempty"`
	Defaulted bool          `json:"defaulted"`
	Reason    string        `json:"reason,omitempty"`
	Latency   time.Duration `json:"latency"`
}

// Metrics aggregates one run.
type Metrics struct {
	TotalLatency         time.Duration `json:"total_latency"`
	SelectionLatency     time.Duration `json:"selection_latency"`
	FillLatency          time.Duration `json:"fill_latency"`
	CacheHits            int           `json:"cache_hits"`
	Generated            int           `json:"generated"`
	Fallbacks            int           `json:"fallbacks"`
	Calls                int           `json:"calls"`
	EstimatedCost        float64       `json:"estimated_cost"`
	EstimatedCostSaved   float64       `json:"estimated_cost_saved"`
	EstimatedTokensSaved int           `json:"estimated_tokens_saved"`
	BudgetExceeded       bool          `json:"budget_exceeded,omitempty"`
}

// Outcome is the result of a run. Items follow the selection order and
// there is exactly one per selected item.
type Outcome struct {
	RunID     string        `json:"run_id"`
	Success   bool          `json:"success"`
	Industry  string        `json:"industry,omitempty"`
	Selection SelectionInfo `json:"selection"`
	Items     []ItemResult  `json:"items"`
	Errors    []ItemError   `json:"errors,omitempty"`
	Metrics   Metrics       `json:"metrics"`
}

// Item returns the result for id.
func (o *Outcome) Item(id string) (ItemResult, bool) {
	for _, it := range o.Items {
		if it.ID == id {
			return it, true
		}
	}
	return ItemResult{}, false
}
