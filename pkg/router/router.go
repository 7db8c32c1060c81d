package router

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zen-systems/sitegen/pkg/config"
	"github.com/zen-systems/sitegen/pkg/logger"
)

// ErrUnknownTask is returned when a task has no routing table.
var ErrUnknownTask = errors.New("unknown task")

// Router picks models for tasks.
type Router interface {
	Route(task string, rc Context, opts RouteOptions) (Selection, error)
}

// ReliabilitySource supplies historical reliability to the router.
type ReliabilitySource interface {
	ShouldAvoid(model string, threshold float64) bool
	RecommendModel(task, current string) string
}

// RouteInfo describes one task's routing tables.
type RouteInfo struct {
	Task      string              `json:"task"`
	Quality   string              `json:"quality"`
	Speed     string              `json:"speed"`
	Cost      string              `json:"cost"`
	Fallbacks map[string][]string `json:"fallbacks"`
}

// ModelRouter routes from static tables. It never performs I/O.
type ModelRouter struct {
	config  *config.RoutingConfig
	rules   *RuleSet
	tracker ReliabilitySource
	logger  logger.Logger
}

// RouterOption configures a ModelRouter.
type RouterOption func(*ModelRouter)

// WithTracker lets the router steer away from models with a poor record.
func WithTracker(t ReliabilitySource) RouterOption {
	return func(r *ModelRouter) {
		r.tracker = t
	}
}

// WithLogger sets the router's logger.
func WithLogger(l logger.Logger) RouterOption {
	return func(r *ModelRouter) {
		r.logger = l
	}
}

// NewRouter creates a router over cfg.
func NewRouter(cfg *config.RoutingConfig, opts ...RouterOption) *ModelRouter {
	r := &ModelRouter{
		config: cfg,
		rules:  NewRuleSet(cfg.ContextRules),
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route selects a primary model and fallback chain for task.
func (r *ModelRouter) Route(task string, rc Context, opts RouteOptions) (Selection, error) {
	routes, ok := r.config.Tasks[task]
	if !ok {
		return Selection{}, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}
	priority := opts.Priority
	if priority == "" {
		priority = PriorityQuality
	}

	tablePick := tableModel(routes, priority)
	sel := Selection{
		Task:     task,
		Priority: priority,
		Primary:  tablePick,
		Reasons:  []string{fmt.Sprintf("table %s/%s -> %s", task, priority, tablePick)},
	}

	if rule, ok := r.rules.Match(task, rc); ok {
		if model, reason := r.applyRule(rule, task, routes, priority, sel.Primary); model != sel.Primary {
			sel.Primary = model
			sel.Reasons = append(sel.Reasons, reason)
		}
	}

	if r.tracker != nil && r.tracker.ShouldAvoid(sel.Primary, 0) {
		if alt := r.healthyAlternative(task, sel.Primary); alt != "" {
			sel.Reasons = append(sel.Reasons, fmt.Sprintf("reliability: avoiding %s, using %s", sel.Primary, alt))
			sel.Primary = alt
		}
	}

	if contains(opts.Avoid, sel.Primary) {
		for _, m := range r.chainFor(sel.Primary) {
			if !contains(opts.Avoid, m) {
				sel.Reasons = append(sel.Reasons, fmt.Sprintf("caller avoided %s, using %s", sel.Primary, m))
				sel.Primary = m
				break
			}
		}
	}

	sel.Fallbacks = r.fallbacks(sel.Primary, tablePick)
	sel.EstimatedCost, sel.EstimatedLatency = r.Estimate(sel.Primary, task)

	r.logger.Debug("routed task",
		"task", task, "priority", string(priority), "industry", rc.Industry,
		"primary", sel.Primary, "fallbacks", sel.Fallbacks)
	return sel, nil
}

func tableModel(routes config.TaskRoutes, p Priority) string {
	switch p {
	case PrioritySpeed:
		return routes.Speed
	case PriorityCost:
		return routes.Cost
	default:
		return routes.Quality
	}
}

// applyRule returns the model a matched context rule asks for.
func (r *ModelRouter) applyRule(rule compiledRule, task string, routes config.TaskRoutes, p Priority, current string) (string, string) {
	if rule.preferModel != "" {
		return rule.preferModel, fmt.Sprintf("rule %s: prefer %s", rule.name, rule.preferModel)
	}
	if rule.minQuality <= 0 || r.quality(current) >= rule.minQuality {
		return current, ""
	}

	candidates := uniq(append([]string{routes.Quality, routes.Speed, routes.Cost}, r.chainFor(current)...))
	var eligible []string
	for _, m := range candidates {
		if r.quality(m) >= rule.minQuality {
			eligible = append(eligible, m)
		}
	}
	if len(eligible) == 0 {
		eligible = candidates
		sort.SliceStable(eligible, func(i, j int) bool { return r.quality(eligible[i]) > r.quality(eligible[j]) })
		return eligible[0], fmt.Sprintf("rule %s: no model meets %.2f, using best %s", rule.name, rule.minQuality, eligible[0])
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		ci, li := r.Estimate(eligible[i], task)
		cj, lj := r.Estimate(eligible[j], task)
		switch p {
		case PrioritySpeed:
			return li < lj
		case PriorityCost:
			return ci < cj
		default:
			return r.quality(eligible[i]) > r.quality(eligible[j])
		}
	})
	return eligible[0], fmt.Sprintf("rule %s: quality >= %.2f -> %s", rule.name, rule.minQuality, eligible[0])
}

func (r *ModelRouter) healthyAlternative(task, primary string) string {
	if rec := r.tracker.RecommendModel(task, primary); rec != primary && !r.tracker.ShouldAvoid(rec, 0) {
		return rec
	}
	for _, m := range r.chainFor(primary) {
		if !r.tracker.ShouldAvoid(m, 0) {
			return m
		}
	}
	return ""
}

func (r *ModelRouter) fallbacks(primary, tablePick string) []string {
	chain := r.chainFor(primary)
	if tablePick != primary {
		chain = append([]string{tablePick}, chain...)
	}
	out := make([]string, 0, len(chain))
	for _, m := range uniq(chain) {
		if m != primary {
			out = append(out, m)
		}
	}
	return out
}

func (r *ModelRouter) chainFor(model string) []string {
	return append([]string(nil), r.config.FallbackChains[model]...)
}

func (r *ModelRouter) quality(model string) float64 {
	return r.config.Models[model].Quality
}

// Estimate returns the expected cost in USD and latency of running task on
// model, from the static token estimates and model profile.
func (r *ModelRouter) Estimate(model, task string) (float64, time.Duration) {
	profile, ok := r.config.Models[model]
	if !ok {
		return 0, 0
	}
	tokens := r.config.TokenEstimates[task]
	cost := float64(tokens.Input)/1000*profile.Pricing.PromptPer1K +
		float64(tokens.Output)/1000*profile.Pricing.CompletionPer1K
	latencyMs := profile.LatencyMs + tokens.Output*profile.LatencyPer1KMs/1000
	return cost, time.Duration(latencyMs) * time.Millisecond
}

// Routes lists the routing tables sorted by task.
func (r *ModelRouter) Routes() []RouteInfo {
	tasks := make([]string, 0, len(r.config.Tasks))
	for t := range r.config.Tasks {
		tasks = append(tasks, t)
	}
	sort.Strings(tasks)

	out := make([]RouteInfo, 0, len(tasks))
	for _, t := range tasks {
		routes := r.config.Tasks[t]
		info := RouteInfo{
			Task:      t,
			Quality:   routes.Quality,
			Speed:     routes.Speed,
			Cost:      routes.Cost,
			Fallbacks: make(map[string][]string),
		}
		for _, m := range []string{routes.Quality, routes.Speed, routes.Cost} {
			info.Fallbacks[m] = r.chainFor(m)
		}
		out = append(out, info)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func uniq(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
