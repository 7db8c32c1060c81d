// Package pipeline turns a generation request into model calls: one call
// selects the items to build, then each item is filled in parallel with its
// own timeout, cache lookup and fallback content.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zen-systems/sitegen/pkg/adapter"
	"github.com/zen-systems/sitegen/pkg/breaker"
	"github.com/zen-systems/sitegen/pkg/cache"
	"github.com/zen-systems/sitegen/pkg/config"
	"github.com/zen-systems/sitegen/pkg/content"
	"github.com/zen-systems/sitegen/pkg/failure"
	"github.com/zen-systems/sitegen/pkg/logger"
	"github.com/zen-systems/sitegen/pkg/metrics"
	"github.com/zen-systems/sitegen/pkg/reliability"
	"github.com/zen-systems/sitegen/pkg/router"
	"github.com/zen-systems/sitegen/pkg/schema"
)

// ErrNoSelection is returned when selection yields no items, not even
// from the default list.
var ErrNoSelection = errors.New("no items selected")

// minIndustryConfidence is the confidence an inferred industry needs before
// it is used for routing.
const minIndustryConfidence = 0.5

// Pipeline runs generation requests. All shared state (breaker, tracker,
// cache) lives on the Pipeline, so separate instances are independent.
type Pipeline struct {
	cfg       *config.RoutingConfig
	router    router.Router
	breaker   *breaker.Breaker
	tracker   *reliability.Tracker
	handler   *failure.Handler
	cache     *cache.Cache
	validator schema.Validator
	fallback  *content.Generator
	metrics   *metrics.Recorder
	logger    logger.Logger
	now       func() time.Time
	adapters  map[string]adapter.Adapter
	observer  Observer
	dispatch  *dispatcher
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRouter replaces the default adaptive router. If r also implements
// Observer it receives attempt observations.
func WithRouter(r router.Router) Option {
	return func(p *Pipeline) { p.router = r }
}

// WithBreaker shares a circuit breaker with the pipeline.
func WithBreaker(b *breaker.Breaker) Option {
	return func(p *Pipeline) { p.breaker = b }
}

// WithTracker shares a reliability tracker with the pipeline.
func WithTracker(t *reliability.Tracker) Option {
	return func(p *Pipeline) { p.tracker = t }
}

// WithHandler replaces the retry handler.
func WithHandler(h *failure.Handler) Option {
	return func(p *Pipeline) { p.handler = h }
}

// WithCache shares an item cache with the pipeline.
func WithCache(c *cache.Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithValidator replaces the schema catalog.
func WithValidator(v schema.Validator) Option {
	return func(p *Pipeline) { p.validator = v }
}

// WithFallbackGenerator replaces the fallback content generator.
func WithFallbackGenerator(g *content.Generator) Option {
	return func(p *Pipeline) { p.fallback = g }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the pipeline logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock overrides time.Now for the footer year and run timings.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline over the adapters, keyed by provider name.
// Anything not supplied through options is built from cfg.
func New(cfg *config.RoutingConfig, adapters map[string]adapter.Adapter, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("routing config is required")
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters configured")
	}

	p := &Pipeline{
		cfg:      cfg,
		adapters: adapters,
		logger:   logger.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.breaker == nil {
		p.breaker = breaker.New(breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			RecoveryTimeout:  cfg.Breaker.RecoveryTimeout(),
			OnStateChange:    p.onStateChange,
		})
	}
	if p.tracker == nil {
		p.tracker = reliability.NewTracker(reliability.WithLogger(p.logger))
	}
	if p.router == nil {
		p.router = router.NewAdaptiveRouter(
			router.NewRouter(cfg, router.WithTracker(p.tracker), router.WithLogger(p.logger)))
	}
	if obs, ok := p.router.(Observer); ok {
		p.observer = obs
	}
	if p.handler == nil {
		p.handler = failure.NewHandler(
			failure.WithBackoff(
				time.Duration(cfg.Retry.BaseBackoffMs)*time.Millisecond,
				time.Duration(cfg.Retry.MaxBackoffMs)*time.Millisecond),
			failure.WithLogger(p.logger))
	}
	if p.cache == nil {
		p.cache = cache.New(cfg.Pipeline.CacheSize, cfg.Pipeline.CacheTTL())
	}
	if p.validator == nil {
		catalog, err := schema.NewCatalog()
		if err != nil {
			return nil, err
		}
		p.validator = catalog
	}
	if p.fallback == nil {
		gen, err := content.NewGenerator()
		if err != nil {
			return nil, err
		}
		p.fallback = gen
	}

	p.dispatch = &dispatcher{
		cfg:      cfg,
		adapters: adapters,
		breaker:  p.breaker,
		tracker:  p.tracker,
		handler:  p.handler,
		observer: p.observer,
		metrics:  p.metrics,
		limiters: newLimiters(cfg.RateLimits),
		logger:   p.logger,
	}
	return p, nil
}

func (p *Pipeline) onStateChange(model string, from, to breaker.State) {
	p.logger.Warn("circuit state changed", "model", model, "from", from.String(), "to", to.String())
	p.metrics.CircuitTransition(model, to.String())
}

// Breaker returns the pipeline's circuit breaker.
func (p *Pipeline) Breaker() *breaker.Breaker { return p.breaker }

// Tracker returns the pipeline's reliability tracker.
func (p *Pipeline) Tracker() *reliability.Tracker { return p.tracker }

// Router returns the router in use.
func (p *Pipeline) Router() router.Router { return p.router }

// Cache returns the item cache.
func (p *Pipeline) Cache() *cache.Cache { return p.cache }

// Run executes selection then fill. It returns an error only when the
// request is invalid, selection yields nothing, or ctx ends; item failures
// become fallback items in the outcome. When ctx ends during fill the
// partial outcome is returned alongside ctx's error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	if strings.TrimSpace(req.Prompt) == "" && len(req.Items) == 0 {
		return nil, failure.NewValidationError("prompt is required", nil)
	}
	if req.Priority == "" {
		req.Priority = router.PriorityQuality
	}

	start := p.now()
	out := &Outcome{RunID: uuid.NewString()}
	log := p.logger.With("run_id", out.RunID)

	out.Industry = p.resolveIndustry(req, log)
	rc := router.Context{Industry: out.Industry}

	budget := p.cfg.Pipeline.MaxBudgetUSD
	if req.MaxBudgetUSD > 0 {
		budget = req.MaxBudgetUSD
	}
	costs := newCostTracker(p.cfg, budget)

	items, info, err := p.selectItems(ctx, req, rc, costs, log)
	out.Selection = info
	out.Metrics.SelectionLatency = info.Latency
	if err != nil {
		p.metrics.Run(false)
		return nil, err
	}

	fillStart := p.now()
	out.Items, out.Errors = p.fill(ctx, req, rc, items, costs, &out.Metrics, log)
	out.Metrics.FillLatency = p.now().Sub(fillStart)

	for _, it := range out.Items {
		switch it.Provenance {
		case ProvenanceGenerated:
			out.Metrics.Generated++
		case ProvenanceCached:
			out.Metrics.CacheHits++
		case ProvenanceFallback:
			out.Metrics.Fallbacks++
		}
		p.metrics.Item(string(it.Provenance))
	}
	total, _, calls, exceeded := costs.snapshot()
	out.Metrics.EstimatedCost = total
	out.Metrics.Calls = calls
	out.Metrics.BudgetExceeded = exceeded
	out.Metrics.TotalLatency = p.now().Sub(start)

	nonFallback := len(out.Items) - out.Metrics.Fallbacks
	out.Success = float64(nonFallback) > p.cfg.Pipeline.SuccessRatio*float64(len(out.Items))
	p.metrics.Run(out.Success)

	log.Info("generation finished",
		"success", out.Success, "items", len(out.Items),
		"generated", out.Metrics.Generated, "cached", out.Metrics.CacheHits,
		"fallbacks", out.Metrics.Fallbacks, "cost", out.Metrics.EstimatedCost,
		"duration", out.Metrics.TotalLatency)

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (p *Pipeline) resolveIndustry(req Request, log logger.Logger) string {
	if ind := strings.TrimSpace(req.Context.Industry); ind != "" {
		return strings.ToLower(ind)
	}
	inf := router.InferIndustry(req.Prompt+" "+req.Context.Description, p.cfg.Industries)
	if inf.Industry == "" || inf.Confidence < minIndustryConfidence {
		return ""
	}
	log.Debug("inferred industry", "industry", inf.Industry, "confidence", inf.Confidence)
	return inf.Industry
}
