package router

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	defaultAlpha      = 0.2
	defaultMinSamples = 5
	// overrideMargin is how much better a learned candidate must score
	// before it displaces the static pick.
	overrideMargin = 0.05
)

type emaKey struct {
	model string
	task  string
}

type emaStats struct {
	samples int
	latency float64 // seconds
	cost    float64
	success float64
}

// Observation is the learned view of one (model, task) pair.
type Observation struct {
	Model       string        `json:"model"`
	Task        string        `json:"task"`
	Samples     int           `json:"samples"`
	Latency     time.Duration `json:"latency"`
	Cost        float64       `json:"cost"`
	SuccessRate float64       `json:"success_rate"`
}

// AdaptiveRouter wraps a ModelRouter and reorders its pick using
// exponential moving averages of observed latency, cost and success.
// Pairs with fewer than minSamples observations are not trusted.
type AdaptiveRouter struct {
	base       *ModelRouter
	alpha      float64
	minSamples int

	mu    sync.RWMutex
	stats map[emaKey]*emaStats
}

// AdaptiveOption configures an AdaptiveRouter.
type AdaptiveOption func(*AdaptiveRouter)

// WithAlpha sets the EMA smoothing factor in (0, 1].
func WithAlpha(alpha float64) AdaptiveOption {
	return func(a *AdaptiveRouter) {
		if alpha > 0 && alpha <= 1 {
			a.alpha = alpha
		}
	}
}

// WithMinSamples sets how many observations a pair needs before it is trusted.
func WithMinSamples(n int) AdaptiveOption {
	return func(a *AdaptiveRouter) {
		if n > 0 {
			a.minSamples = n
		}
	}
}

// NewAdaptiveRouter creates an adaptive router on top of base.
func NewAdaptiveRouter(base *ModelRouter, opts ...AdaptiveOption) *AdaptiveRouter {
	a := &AdaptiveRouter{
		base:       base,
		alpha:      defaultAlpha,
		minSamples: defaultMinSamples,
		stats:      make(map[emaKey]*emaStats),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Base returns the wrapped static router.
func (a *AdaptiveRouter) Base() *ModelRouter {
	return a.base
}

// Observe folds one completed attempt into the moving averages.
func (a *AdaptiveRouter) Observe(model, task string, latency time.Duration, cost float64, success bool) {
	s := 0.0
	if success {
		s = 1.0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	k := emaKey{model: model, task: task}
	st, ok := a.stats[k]
	if !ok {
		a.stats[k] = &emaStats{samples: 1, latency: latency.Seconds(), cost: cost, success: s}
		return
	}
	st.samples++
	st.latency = a.alpha*latency.Seconds() + (1-a.alpha)*st.latency
	st.cost = a.alpha*cost + (1-a.alpha)*st.cost
	st.success = a.alpha*s + (1-a.alpha)*st.success
}

// Route asks the static router, then promotes a better candidate from the
// selection when both it and the static primary have enough observations.
func (a *AdaptiveRouter) Route(task string, rc Context, opts RouteOptions) (Selection, error) {
	sel, err := a.base.Route(task, rc, opts)
	if err != nil {
		return sel, err
	}

	a.mu.RLock()
	primaryScore, ok := a.scoreLocked(sel.Primary, task, sel.Priority)
	if !ok {
		a.mu.RUnlock()
		return sel, nil
	}
	best, bestScore := "", primaryScore
	for _, m := range sel.Fallbacks {
		if contains(opts.Avoid, m) {
			continue
		}
		if score, ok := a.scoreLocked(m, task, sel.Priority); ok && score > bestScore {
			best, bestScore = m, score
		}
	}
	a.mu.RUnlock()

	if best == "" || bestScore < primaryScore+overrideMargin {
		return sel, nil
	}

	out := sel
	out.Primary = best
	out.Fallbacks = make([]string, 0, len(sel.Fallbacks))
	out.Fallbacks = append(out.Fallbacks, sel.Primary)
	for _, m := range sel.Fallbacks {
		if m != best {
			out.Fallbacks = append(out.Fallbacks, m)
		}
	}
	out.Reasons = append(append([]string(nil), sel.Reasons...),
		fmt.Sprintf("adaptive: %s scored %.3f over %s %.3f", best, bestScore, sel.Primary, primaryScore))
	out.EstimatedCost, out.EstimatedLatency = a.base.Estimate(best, task)
	return out, nil
}

func (a *AdaptiveRouter) scoreLocked(model, task string, p Priority) (float64, bool) {
	st, ok := a.stats[emaKey{model: model, task: task}]
	if !ok || st.samples < a.minSamples {
		return 0, false
	}
	switch p {
	case PrioritySpeed:
		return st.success / (1 + st.latency), true
	case PriorityCost:
		return st.success / (1 + st.cost*1000), true
	default:
		return st.success, true
	}
}

// Snapshot returns the learned averages sorted by task then model.
func (a *AdaptiveRouter) Snapshot() []Observation {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Observation, 0, len(a.stats))
	for k, st := range a.stats {
		out = append(out, Observation{
			Model:       k.model,
			Task:        k.task,
			Samples:     st.samples,
			Latency:     time.Duration(st.latency * float64(time.Second)),
			Cost:        st.cost,
			SuccessRate: st.success,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Task == out[j].Task {
			return out[i].Model < out[j].Model
		}
		return out[i].Task < out[j].Task
	})
	return out
}
