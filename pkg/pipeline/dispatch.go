package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/zen-systems/sitegen/pkg/adapter"
	"github.com/zen-systems/sitegen/pkg/breaker"
	"github.com/zen-systems/sitegen/pkg/config"
	"github.com/zen-systems/sitegen/pkg/failure"
	"github.com/zen-systems/sitegen/pkg/logger"
	"github.com/zen-systems/sitegen/pkg/metrics"
	"github.com/zen-systems/sitegen/pkg/reliability"
	"github.com/zen-systems/sitegen/pkg/router"
)

// Observer receives every completed attempt. AdaptiveRouter implements it.
type Observer interface {
	Observe(model, task string, latency time.Duration, cost float64, success bool)
}

type callSpec struct {
	task      string
	messages  []adapter.Message
	maxTokens int
	json      bool
	retries   int
}

type callResult struct {
	Model    string
	Text     string
	Latency  time.Duration
	Cost     float64
	Attempts int
	Fallback bool
}

type dispatcher struct {
	cfg      *config.RoutingConfig
	adapters map[string]adapter.Adapter
	breaker  *breaker.Breaker
	tracker  *reliability.Tracker
	handler  *failure.Handler
	observer Observer
	metrics  *metrics.Recorder
	limiters map[string]*rate.Limiter
	logger   logger.Logger
}

func newLimiters(limits map[string]config.RateLimit) map[string]*rate.Limiter {
	out := make(map[string]*rate.Limiter, len(limits))
	for provider, l := range limits {
		if l.RequestsPerMinute <= 0 {
			continue
		}
		burst := l.Burst
		if burst < 1 {
			burst = 1
		}
		out[provider] = rate.NewLimiter(rate.Limit(float64(l.RequestsPerMinute)/60.0), burst)
	}
	return out
}

// dispatch walks the selection's candidates in order. Open circuits and
// providers without an adapter are skipped. Each candidate gets the
// handler's retries; an abort-class error ends the walk, anything else moves
// on to the next model. accept turns the reply into T and may reject it, in
// which case the attempt counts as failed.
func dispatch[T any](
	ctx context.Context,
	d *dispatcher,
	sel router.Selection,
	cs callSpec,
	costs *costTracker,
	accept func(text string) (T, error),
) (T, callResult, error) {
	var zero T
	var lastErr *failure.Error

	for idx, model := range sel.Candidates() {
		if err := ctx.Err(); err != nil {
			return zero, callResult{}, failure.Classify(err)
		}
		provider := d.cfg.ProviderFor(model)
		impl, ok := d.adapters[provider]
		if !ok {
			d.logger.Debug("no adapter for model", "model", model, "provider", provider)
			continue
		}
		allowed, probe := d.breaker.Allow(model)
		if !allowed {
			d.logger.Info("circuit open, skipping model", "model", model, "task", cs.task)
			continue
		}

		var out T
		var res callResult
		tries := 0
		recorded := false
		fallback := idx > 0
		err := d.handler.Execute(ctx, func(ctx context.Context) error {
			tries++
			if tries > 1 && !d.breaker.CanAttempt(model) {
				return failure.NewModelError(model, "circuit opened during retries", nil)
			}
			if err := costs.checkBudget(model, cs.task); err != nil {
				return err
			}
			if err := d.wait(ctx, provider); err != nil {
				return err
			}

			start := time.Now()
			resp, err := impl.Complete(ctx, adapter.Request{
				Model:     model,
				Messages:  cs.messages,
				MaxTokens: cs.maxTokens,
				JSON:      cs.json,
			})
			latency := time.Since(start)

			var cost float64
			if err == nil {
				cost = costs.record(model, cs.task, resp.Usage)
				out, err = accept(resp.Text)
			}
			if d.report(model, cs.task, fallback, latency, cost, err) {
				recorded = true
			}
			if err != nil {
				return err
			}
			res = callResult{Model: model, Text: resp.Text, Latency: latency, Cost: cost, Fallback: fallback}
			return nil
		}, failure.OpContext{Operation: "complete", Model: model, Task: cs.task}, cs.retries)
		if probe && !recorded {
			d.breaker.Release(model)
		}

		if err == nil {
			res.Attempts = tries
			return out, res, nil
		}
		lastErr = failure.Classify(err)
		if lastErr.Policy().Action == failure.ActionAbort {
			return zero, callResult{Model: model, Attempts: tries}, lastErr
		}
		d.logger.Warn("model failed, trying next candidate",
			"model", model, "task", cs.task, "kind", lastErr.Kind.String(), "error", lastErr.Error())
	}

	if lastErr == nil {
		lastErr = failure.NewModelError("", "no model available for task "+cs.task, nil)
	}
	return zero, callResult{}, lastErr
}

func (d *dispatcher) wait(ctx context.Context, provider string) error {
	l, ok := d.limiters[provider]
	if !ok {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return failure.NewRateLimitError("", 0, err)
	}
	return nil
}

// report records one completed attempt everywhere it is tracked. Attempts
// the caller cancelled are not recorded and report false.
func (d *dispatcher) report(model, task string, fallback bool, latency time.Duration, cost float64, err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	success := err == nil
	reason := ""
	if !success {
		reason = failure.Classify(err).Kind.String()
		d.breaker.RecordFailure(model)
	} else {
		d.breaker.RecordSuccess(model)
	}
	d.tracker.Record(reliability.AttemptRecord{
		Model:    model,
		Task:     task,
		Latency:  latency,
		Cost:     cost,
		Success:  success,
		Reason:   reason,
		Fallback: fallback,
	})
	if d.observer != nil {
		d.observer.Observe(model, task, latency, cost, success)
	}
	d.metrics.Attempt(model, task, latency, cost, err)
	return true
}
