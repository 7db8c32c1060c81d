package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/sitegen/pkg/cache"
	"github.com/zen-systems/sitegen/pkg/config"
	"github.com/zen-systems/sitegen/pkg/content"
	"github.com/zen-systems/sitegen/pkg/failure"
	"github.com/zen-systems/sitegen/pkg/logger"
	"github.com/zen-systems/sitegen/pkg/router"
	"github.com/zen-systems/sitegen/pkg/schema"
)

const itemMaxTokens = 2048

type savings struct {
	tokens int
	cost   float64
}

// fill runs Stage 2 on a bounded pool. The returned items line up with ids.
func (p *Pipeline) fill(
	ctx context.Context,
	req Request,
	rc router.Context,
	ids []string,
	costs *costTracker,
	m *Metrics,
	log logger.Logger,
) ([]ItemResult, []ItemError) {
	results := make([]ItemResult, len(ids))
	itemErrs := make([]*ItemError, len(ids))
	saved := make([]savings, len(ids))
	fp := cache.Fingerprint(rc.Industry, req.Context.BusinessName, req.Context.Description)

	limit := p.cfg.Pipeline.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			results[i], itemErrs[i], saved[i] = p.fillItem(ctx, req, rc, id, fp, costs, log)
			return nil
		})
	}
	_ = g.Wait()

	var errs []ItemError
	for i := range ids {
		if itemErrs[i] != nil {
			errs = append(errs, *itemErrs[i])
		}
		m.EstimatedTokensSaved += saved[i].tokens
		m.EstimatedCostSaved += saved[i].cost
	}
	return results, errs
}

func (p *Pipeline) fillItem(
	ctx context.Context,
	req Request,
	rc router.Context,
	id, fingerprint string,
	costs *costTracker,
	log logger.Logger,
) (res ItemResult, ierr *ItemError, saved savings) {
	start := p.now()
	log = log.With("item", id)
	defer func() {
		if r := recover(); r != nil {
			log.Error("item generation panicked", "panic", r)
			res, ierr = p.fallbackItem(req, rc, id, start, failure.NewModelError("", fmt.Sprintf("panic: %v", r), nil), log)
			saved = savings{}
		}
	}()

	task := p.taskFor(id)
	sel, err := p.router.Route(task, rc, router.RouteOptions{Priority: req.Priority})
	if err != nil {
		res, ierr = p.fallbackItem(req, rc, id, start, failure.NewModelError("", "routing failed", err), log)
		return res, ierr, savings{}
	}

	itemCtx, cancel := context.WithTimeout(ctx, p.timeoutFor(id))
	defer cancel()

	key := cache.NewKey(id, fingerprint, req.Prompt)
	var call callResult
	payload, reused, err := p.cache.Do(itemCtx, key, func(ctx context.Context) (v json.RawMessage, err error) {
		// Runs on the cache's goroutine, out of reach of the recover above.
		defer func() {
			if r := recover(); r != nil {
				log.Error("item generation panicked", "panic", r)
				err = failure.NewModelError("", fmt.Sprintf("panic: %v", r), nil)
			}
		}()
		v, call, err = p.generate(ctx, req, rc, id, task, sel, costs, log)
		return v, err
	})
	p.metrics.CacheLookup(reused)
	if err != nil {
		ferr := failure.Classify(err)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			ferr = failure.NewNetworkError(fmt.Sprintf("item timed out after %s", p.timeoutFor(id)), err)
		}
		res, ierr = p.fallbackItem(req, rc, id, start, ferr, log)
		return res, ierr, savings{}
	}

	if reused {
		tokens := p.cfg.TokenEstimates[task]
		return ItemResult{
			ID:         id,
			Payload:    payload,
			Provenance: ProvenanceCached,
			Latency:    p.now().Sub(start),
		}, nil, savings{tokens: tokens.Input + tokens.Output, cost: sel.EstimatedCost}
	}
	return ItemResult{
		ID:         id,
		Payload:    payload,
		Provenance: ProvenanceGenerated,
		Model:      call.Model,
		Latency:    p.now().Sub(start),
	}, nil, savings{}
}

// generate dispatches one item and, when enabled, makes one repair round
// after a schema failure.
func (p *Pipeline) generate(
	ctx context.Context,
	req Request,
	rc router.Context,
	id, task string,
	sel router.Selection,
	costs *costTracker,
	log logger.Logger,
) (json.RawMessage, callResult, error) {
	msgs := itemMessages(req, rc.Industry, id, p.validator)
	cs := callSpec{
		task:      task,
		messages:  msgs,
		maxTokens: itemMaxTokens,
		json:      true,
		retries:   p.cfg.Pipeline.ItemRetries,
	}
	var lastText string
	accept := func(text string) (json.RawMessage, error) {
		lastText = text
		return p.acceptItem(id, text)
	}

	payload, res, err := dispatch(ctx, p.dispatch, sel, cs, costs, accept)
	if err == nil || !p.cfg.Pipeline.RepairInvalid {
		return payload, res, err
	}
	var verr *schema.ValidationError
	if !errors.As(err, &verr) || lastText == "" || ctx.Err() != nil {
		return payload, res, err
	}

	log.Debug("repairing invalid item", "issues", verr.Issues)
	cs.messages = repairMessages(msgs, lastText, verr.Issues)
	return dispatch(ctx, p.dispatch, sel, cs, costs, accept)
}

// acceptItem extracts the JSON object from a reply, unwrapping {"<id>": {...}},
// and validates it.
func (p *Pipeline) acceptItem(id, text string) (json.RawMessage, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, failure.NewValidationError(id+" reply is not JSON", nil)
	}
	r := gjson.Parse(raw)
	if !r.IsObject() {
		return nil, failure.NewValidationError(id+" reply is not a JSON object", nil)
	}
	if inner := r.Get(id); inner.IsObject() && len(r.Map()) == 1 {
		raw = inner.Raw
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, failure.NewValidationError(id+" reply is not JSON", err)
	}
	if err := p.validator.Validate(id, buf.Bytes()); err != nil {
		return nil, failure.NewValidationError(err.Error(), err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

func (p *Pipeline) fallbackItem(
	req Request,
	rc router.Context,
	id string,
	start time.Time,
	ferr *failure.Error,
	log logger.Logger,
) (ItemResult, *ItemError) {
	payload, err := p.fallback.Render(content.Data{
		Kind:         id,
		BusinessName: req.Context.BusinessName,
		Industry:     rc.Industry,
		Description:  req.Context.Description,
		Location:     req.Context.Location,
		Email:        req.Context.Email,
		Phone:        req.Context.Phone,
		Year:         p.now().Year(),
	})
	if err != nil {
		log.Error("fallback render failed", "error", err.Error())
		payload = json.RawMessage(`{}`)
	}
	log.Warn("using fallback content", "kind", ferr.Kind.String(), "error", ferr.Error())

	policy := ferr.Policy()
	return ItemResult{
			ID:         id,
			Payload:    payload,
			Provenance: ProvenanceFallback,
			Latency:    p.now().Sub(start),
		}, &ItemError{
			Item:        id,
			Kind:        ferr.Kind,
			Action:      policy.Action,
			Message:     ferr.Error(),
			UserMessage: policy.UserMessage,
		}
}

func (p *Pipeline) taskFor(id string) string {
	if task, ok := p.cfg.Pipeline.ItemTasks[id]; ok {
		return task
	}
	return config.TaskContent
}

func (p *Pipeline) timeoutFor(id string) time.Duration {
	for _, c := range p.cfg.Pipeline.ComplexItems {
		if c == id {
			return p.cfg.Pipeline.ComplexTimeout()
		}
	}
	return p.cfg.Pipeline.SimpleTimeout()
}
