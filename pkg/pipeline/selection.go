package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/zen-systems/sitegen/pkg/config"
	"github.com/zen-systems/sitegen/pkg/failure"
	"github.com/zen-systems/sitegen/pkg/logger"
	"github.com/zen-systems/sitegen/pkg/router"
)

const (
	selectionMaxTokens = 512
	// maxSelectionItems caps how many items one run fills.
	maxSelectionItems = 12
)

// wrapperKeys are object keys models use to wrap an item list.
var wrapperKeys = []string{"components", "sections", "items", "selection"}

type kindLister interface {
	Kinds() []string
}

// selectItems runs Stage 1. Any failure short of cancellation falls back to
// the configured default items.
func (p *Pipeline) selectItems(
	ctx context.Context,
	req Request,
	rc router.Context,
	costs *costTracker,
	log logger.Logger,
) ([]string, SelectionInfo, error) {
	start := p.now()
	info := SelectionInfo{}

	if len(req.Items) > 0 {
		items := p.filterItems(req.Items)
		if len(items) == 0 {
			return nil, info, fmt.Errorf("%w: none of %v are known item kinds", ErrNoSelection, req.Items)
		}
		info.Items = items
		info.Reason = "items supplied by caller"
		return items, info, nil
	}

	items, model, reason := p.runSelection(ctx, req, rc, costs, log)
	if err := ctx.Err(); err != nil {
		info.Latency = p.now().Sub(start)
		return nil, info, err
	}
	if len(items) == 0 {
		items = p.filterItems(p.cfg.Pipeline.DefaultItems)
		info.Defaulted = true
		log.Warn("using default items", "reason", reason, "items", items)
	}
	info.Items = items
	info.Model = model
	info.Reason = reason
	info.Latency = p.now().Sub(start)

	if len(items) == 0 {
		return nil, info, ErrNoSelection
	}
	return items, info, nil
}

func (p *Pipeline) runSelection(
	ctx context.Context,
	req Request,
	rc router.Context,
	costs *costTracker,
	log logger.Logger,
) ([]string, string, string) {
	sel, err := p.router.Route(config.TaskSelection, rc, router.RouteOptions{Priority: req.Priority})
	if err != nil {
		return nil, "", "routing failed: " + err.Error()
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Pipeline.SelectionTimeout())
	defer cancel()

	cs := callSpec{
		task:      config.TaskSelection,
		messages:  selectionMessages(req, rc.Industry, p.knownKinds()),
		maxTokens: selectionMaxTokens,
		json:      true,
		retries:   p.cfg.Retry.MaxRetries,
	}
	items, res, err := dispatch(ctx, p.dispatch, sel, cs, costs, func(text string) ([]string, error) {
		ids, err := parseSelection(text)
		if err != nil {
			return nil, err
		}
		known := p.filterItems(ids)
		if len(known) == 0 {
			return nil, failure.NewValidationError(fmt.Sprintf("no known items in selection %v", ids), nil)
		}
		return known, nil
	})
	if err != nil {
		log.Warn("selection failed", "error", err.Error())
		return nil, res.Model, "selection failed: " + err.Error()
	}
	log.Debug("selection complete", "model", res.Model, "items", items, "fallback_model", res.Fallback)
	return items, res.Model, ""
}

func (p *Pipeline) knownKinds() []string {
	if kl, ok := p.validator.(kindLister); ok {
		return kl.Kinds()
	}
	return p.cfg.Pipeline.DefaultItems
}

// filterItems normalises ids, drops unknown and duplicate kinds and caps the
// list, keeping order.
func (p *Pipeline) filterItems(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] || !p.validator.Known(id) {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == maxSelectionItems {
			break
		}
	}
	return out
}

// parseSelection accepts a JSON array of ids, an array of objects with an
// id/type/name field, or either wrapped in an object.
func parseSelection(text string) ([]string, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, failure.NewValidationError("selection is not JSON", nil)
	}
	res := gjson.Parse(raw)
	if res.IsObject() {
		for _, key := range wrapperKeys {
			if r := res.Get(key); r.IsArray() {
				res = r
				break
			}
		}
	}
	if !res.IsArray() {
		return nil, failure.NewValidationError("selection is not a JSON array", nil)
	}

	var ids []string
	res.ForEach(func(_, v gjson.Result) bool {
		switch {
		case v.Type == gjson.String:
			ids = append(ids, v.String())
		case v.IsObject():
			for _, field := range []string{"id", "type", "name", "component"} {
				if s := v.Get(field).String(); s != "" {
					ids = append(ids, s)
					break
				}
			}
		}
		return true
	})
	return ids, nil
}

// extractJSON returns the first valid JSON document in text, tolerating
// code fences and surrounding prose.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	if gjson.Valid(s) {
		return s
	}
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(s, pair[0])
		end := strings.LastIndexByte(s, pair[1])
		if start >= 0 && end > start && gjson.Valid(s[start:end+1]) {
			return s[start : end+1]
		}
	}
	return ""
}
