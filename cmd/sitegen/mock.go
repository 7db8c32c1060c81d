package main

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/zen-systems/sitegen/pkg/adapter"
	"github.com/zen-systems/sitegen/pkg/config"
	"github.com/zen-systems/sitegen/pkg/content"
)

var (
	itemPattern     = regexp.MustCompile(`Write the "([a-z_-]+)" section`)
	businessPattern = regexp.MustCompile(`(?m)^Business: (.+)$`)
	industryPattern = regexp.MustCompile(`(?m)^Industry: (.+)$`)
)

// mockAdapters serves every provider from one offline adapter. Selection
// returns the configured default items; items are rendered from the
// fallback templates.
func mockAdapters(rc *config.RoutingConfig) (map[string]adapter.Adapter, error) {
	gen, err := content.NewGenerator()
	if err != nil {
		return nil, err
	}
	mock := adapter.NewMockAdapter(
		adapter.WithMockName("mock"),
		adapter.WithResponder(mockResponder(gen, rc.Pipeline.DefaultItems)),
		adapter.WithDelay(50*time.Millisecond),
		adapter.WithUsage(adapter.Usage{PromptTokens: 400, CompletionTokens: 250, TotalTokens: 650}),
	)

	adapters := make(map[string]adapter.Adapter)
	for _, profile := range rc.Models {
		adapters[profile.Provider] = mock
	}
	return adapters, nil
}

func mockResponder(gen *content.Generator, defaults []string) adapter.Responder {
	return func(_ context.Context, req adapter.Request) (string, error) {
		var prompt string
		for _, m := range req.Messages {
			if m.Role == adapter.RoleUser {
				prompt = m.Content
				break
			}
		}

		m := itemPattern.FindStringSubmatch(prompt)
		if m == nil {
			data, err := json.Marshal(defaults)
			return string(data), err
		}

		d := content.Data{Kind: m[1], Year: time.Now().Year()}
		if b := businessPattern.FindStringSubmatch(prompt); b != nil {
			d.BusinessName = strings.TrimSpace(b[1])
		}
		if i := industryPattern.FindStringSubmatch(prompt); i != nil {
			d.Industry = strings.TrimSpace(i[1])
		}
		payload, err := gen.Render(d)
		return string(payload), err
	}
}
