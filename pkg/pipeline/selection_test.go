package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/sitegen/pkg/config"
	"github.com/zen-systems/sitegen/pkg/schema"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare array", in: `["hero","faq"]`, want: `["hero","faq"]`},
		{name: "fenced", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "fence without language", in: "```\n[1]\n```", want: `[1]`},
		{name: "prose around object", in: `Here you go: {"items":["hero"]} hope it helps`, want: `{"items":["hero"]}`},
		{name: "prose around array", in: `Sections: ["hero"].`, want: `["hero"]`},
		{name: "no json", in: "hero, about, contact", want: ""},
		{name: "broken json", in: `{"a": [1, 2}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "strings", in: `["hero","about"]`, want: []string{"hero", "about"}},
		{name: "objects", in: `[{"id":"hero"},{"type":"faq"},{"name":"team"},{"component":"cta"}]`, want: []string{"hero", "faq", "team", "cta"}},
		{name: "wrapped", in: `{"components":["hero","footer"]}`, want: []string{"hero", "footer"}},
		{name: "wrapped selection", in: `{"reasoning":"short","selection":[{"id":"pricing"}]}`, want: []string{"pricing"}},
		{name: "ignores other values", in: `["hero", 3, null, {"title":"x"}]`, want: []string{"hero"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSelection(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseSelection(`{"hero": true}`)
	assert.Error(t, err)
	_, err = parseSelection("hero and about")
	assert.Error(t, err)
}

func TestFilterItems(t *testing.T) {
	catalog, err := schema.NewCatalog()
	require.NoError(t, err)
	p := &Pipeline{cfg: config.DefaultRoutingConfig(), validator: catalog}

	got := p.filterItems([]string{" Hero ", "hero", "widget", "", "FAQ"})
	assert.Equal(t, []string{"hero", "faq"}, got)

	many := strings.Split(strings.Repeat("hero,about,features,pricing,faq,team,gallery,cta,contact,footer,seo,testimonials,", 2), ",")
	assert.Len(t, p.filterItems(many), maxSelectionItems)
}

func TestKnownKindsFromCatalog(t *testing.T) {
	catalog, err := schema.NewCatalog()
	require.NoError(t, err)
	p := &Pipeline{cfg: config.DefaultRoutingConfig(), validator: catalog}
	assert.Equal(t, catalog.Kinds(), p.knownKinds())
}
