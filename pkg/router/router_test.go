package router

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/sitegen/pkg/config"
)

const (
	sonnet = "claude-sonnet-4-20250514"
	haiku  = "claude-3-5-haiku-20241022"
	gpt4o  = "gpt-4o"
	mini   = "gpt-4o-mini"
	flash  = "gemini-2.0-flash"
)

type fakeTracker struct {
	avoid     map[string]bool
	recommend string
}

func (f *fakeTracker) ShouldAvoid(model string, _ float64) bool { return f.avoid[model] }

func (f *fakeTracker) RecommendModel(_, current string) string {
	if f.recommend == "" {
		return current
	}
	return f.recommend
}

func TestRoute_PriorityTables(t *testing.T) {
	r := NewRouter(config.DefaultRoutingConfig())

	tests := []struct {
		priority Priority
		want     string
	}{
		{PriorityQuality, sonnet},
		{PrioritySpeed, haiku},
		{PriorityCost, flash},
		{"", sonnet},
	}
	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			sel, err := r.Route(config.TaskContent, Context{}, RouteOptions{Priority: tt.priority})
			require.NoError(t, err)
			assert.Equal(t, tt.want, sel.Primary)
			assert.NotContains(t, sel.Fallbacks, sel.Primary)
		})
	}
}

func TestRoute_FallbackChainAndEstimates(t *testing.T) {
	r := NewRouter(config.DefaultRoutingConfig())
	sel, err := r.Route(config.TaskContent, Context{}, RouteOptions{Priority: PriorityQuality})
	require.NoError(t, err)

	assert.Equal(t, []string{gpt4o, haiku, flash}, sel.Fallbacks)
	assert.Equal(t, []string{sonnet, gpt4o, haiku, flash}, sel.Candidates())
	assert.InDelta(t, 0.0132, sel.EstimatedCost, 1e-9)
	assert.Equal(t, 10700*time.Millisecond, sel.EstimatedLatency)
	assert.Equal(t, config.TaskContent, sel.Task)
	assert.Equal(t, PriorityQuality, sel.Priority)
}

func TestRoute_UnknownTask(t *testing.T) {
	r := NewRouter(config.DefaultRoutingConfig())
	_, err := r.Route("poetry", Context{}, RouteOptions{})
	assert.True(t, errors.Is(err, ErrUnknownTask))
}

func TestRoute_MinQualityRule(t *testing.T) {
	r := NewRouter(config.DefaultRoutingConfig())

	sel, err := r.Route(config.TaskContent, Context{Industry: "healthcare"}, RouteOptions{Priority: PriorityCost})
	require.NoError(t, err)
	assert.Equal(t, sonnet, sel.Primary)
	assert.Equal(t, []string{flash, gpt4o, haiku}, sel.Fallbacks)
	assert.Contains(t, sel.Reasons[len(sel.Reasons)-1], "regulated-industries")

	sel, err = r.Route(config.TaskSEO, Context{Industry: "healthcare"}, RouteOptions{Priority: PriorityQuality})
	require.NoError(t, err)
	assert.Equal(t, gpt4o, sel.Primary, "gpt-4o already meets the threshold")
}

func TestRoute_PreferModelRule(t *testing.T) {
	r := NewRouter(config.DefaultRoutingConfig())
	sel, err := r.Route(config.TaskContent, Context{Industry: "restaurant"}, RouteOptions{Priority: PrioritySpeed})
	require.NoError(t, err)
	assert.Equal(t, sonnet, sel.Primary)
	assert.Equal(t, haiku, sel.Fallbacks[0], "table pick stays first in the chain")

	sel, err = r.Route(config.TaskSEO, Context{Industry: "restaurant"}, RouteOptions{Priority: PrioritySpeed})
	require.NoError(t, err)
	assert.Equal(t, flash, sel.Primary, "rule is scoped to content")
}

func TestRoute_TrackerSteersAway(t *testing.T) {
	tr := &fakeTracker{avoid: map[string]bool{sonnet: true}, recommend: gpt4o}
	r := NewRouter(config.DefaultRoutingConfig(), WithTracker(tr))

	sel, err := r.Route(config.TaskContent, Context{}, RouteOptions{})
	require.NoError(t, err)
	assert.Equal(t, gpt4o, sel.Primary)
	assert.Equal(t, []string{sonnet, mini, flash}, sel.Fallbacks)

	tr.recommend = ""
	tr.avoid[gpt4o] = true
	sel, err = r.Route(config.TaskContent, Context{}, RouteOptions{})
	require.NoError(t, err)
	assert.Equal(t, haiku, sel.Primary, "first healthy model in the chain")
}

func TestRoute_AvoidOption(t *testing.T) {
	r := NewRouter(config.DefaultRoutingConfig())
	sel, err := r.Route(config.TaskContent, Context{}, RouteOptions{Avoid: []string{sonnet}})
	require.NoError(t, err)
	assert.Equal(t, gpt4o, sel.Primary)
}

func TestRoute_SelectionsAreIndependent(t *testing.T) {
	r := NewRouter(config.DefaultRoutingConfig())
	a, err := r.Route(config.TaskContent, Context{}, RouteOptions{})
	require.NoError(t, err)
	a.Fallbacks[0] = "mutated"

	b, err := r.Route(config.TaskContent, Context{}, RouteOptions{})
	require.NoError(t, err)
	assert.Equal(t, gpt4o, b.Fallbacks[0])
	assert.Equal(t, gpt4o, config.DefaultRoutingConfig().FallbackChains[sonnet][0])
}

func TestEstimate_UnknownModel(t *testing.T) {
	r := NewRouter(config.DefaultRoutingConfig())
	cost, latency := r.Estimate("nope", config.TaskContent)
	assert.Zero(t, cost)
	assert.Zero(t, latency)
}

func TestRoutes(t *testing.T) {
	r := NewRouter(config.DefaultRoutingConfig())
	routes := r.Routes()
	require.Len(t, routes, 5)
	assert.Equal(t, config.TaskContent, routes[0].Task)
	assert.Equal(t, []string{gpt4o, haiku, flash}, routes[0].Fallbacks[sonnet])
}
