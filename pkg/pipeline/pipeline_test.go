package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/sitegen/pkg/adapter"
	"github.com/zen-systems/sitegen/pkg/breaker"
	"github.com/zen-systems/sitegen/pkg/config"
	"github.com/zen-systems/sitegen/pkg/failure"
)

const (
	sonnet = "claude-sonnet-4-20250514"
	gpt4o  = "gpt-4o"
)

var payloads = map[string]string{
	"hero":         `{"headline":"Smile brighter","subheadline":"Family dentistry"}`,
	"about":        `{"title":"About us","body":"Twenty years of care."}`,
	"features":     `{"items":[{"title":"Gentle","description":"Pain-free visits"}]}`,
	"pricing":      `{"plans":[{"name":"Checkup","price":"$49"}]}`,
	"faq":          `{"questions":[{"question":"Do you take insurance?","answer":"Yes."}]}`,
	"team":         `{"members":[{"name":"Dr. Lee","role":"Dentist"}]}`,
	"contact":      `{"title":"Contact","email":"hi@smile.test"}`,
	"footer":       `{"copyright":"© Smile"}`,
	"testimonials": `{"quotes":[{"quote":"Great","author":"Sam"}]}`,
}

// itemOf returns "selection" or the item kind a request asks for.
func itemOf(req adapter.Request) string {
	msg := req.Messages[1].Content
	if strings.HasPrefix(msg, "Choose the sections") {
		return "selection"
	}
	_, rest, _ := strings.Cut(msg, `Write the "`)
	item, _, _ := strings.Cut(rest, `"`)
	return item
}

func isRepair(req adapter.Request) bool {
	return len(req.Messages) > 2
}

func testConfig() *config.RoutingConfig {
	cfg := config.DefaultRoutingConfig()
	cfg.Retry.MaxRetries = 0
	cfg.Retry.BaseBackoffMs = 1
	cfg.Retry.MaxBackoffMs = 1
	cfg.Pipeline.SelectionTimeoutMs = 2000
	cfg.Pipeline.SimpleTimeoutMs = 2000
	cfg.Pipeline.ComplexTimeoutMs = 2000
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.RoutingConfig, respond adapter.Responder) (*Pipeline, *adapter.MockAdapter) {
	t.Helper()
	mock := adapter.NewMockAdapter(adapter.WithResponder(respond))
	adapters := map[string]adapter.Adapter{
		"anthropic": mock,
		"openai":    mock,
		"google":    mock,
		"deepseek":  mock,
	}
	p, err := New(cfg, adapters)
	require.NoError(t, err)
	return p, mock
}

func cannedResponder(selection string) adapter.Responder {
	return func(_ context.Context, req adapter.Request) (string, error) {
		item := itemOf(req)
		if item == "selection" {
			return selection, nil
		}
		return payloads[item], nil
	}
}

func TestRun_SlowComplexItemFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.SimpleTimeoutMs = 1000
	cfg.Pipeline.ComplexTimeoutMs = 150

	p, _ := newTestPipeline(t, cfg, func(ctx context.Context, req adapter.Request) (string, error) {
		switch item := itemOf(req); item {
		case "selection":
			return `["hero","features","pricing"]`, nil
		case "features":
			<-ctx.Done()
			return "", ctx.Err()
		default:
			return payloads[item], nil
		}
	})

	start := time.Now()
	out, err := p.Run(context.Background(), Request{
		Prompt:  "Website for a dental clinic",
		Context: GenerationContext{BusinessName: "Smile Dental"},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "the slow item is cut off at its own timeout")

	require.Len(t, out.Items, 3)
	assert.Equal(t, []string{"hero", "features", "pricing"}, []string{out.Items[0].ID, out.Items[1].ID, out.Items[2].ID})
	assert.Equal(t, ProvenanceGenerated, out.Items[0].Provenance)
	assert.Equal(t, ProvenanceFallback, out.Items[1].Provenance)
	assert.Equal(t, ProvenanceGenerated, out.Items[2].Provenance)
	assert.True(t, out.Success)
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, "healthcare", out.Industry)

	require.Len(t, out.Errors, 1)
	assert.Equal(t, "features", out.Errors[0].Item)
	assert.Equal(t, failure.KindNetwork, out.Errors[0].Kind)
	assert.Contains(t, out.Errors[0].Message, "timed out")

	require.NoError(t, p.validator.Validate("features", out.Items[1].Payload))
	assert.Equal(t, 2, out.Metrics.Generated)
	assert.Equal(t, 1, out.Metrics.Fallbacks)

	// selection, hero, pricing and the timed-out features call
	assert.Eventually(t, func() bool { return p.Tracker().Len() == 4 }, time.Second, 10*time.Millisecond)
}

func TestRun_CacheMakesSecondRunIdentical(t *testing.T) {
	p, mock := newTestPipeline(t, testConfig(), cannedResponder(`["hero","pricing","faq"]`))
	req := Request{Prompt: "A bakery in Portland", Context: GenerationContext{BusinessName: "Crumb"}}

	first, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, second.Items, 3)
	for i := range first.Items {
		assert.Equal(t, ProvenanceGenerated, first.Items[i].Provenance)
		assert.Equal(t, ProvenanceCached, second.Items[i].Provenance)
		assert.Equal(t, []byte(first.Items[i].Payload), []byte(second.Items[i].Payload))
	}
	assert.Equal(t, 3, second.Metrics.CacheHits)
	assert.Positive(t, second.Metrics.EstimatedTokensSaved)
	assert.Positive(t, second.Metrics.EstimatedCostSaved)
	assert.True(t, second.Success)
	assert.Equal(t, 5, mock.Calls(), "two selections and three fills")
}

func TestRun_OpenCircuitRoutesToFallbackModel(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.MaxConcurrency = 1

	var mu sync.Mutex
	calls := map[string]int{}
	p, _ := newTestPipeline(t, cfg, func(_ context.Context, req adapter.Request) (string, error) {
		mu.Lock()
		calls[req.Model]++
		mu.Unlock()
		if req.Model == sonnet {
			return "", &adapter.AdapterError{Provider: "anthropic", Status: 503, Err: errors.New("overloaded")}
		}
		return payloads[itemOf(req)], nil
	})

	items := []string{"hero", "about", "features", "pricing", "faq"}
	out, err := p.Run(context.Background(), Request{Prompt: "first run", Items: items})
	require.NoError(t, err)
	for _, it := range out.Items {
		assert.Equal(t, ProvenanceGenerated, it.Provenance, it.ID)
		assert.Equal(t, gpt4o, it.Model, it.ID)
	}
	assert.Equal(t, breaker.Open, p.Breaker().State(sonnet))
	assert.Equal(t, 5, calls[sonnet])

	out, err = p.Run(context.Background(), Request{Prompt: "second run", Items: items})
	require.NoError(t, err)
	assert.True(t, out.Success)
	for _, it := range out.Items {
		assert.Equal(t, gpt4o, it.Model, it.ID)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, calls[sonnet], "open circuit blocks further calls")

	assert.Equal(t, 15, p.Tracker().Stats(0).TotalRequests)
}

func TestRun_BadSelectionUsesDefaults(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(), cannedResponder("Sure! I'd include a hero section."))

	out, err := p.Run(context.Background(), Request{Prompt: "Portfolio site"})
	require.NoError(t, err)
	assert.True(t, out.Selection.Defaulted)
	assert.Contains(t, out.Selection.Reason, "selection failed")
	assert.Equal(t, []string{"hero", "features", "about", "contact", "footer"}, out.Selection.Items)
	assert.Len(t, out.Items, 5)
	assert.True(t, out.Success)
}

func TestRun_SelectionFiltersUnknownAndDuplicates(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(), cannedResponder(`{"sections":[{"id":"Hero"},"carousel","hero",{"type":"faq"}]}`))

	out, err := p.Run(context.Background(), Request{Prompt: "Landing page"})
	require.NoError(t, err)
	assert.False(t, out.Selection.Defaulted)
	assert.Equal(t, gpt4o, out.Selection.Model)
	assert.Equal(t, []string{"hero", "faq"}, out.Selection.Items)
}

func TestRun_NoSelectionIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.DefaultItems = []string{"carousel"}
	p, _ := newTestPipeline(t, cfg, cannedResponder("not json"))

	_, err := p.Run(context.Background(), Request{Prompt: "anything"})
	assert.ErrorIs(t, err, ErrNoSelection)

	_, err = p.Run(context.Background(), Request{Items: []string{"carousel"}})
	assert.ErrorIs(t, err, ErrNoSelection)
}

func TestRun_EmptyPrompt(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(), cannedResponder(`[]`))
	_, err := p.Run(context.Background(), Request{Prompt: "  "})
	var ferr *failure.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, failure.KindValidation, ferr.Kind)
}

func TestRun_SchemaFailureFallsBack(t *testing.T) {
	p, mock := newTestPipeline(t, testConfig(), func(_ context.Context, req adapter.Request) (string, error) {
		return `{"subheadline":"missing headline"}`, nil
	})

	out, err := p.Run(context.Background(), Request{Prompt: "x", Items: []string{"hero"}})
	require.NoError(t, err)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, failure.KindValidation, out.Errors[0].Kind)
	assert.Equal(t, failure.ActionAbort, out.Errors[0].Action)
	assert.Equal(t, ProvenanceFallback, out.Items[0].Provenance)
	assert.False(t, out.Success)
	assert.Equal(t, 1, mock.Calls(), "validation errors do not walk the chain")
}

func TestRun_RepairRound(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.RepairInvalid = true
	p, mock := newTestPipeline(t, cfg, func(_ context.Context, req adapter.Request) (string, error) {
		if isRepair(req) {
			return `{"headline":"Fixed"}`, nil
		}
		return `{"subheadline":"missing headline"}`, nil
	})

	out, err := p.Run(context.Background(), Request{Prompt: "x", Items: []string{"hero"}})
	require.NoError(t, err)
	assert.Equal(t, ProvenanceGenerated, out.Items[0].Provenance)
	assert.JSONEq(t, `{"headline":"Fixed"}`, string(out.Items[0].Payload))
	assert.Equal(t, 2, mock.Calls())
}

func TestRun_UnwrapsFencedPayload(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(), func(_ context.Context, req adapter.Request) (string, error) {
		return "```json\n{\"hero\": {\"headline\": \"Hi\"}}\n```", nil
	})
	out, err := p.Run(context.Background(), Request{Prompt: "x", Items: []string{"hero"}})
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"headline":"Hi"}`), out.Items[0].Payload)
}

func TestRun_BudgetExhaustedFallsBackWithoutCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.MaxBudgetUSD = 0.000001
	p, mock := newTestPipeline(t, cfg, cannedResponder(`["hero"]`))

	out, err := p.Run(context.Background(), Request{Prompt: "Coffee shop"})
	require.NoError(t, err)
	assert.True(t, out.Selection.Defaulted)
	assert.Len(t, out.Items, 5)
	assert.False(t, out.Success)
	assert.True(t, out.Metrics.BudgetExceeded)
	assert.Zero(t, mock.Calls())
	for _, e := range out.Errors {
		assert.Equal(t, failure.KindQuotaExceeded, e.Kind)
	}
}

func TestRun_PanickingItemFallsBack(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(), func(_ context.Context, req adapter.Request) (string, error) {
		if itemOf(req) == "faq" {
			panic("boom")
		}
		return payloads[itemOf(req)], nil
	})

	out, err := p.Run(context.Background(), Request{Prompt: "x", Items: []string{"hero", "faq"}})
	require.NoError(t, err)
	item, ok := out.Item("faq")
	require.True(t, ok)
	assert.Equal(t, ProvenanceFallback, item.Provenance)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0].Message, "panic")
	assert.True(t, out.Success)
}

func TestRun_BoundedConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.MaxConcurrency = 2

	var inFlight, peak atomic.Int32
	p, _ := newTestPipeline(t, cfg, func(_ context.Context, req adapter.Request) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		return payloads[itemOf(req)], nil
	})

	out, err := p.Run(context.Background(), Request{
		Prompt: "x",
		Items:  []string{"hero", "about", "features", "pricing", "faq", "team"},
	})
	require.NoError(t, err)
	assert.Equal(t, 6, out.Metrics.Generated)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_CancelledContext(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(), cannedResponder(`["hero"]`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := p.Run(ctx, Request{Prompt: "x"})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.Tracker().Len(), "cancelled work is not recorded")
}

func TestRun_CancelledRunDoesNotFailSharedItem(t *testing.T) {
	started := make(chan struct{})
	var heroCalls atomic.Int32
	p, _ := newTestPipeline(t, testConfig(), func(ctx context.Context, req adapter.Request) (string, error) {
		if itemOf(req) == "hero" && heroCalls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return payloads[itemOf(req)], nil
	})
	req := Request{
		Prompt:  "A bakery in Portland",
		Context: GenerationContext{BusinessName: "Crumb"},
		Items:   []string{"hero"},
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		_, _ = p.Run(ctxA, req)
	}()
	<-started

	type result struct {
		out *Outcome
		err error
	}
	runB := make(chan result, 1)
	go func() {
		out, err := p.Run(context.Background(), req)
		runB <- result{out, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancelA()
	<-doneA

	got := <-runB
	require.NoError(t, got.err)
	require.Len(t, got.out.Items, 1)
	assert.Equal(t, ProvenanceGenerated, got.out.Items[0].Provenance)
	assert.JSONEq(t, payloads["hero"], string(got.out.Items[0].Payload))
	assert.Empty(t, got.out.Errors)
	assert.True(t, got.out.Success)
}

func TestTimeoutsAndTasks(t *testing.T) {
	cfg := config.DefaultRoutingConfig()
	p, _ := newTestPipeline(t, cfg, cannedResponder(`[]`))
	assert.Equal(t, 15*time.Second, p.timeoutFor("features"))
	assert.Equal(t, 5*time.Second, p.timeoutFor("hero"))
	assert.Equal(t, config.TaskStructure, p.taskFor("footer"))
	assert.Equal(t, config.TaskContent, p.taskFor("hero"))
}

func TestNew_RequiresAdapters(t *testing.T) {
	_, err := New(config.DefaultRoutingConfig(), nil)
	assert.Error(t, err)
	_, err = New(nil, map[string]adapter.Adapter{"mock": adapter.NewMockAdapter()})
	assert.Error(t, err)
}
