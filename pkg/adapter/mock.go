package adapter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Responder produces the mock reply for a request.
type Responder func(ctx context.Context, req Request) (string, error)

// MockAdapter returns deterministic responses for local runs and tests.
type MockAdapter struct {
	name      string
	models    []string
	responder Responder
	delay     time.Duration
	usage     *Usage
	calls     atomic.Int64
}

// MockOption configures a MockAdapter.
type MockOption func(*MockAdapter)

// WithMockName sets the adapter name, so one mock can stand in for a provider.
func WithMockName(name string) MockOption {
	return func(a *MockAdapter) { a.name = name }
}

// WithMockModels sets the models the mock claims to serve.
func WithMockModels(models ...string) MockOption {
	return func(a *MockAdapter) { a.models = models }
}

// WithResponder sets the function that builds replies.
func WithResponder(r Responder) MockOption {
	return func(a *MockAdapter) { a.responder = r }
}

// WithDelay makes every call take d unless ctx ends first.
func WithDelay(d time.Duration) MockOption {
	return func(a *MockAdapter) { a.delay = d }
}

// WithUsage attaches fixed token usage to every reply.
func WithUsage(u Usage) MockOption {
	return func(a *MockAdapter) { a.usage = &u }
}

// NewMockAdapter creates a mock adapter. Without a responder it echoes the
// last message.
func NewMockAdapter(opts ...MockOption) *MockAdapter {
	a := &MockAdapter{
		name:   "mock",
		models: []string{"mock-1"},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return a.name
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return a.models
}

// Calls returns how many completions were requested.
func (a *MockAdapter) Calls() int {
	return int(a.calls.Load())
}

// Complete returns the responder's reply for req.
func (a *MockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	a.calls.Add(1)
	if a.delay > 0 {
		timer := time.NewTimer(a.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" && len(a.models) > 0 {
		model = a.models[0]
	}

	var text string
	if a.responder != nil {
		out, err := a.responder(ctx, req)
		if err != nil {
			return nil, err
		}
		text = out
	} else {
		var last string
		if n := len(req.Messages); n > 0 {
			last = req.Messages[n-1].Content
		}
		text = fmt.Sprintf("mock response:\n%s", last)
	}

	return &Response{Text: text, Model: model, Usage: a.usage}, nil
}
