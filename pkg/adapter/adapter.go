package adapter

import (
	"context"
)

// Adapter defines the completion capability of one LLM provider.
type Adapter interface {
	// Complete sends the conversation to model and returns its reply.
	// Implementations must abandon the call when ctx is done.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}
