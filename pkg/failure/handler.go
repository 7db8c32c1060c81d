package failure

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/zen-systems/sitegen/pkg/logger"
)

const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 16 * time.Second
)

// OpContext describes the operation being retried, for logs.
type OpContext struct {
	Operation string
	Model     string
	Task      string
}

// Handler runs operations with classification and retry.
type Handler struct {
	base   time.Duration
	max    time.Duration
	jitter func(max time.Duration) time.Duration
	logger logger.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithBackoff sets the base and cap of the exponential delay.
func WithBackoff(base, max time.Duration) HandlerOption {
	return func(h *Handler) {
		if base > 0 {
			h.base = base
		}
		if max > 0 {
			h.max = max
		}
	}
}

// WithJitter replaces the jitter source. fn receives the largest allowed
// jitter and returns a value in [0, max].
func WithJitter(fn func(max time.Duration) time.Duration) HandlerOption {
	return func(h *Handler) { h.jitter = fn }
}

// WithLogger sets the logger used for retry notices.
func WithLogger(l logger.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a handler with 1s base and 16s cap.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		base:   DefaultBaseDelay,
		max:    DefaultMaxDelay,
		jitter: randomJitter,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.max < h.base {
		h.max = h.base
	}
	return h
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

// RetryDelay returns how long to wait before retry number attempt (0-based).
// A rate-limit error carrying RetryAfter gets exactly that delay; otherwise
// the delay is min(base*2^attempt, max) plus up to 10% jitter.
func (h *Handler) RetryDelay(err *Error, attempt int) time.Duration {
	if err != nil && err.Kind == KindRateLimit && err.RetryAfter > 0 {
		return err.RetryAfter
	}
	if attempt < 0 {
		attempt = 0
	}
	d := h.base
	for i := 0; i < attempt && d < h.max; i++ {
		d *= 2
	}
	if d > h.max {
		d = h.max
	}
	return d + h.jitter(d/10)
}

// Execute runs op, retrying up to maxRetries times while the classified error
// is retryable and sleeping RetryDelay between attempts. Non-retryable errors
// return immediately. Any returned error is a *Error.
func (h *Handler) Execute(ctx context.Context, op func(context.Context) error, opCtx OpContext, maxRetries int) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var last *Error
	attempt := 0
	delays := retry.BackoffFunc(func() (time.Duration, bool) {
		d := h.RetryDelay(last, attempt-1)
		h.logger.Warn("retrying operation",
			"operation", opCtx.Operation, "model", opCtx.Model, "task", opCtx.Task,
			"kind", last.Kind.String(), "attempt", attempt, "delay", d)
		return d, false
	})

	err := retry.Do(ctx, retry.WithMaxRetries(uint64(maxRetries), delays), func(ctx context.Context) error {
		attempt++
		opErr := op(ctx)
		if opErr == nil {
			return nil
		}
		last = withModel(Classify(opErr), opCtx.Model)
		if last.Policy().Retryable && ctx.Err() == nil {
			return retry.RetryableError(last)
		}
		return last
	})
	if err == nil {
		return nil
	}
	return withModel(Classify(err), opCtx.Model)
}

// withModel returns e with Model filled in, copying so that an error value
// owned by the operation is never modified.
func withModel(e *Error, model string) *Error {
	if e.Model != "" || model == "" {
		return e
	}
	cp := *e
	cp.Model = model
	return &cp
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, h *Handler, opCtx OpContext, maxRetries int, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := h.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opCtx, maxRetries)
	return out, err
}
