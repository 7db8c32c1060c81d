package failure

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/zen-systems/sitegen/pkg/adapter"
)

var (
	quotaKeywords      = []string{"insufficient_quota", "exceeded your current quota", "quota", "billing", "credit balance", "budget"}
	rateLimitKeywords  = []string{"rate limit", "rate_limit", "too many requests", "throttl"}
	validationKeywords = []string{"invalid json", "unexpected end of json", "schema", "validation", "malformed", "invalid request"}
	networkKeywords    = []string{"timeout", "timed out", "deadline exceeded", "connection refused", "connection reset", "no such host", "broken pipe", "eof", "network"}
	modelKeywords      = []string{"overloaded", "unavailable", "model not found", "does not exist", "not_found"}
)

// Classify maps any error to a classified *Error. Typed errors win, then
// HTTP status, then transport errors, then message keywords. Unrecognised
// errors are treated as model errors so the fallback chain gets a chance.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewNetworkError("request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewNetworkError("request cancelled", err)
	}

	var adapterErr *adapter.AdapterError
	if errors.As(err, &adapterErr) && adapterErr.Status > 0 {
		if e := fromStatus(adapterErr.Status, err); e != nil {
			e.RetryAfter = adapterErr.RetryAfter
			return e
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewNetworkError("network error", err)
	}

	return fromMessage(err)
}

func fromStatus(status int, err error) *Error {
	switch {
	case status == 400 || status == 422:
		return &Error{Kind: KindValidation, Status: status, Message: "request rejected", Err: err}
	case status == 401 || status == 403 || status == 404:
		return &Error{Kind: KindModel, Status: status, Message: "model not accessible", Err: err}
	case status == 402:
		return &Error{Kind: KindQuotaExceeded, Status: status, Message: "payment required", Err: err}
	case status == 429:
		if containsAny(strings.ToLower(err.Error()), quotaKeywords) {
			return &Error{Kind: KindQuotaExceeded, Status: status, Message: "quota exceeded", Err: err}
		}
		return &Error{Kind: KindRateLimit, Status: status, Message: "rate limited", Err: err}
	case status == 408 || status == 502 || status == 504:
		return &Error{Kind: KindNetwork, Status: status, Message: "upstream timeout", Err: err}
	case status == 500 || status == 503 || status == 529:
		return &Error{Kind: KindModel, Status: status, Message: "model overloaded", Err: err}
	case status > 500 && status <= 599:
		return &Error{Kind: KindNetwork, Status: status, Message: "upstream error", Err: err}
	}
	return nil
}

func fromMessage(err error) *Error {
	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, quotaKeywords):
		return NewQuotaExceededError("quota exceeded", err)
	case containsAny(lower, rateLimitKeywords):
		return NewRateLimitError("", 0, err)
	case containsAny(lower, validationKeywords):
		return NewValidationError("invalid content", err)
	case containsAny(lower, networkKeywords):
		return NewNetworkError("network error", err)
	case containsAny(lower, modelKeywords):
		return NewModelError("", "model unavailable", err)
	default:
		return NewModelError("", "model call failed", err)
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
