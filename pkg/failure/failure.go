// Package failure classifies generation errors into a closed set of kinds
// and decides how each kind is recovered.
package failure

import (
	"fmt"
	"time"
)

// Kind is the closed set of error categories.
type Kind int

const (
	// KindModel means the chosen model is unavailable; recover by fallback.
	KindModel Kind = iota + 1
	// KindRateLimit means the provider throttled the call; retry after a delay.
	KindRateLimit
	// KindValidation means the request or reply was malformed.
	KindValidation
	// KindQuotaExceeded means the account or run budget is exhausted.
	KindQuotaExceeded
	// KindNetwork means the call failed in transit or timed out.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindModel:
		return "model_error"
	case KindRateLimit:
		return "rate_limit_error"
	case KindValidation:
		return "validation_error"
	case KindQuotaExceeded:
		return "quota_exceeded_error"
	case KindNetwork:
		return "network_error"
	default:
		return "unknown_error"
	}
}

// MarshalText renders the kind name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a name produced by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	for c := KindModel; c <= KindNetwork; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", text)
}

// Action is what the caller should do about an error.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionFallback Action = "fallback"
	ActionAbort    Action = "abort"
)

// Policy is the recovery decision for a Kind.
type Policy struct {
	Retryable   bool   `json:"retryable"`
	Action      Action `json:"action"`
	UserMessage string `json:"user_message"`
}

// PolicyFor returns the recovery policy for k.
func PolicyFor(k Kind) Policy {
	switch k {
	case KindModel:
		return Policy{
			Retryable:   false,
			Action:      ActionFallback,
			UserMessage: "The selected AI model is temporarily unavailable. Trying an alternative model.",
		}
	case KindRateLimit:
		return Policy{
			Retryable:   true,
			Action:      ActionRetry,
			UserMessage: "The AI service is busy. Retrying shortly.",
		}
	case KindValidation:
		return Policy{
			Retryable:   false,
			Action:      ActionAbort,
			UserMessage: "The generated content was not in the expected format.",
		}
	case KindQuotaExceeded:
		return Policy{
			Retryable:   false,
			Action:      ActionAbort,
			UserMessage: "The generation budget has been used up. Please try again later.",
		}
	case KindNetwork:
		return Policy{
			Retryable:   true,
			Action:      ActionRetry,
			UserMessage: "A network problem interrupted generation. Retrying.",
		}
	default:
		return Policy{
			Retryable:   false,
			Action:      ActionAbort,
			UserMessage: "Something went wrong while generating your site.",
		}
	}
}

// Error is a classified generation error.
type Error struct {
	Kind    Kind
	Message string
	Model   string
	Status  int
	// RetryAfter is the provider's explicit back-off hint, if any.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Model != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Model, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Policy returns the recovery policy for the error's kind.
func (e *Error) Policy() Policy {
	return PolicyFor(e.Kind)
}

func NewModelError(model, msg string, err error) *Error {
	return &Error{Kind: KindModel, Model: model, Message: msg, Err: err}
}

func NewRateLimitError(model string, retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindRateLimit, Model: model, Message: "rate limited", RetryAfter: retryAfter, Err: err}
}

func NewValidationError(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}

func NewQuotaExceededError(msg string, err error) *Error {
	return &Error{Kind: KindQuotaExceeded, Message: msg, Err: err}
}

func NewNetworkError(msg string, err error) *Error {
	return &Error{Kind: KindNetwork, Message: msg, Err: err}
}
