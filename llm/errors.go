package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SDKError is the base error type for all model-backend errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError is an error reported by a model provider. RetryAfter is
// zero when the provider gave no hint.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("[%s] %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("[%s] %s (status %d)", e.Provider, e.Message, e.StatusCode)
}

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type ConfigurationError struct{ SDKError }

var (
	statusPattern     = regexp.MustCompile(`\b([45]\d\d)\b`)
	retryAfterPattern = regexp.MustCompile(`(?i)retry[- ]after[:= ]+(\d+(?:\.\d+)?)\s*(ms|s)?`)
)

// messageRule maps substrings of a provider message to a status class for
// backends that report failures only as text.
type messageRule struct {
	status   int
	keywords []string
}

var messageRules = []messageRule{
	{401, []string{"unauthorized", "invalid api key", "incorrect api key"}},
	{403, []string{"forbidden", "permission denied"}},
	{429, []string{"rate limit", "too many requests", "quota"}},
	{413, []string{"context length", "too many tokens", "maximum context"}},
	{404, []string{"not found", "does not exist"}},
	{500, []string{"internal server", "bad gateway", "service unavailable", "overloaded"}},
}

// ClassifyError maps an error from a provider SDK onto the error taxonomy.
// Context errors are recognized through the chain first; the rest are
// classified by the status code or keywords in the message. The original
// error stays reachable through errors.Is and errors.As.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case errors.Is(err, context.Canceled) || strings.Contains(lower, "context canceled"):
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "deadline exceeded") || strings.Contains(lower, "timeout"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{ProviderError: providerError(provider, 0, err)}
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "connection reset"):
		return &NetworkError{SDKError: SDKError{Message: msg, Cause: err}}
	}

	status := 0
	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		status, _ = strconv.Atoi(m[1])
	}
	if status == 0 {
		for _, rule := range messageRules {
			if containsAny(lower, rule.keywords) {
				status = rule.status
				break
			}
		}
	}
	return errorForStatus(providerError(provider, status, err))
}

func providerError(provider string, status int, err error) ProviderError {
	return ProviderError{
		SDKError:   SDKError{Message: err.Error(), Cause: err},
		Provider:   provider,
		StatusCode: status,
		RetryAfter: parseRetryAfter(err.Error()),
	}
}

func errorForStatus(pe ProviderError) error {
	switch pe.StatusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: pe.SDKError}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504, 529:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		// Unclassified provider failures are usually transient.
		pe.Retryable = true
		return &pe
	}
}

// parseRetryAfter extracts a "retry after N" hint from a provider message.
// Bare numbers are seconds.
func parseRetryAfter(msg string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	if strings.EqualFold(m[2], "ms") {
		return time.Duration(n * float64(time.Millisecond))
	}
	return time.Duration(n * float64(time.Second))
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err is worth another attempt. Cancellation
// never is. Wrapped errors are classified by the first known type in their
// chain; anything unknown is retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch t := e.(type) {
		case *ProviderError:
			return t.Retryable
		case *AuthenticationError, *AccessDeniedError, *NotFoundError,
			*InvalidRequestError, *ContextLengthError, *ContentFilterError,
			*ConfigurationError, *AbortError:
			return false
		case *RateLimitError, *ServerError, *NetworkError, *RequestTimeoutError:
			return true
		}
	}
	return true
}
