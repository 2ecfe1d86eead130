package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureKind classifies a provider failure for the fallback router
type FailureKind string

const (
	FailureRateLimited    FailureKind = "rate_limited"
	FailureQuotaExhausted FailureKind = "quota_exhausted"
	FailureUnavailable    FailureKind = "unavailable"
	FailureTimeout        FailureKind = "timeout"
	FailureAuth           FailureKind = "auth"
	FailureBadRequest     FailureKind = "bad_request"
	FailureInternal       FailureKind = "internal"
)

// ProviderError carries the failure classification the router needs to
// decide between advancing to the next provider and failing fast.
type ProviderError struct {
	Provider string
	Kind     FailureKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err with a classification
func NewProviderError(provider string, kind FailureKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// IsFallbackEligible reports whether the router should try the next
// provider. Rate limits, exhausted quotas, unavailability, and timeouts
// are transient per provider; auth and malformed-request failures would
// fail identically everywhere and propagate immediately.
func IsFallbackEligible(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case FailureRateLimited, FailureQuotaExhausted, FailureUnavailable, FailureTimeout:
			return true
		}
		return false
	}
	// Hard timeouts on the call itself count as fallback-eligible
	return errors.Is(err, context.DeadlineExceeded)
}

// ClassifyHTTPStatus maps an HTTP status code to a failure kind
func ClassifyHTTPStatus(status int) FailureKind {
	switch {
	case status == http.StatusTooManyRequests:
		return FailureRateLimited
	case status == http.StatusPaymentRequired:
		return FailureQuotaExhausted
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return FailureBadRequest
	case status >= 500:
		return FailureUnavailable
	default:
		return FailureInternal
	}
}

// classifyMessage maps vendor error text onto a failure kind. API SDKs do
// not always surface status codes, so this matches the markers the vendors
// actually emit.
func classifyMessage(msg string) FailureKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "resource_exhausted"):
		return FailureRateLimited
	case strings.Contains(lower, "quota"):
		return FailureQuotaExhausted
	case strings.Contains(lower, "overloaded") || strings.Contains(lower, "unavailable") || strings.Contains(lower, "503") || strings.Contains(lower, "529"):
		return FailureUnavailable
	case strings.Contains(lower, "deadline") || strings.Contains(lower, "timeout"):
		return FailureTimeout
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") || strings.Contains(lower, "api key") || strings.Contains(lower, "authentication"):
		return FailureAuth
	case strings.Contains(lower, "400") || strings.Contains(lower, "invalid request"):
		return FailureBadRequest
	default:
		return FailureInternal
	}
}
