package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorType classifies provider errors for retry handling.
type ErrorType string

const (
	ErrorTypeRateLimit          ErrorType = "rate_limit"          // 429
	ErrorTypeInsufficientCredit ErrorType = "insufficient_credit" // 402
	ErrorTypeProviderDown       ErrorType = "provider_down"       // 5xx
	ErrorTypeAuth               ErrorType = "auth"                // 401
	ErrorTypeModeration         ErrorType = "moderation"          // 403
	ErrorTypeBadRequest         ErrorType = "bad_request"         // 400, 404, 422
	ErrorTypeUnknown            ErrorType = "unknown"
)

// ProviderError is a structured error returned by LLM clients.
type ProviderError struct {
	Type       ErrorType
	Provider   string
	Code       string // raw status or provider error code
	Message    string
	RetryAfter *time.Duration
	Retryable  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// IsProviderError checks if err is a ProviderError and returns it.
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// NewProviderError creates a new ProviderError with the given parameters.
func NewProviderError(provider string, errType ErrorType, code, message string) *ProviderError {
	return &ProviderError{
		Type:     errType,
		Provider: provider,
		Code:     code,
		Message:  message,
	}
}

// ClassifyHTTPError maps an HTTP failure to a ProviderError. Rate limits and
// upstream outages are retryable; everything else is not.
func ClassifyHTTPError(provider string, status int, header http.Header, body string) *ProviderError {
	msg := strings.TrimSpace(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	pe := NewProviderError(provider, ErrorTypeUnknown, strconv.Itoa(status), msg)
	switch {
	case status == http.StatusTooManyRequests:
		pe.Type = ErrorTypeRateLimit
		pe.Retryable = true
	case status == http.StatusPaymentRequired:
		pe.Type = ErrorTypeInsufficientCredit
	case status == http.StatusUnauthorized:
		pe.Type = ErrorTypeAuth
	case status == http.StatusForbidden:
		pe.Type = ErrorTypeModeration
	case status == http.StatusBadRequest, status == http.StatusNotFound, status == http.StatusUnprocessableEntity:
		pe.Type = ErrorTypeBadRequest
	case status >= 500:
		pe.Type = ErrorTypeProviderDown
		pe.Retryable = true
	}
	if header != nil {
		if raw := header.Get("Retry-After"); raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
				d := time.Duration(secs) * time.Second
				pe.RetryAfter = &d
			}
		}
	}
	return pe
}
