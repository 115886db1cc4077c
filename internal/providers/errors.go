package providers

import (
	"errors"
	"fmt"
	"net/http"

	"ai_gateway/internal/models"
)

// ErrorKind classifies provider and gateway failures. The kind decides
// whether the gateway retries, which abuse counters move, and which
// transport status the HTTP layer maps it to.
type ErrorKind int

const (
	// KindConfiguration: credentials structurally wrong for the declared
	// provider type. Never retried.
	KindConfiguration ErrorKind = iota

	// KindAuthentication: the provider rejected the credentials. Never
	// retried; surfaced as "check your credentials".
	KindAuthentication

	// KindRateLimit: the provider throttled the request. Retried with
	// bounded exponential backoff.
	KindRateLimit

	// KindProviderUnavailable: transport failure or provider 5xx. Retried
	// once with backoff.
	KindProviderUnavailable

	// KindInvalidRequest: malformed request content. Never retried;
	// increments the demo session's invalid request counter.
	KindInvalidRequest

	// KindLocked: the demo session is locked or expired. Short-circuits
	// before any provider call.
	KindLocked

	// KindNotFound: referenced entity missing or not owned by the caller.
	KindNotFound

	// KindUnknownProvider: provider type tag not registered. Programming
	// error; should never occur on valid input.
	KindUnknownProvider
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration_error"
	case KindAuthentication:
		return "authentication_error"
	case KindRateLimit:
		return "rate_limit_error"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindInvalidRequest:
		return "invalid_request"
	case KindLocked:
		return "locked"
	case KindNotFound:
		return "not_found"
	case KindUnknownProvider:
		return "unknown_provider"
	}
	return "unknown"
}

// Retryable reports whether the gateway may retry a call that failed with
// this kind.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimit || k == KindProviderUnavailable
}

// Error is a classified provider or gateway failure.
type Error struct {
	Kind     ErrorKind
	Provider models.ProviderType
	// Status is the provider HTTP status when one was observed, 0 otherwise.
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error wrapping cause.
func NewError(kind ErrorKind, provider models.ProviderType, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: cause}
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind ErrorKind, provider models.ProviderType, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the taxonomy kind from err. Unclassified errors are
// treated as provider-unavailable, the only honest default for an error we
// could not inspect.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindProviderUnavailable
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// classifyStatus maps a provider HTTP status to a taxonomy kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= 500:
		return KindProviderUnavailable
	case status >= 400:
		// Includes 404 on a bad model id, which valid user input can cause.
		return KindInvalidRequest
	}
	return KindProviderUnavailable
}

// statusError builds a classified error from a non-2xx provider response.
func statusError(provider models.ProviderType, status int, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{
		Kind:     classifyStatus(status),
		Provider: provider,
		Status:   status,
		Msg:      fmt.Sprintf("status %d: %s", status, message),
	}
}
