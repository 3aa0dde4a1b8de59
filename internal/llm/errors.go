package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies provider failures.
type Kind string

// Failure kinds.
const (
	KindRateLimited           Kind = "rate_limited"
	KindOverloaded            Kind = "overloaded"
	KindInvalidCredentials    Kind = "invalid_credentials"
	KindTimeout               Kind = "timeout"
	KindUnsupportedAttachment Kind = "unsupported_attachment"
	KindBadRequest            Kind = "bad_request"
	KindEmptyResponse         Kind = "empty_response"
	KindUnknown               Kind = "unknown"
)

// Sentinels matched by errors.Is against any *ProviderError of that kind.
var (
	ErrRateLimited           = errors.New("provider rate limited")
	ErrOverloaded            = errors.New("provider overloaded")
	ErrInvalidCredentials    = errors.New("provider rejected credentials")
	ErrTimeout               = errors.New("provider timed out")
	ErrUnsupportedAttachment = errors.New("attachment not supported by provider")
	ErrBadRequest            = errors.New("provider rejected request")
	ErrEmptyResponse         = errors.New("provider returned no content")
)

var sentinels = map[Kind]error{
	KindRateLimited:           ErrRateLimited,
	KindOverloaded:            ErrOverloaded,
	KindInvalidCredentials:    ErrInvalidCredentials,
	KindTimeout:               ErrTimeout,
	KindUnsupportedAttachment: ErrUnsupportedAttachment,
	KindBadRequest:            ErrBadRequest,
	KindEmptyResponse:         ErrEmptyResponse,
}

// ProviderError is returned by every Client.
type ProviderError struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *ProviderError) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// Retryable reports whether the same request may succeed later.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindOverloaded, KindTimeout:
		return true
	}
	return false
}

// IsRetryable reports whether err is a retryable provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

// KindOf returns the kind of a provider failure, or KindUnknown.
func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

func newError(provider string, kind Kind, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Err: err}
}

// kindForStatus maps an HTTP status of a failed call.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindInvalidCredentials
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status >= 500:
		// Includes Anthropic's 529 overloaded.
		return KindOverloaded
	case status >= 400:
		return KindBadRequest
	}
	return KindUnknown
}

// transportError classifies a failure to get any response.
func transportError(ctx context.Context, provider string, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(provider, KindTimeout, 0, err)
	}
	if errors.Is(err, context.Canceled) {
		return newError(provider, KindUnknown, 0, err)
	}
	return newError(provider, KindOverloaded, 0, err)
}

// limiterError classifies a failed wait on the local request throttle. A
// deadline too close to admit the call is a timeout; without one the
// throttle itself refused.
func limiterError(ctx context.Context, provider string, err error) *ProviderError {
	err = fmt.Errorf("rate limiter: %w", err)
	if errors.Is(ctx.Err(), context.Canceled) {
		return newError(provider, KindUnknown, 0, err)
	}
	if _, ok := ctx.Deadline(); ok {
		return newError(provider, KindTimeout, 0, err)
	}
	return newError(provider, KindRateLimited, 0, err)
}
