package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m4xw311/thinkact/errors"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v2"
	"google.golang.org/api/googleapi"
)

// ErrNotSupported is wrapped by providers that lack a capability.
var ErrNotSupported = errors.Sentinel("operation not supported by provider")

// ProviderError describes a failed upstream call. StatusCode is zero when
// the failure carried no HTTP status.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// retryablePatterns are matched against lowercased error messages.
var retryablePatterns = []string{
	"timeout",
	"connection",
	"rate limit",
	"server error",
	"bad gateway",
	"service unavailable",
	"too many requests",
	"internal error",
	"gateway timeout",
}

// IsRetryable reports whether err is a transient upstream failure: a 429 or
// 5xx status, or a message matching a known transient pattern. Context
// cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code := StatusCode(err); code != 0 {
		if code == http.StatusTooManyRequests || (code >= 500 && code <= 599) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// StatusCode extracts an HTTP status from err, or 0 when none is known.
func StatusCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode != 0 {
		return pe.StatusCode
	}
	return upstreamStatus(err)
}

// upstreamStatus knows the error types of every SDK this package uses.
func upstreamStatus(err error) int {
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	var se api.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	var aws interface{ HTTPStatusCode() int }
	if errors.As(err, &aws) {
		return aws.HTTPStatusCode()
	}
	var gax interface{ HTTPCode() int }
	if errors.As(err, &gax) {
		return gax.HTTPCode()
	}
	return 0
}

// wrapError converts an SDK failure into a *ProviderError.
func wrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: upstreamStatus(err),
		Message:    err.Error(),
		Err:        err,
	}
}

func notSupported(provider, what string) error {
	return &ProviderError{
		Provider: provider,
		Message:  what + " is not supported",
		Err:      ErrNotSupported,
	}
}
