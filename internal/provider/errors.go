package provider

import (
	"errors"
	"strings"
)

// Sentinel classifications for provider failures. Implementations wrap their
// raw errors with exactly one of these so callers can branch with errors.Is
// instead of matching message text.
var (
	// ErrAlreadyExists marks creations that collided with an existing
	// resource. Never retried; the caller converges on the existing one.
	ErrAlreadyExists = errors.New("provider: already exists")
	// ErrNotFound marks lookups of resources the provider does not know.
	ErrNotFound = errors.New("provider: not found")
	// ErrAuthFailed marks rejected credentials. Retrying cannot help.
	ErrAuthFailed = errors.New("provider: authentication failed")
	// ErrInvalidRequest marks requests the provider rejected as malformed.
	ErrInvalidRequest = errors.New("provider: invalid request")
	// ErrTransient marks rate limits, server errors and transport failures
	// that a later attempt may clear.
	ErrTransient = errors.New("provider: transient failure")
)

// Message fragments some deployments return without a usable status code.
var permanentSignatures = []string{
	"already exists",
	"authentication failed",
	"invalid api key",
}

// Retryable reports whether a provider error is worth another attempt. Only
// errors explicitly classified as transient qualify; unknown errors are
// treated as permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		for _, signature := range permanentSignatures {
			if strings.Contains(strings.ToLower(err.Error()), signature) {
				return false
			}
		}
		return true
	}
	return false
}
