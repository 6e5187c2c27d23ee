package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted indicates every candidate model failed or was skipped.
	ErrExhausted = errors.New("all model candidates exhausted")

	// ErrBreakerOpen indicates a provider's circuit breaker rejected the call.
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrNoCandidates indicates the agent resolved to an empty candidate list.
	ErrNoCandidates = errors.New("no model candidates")
)

// CallError wraps one failed call attempt with provider/model context.
type CallError struct {
	Provider   string
	Model      string
	StatusCode int
	Err        error
	transient  bool
}

// Error returns the formatted error message.
func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("model %s via %s: HTTP %d: %v", e.Model, e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model %s via %s: %v", e.Model, e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying against a different candidate could
// succeed. Auth failures and malformed requests are invariant: every
// candidate would reject them the same way, so failover stops.
func (e *CallError) Transient() bool {
	return e.transient
}

// transientStatus classifies an HTTP status for failover purposes.
// Timeouts, rate limits, and server-side errors are transient; client
// errors are invariant.
func transientStatus(code int) bool {
	switch {
	case code == 408 || code == 429:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err allows continuing down the candidate
// list. Network-level errors (no HTTP status) count as transient.
func IsTransient(err error) bool {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Transient()
	}
	return true
}
