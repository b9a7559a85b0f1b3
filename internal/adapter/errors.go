package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/costlens/backend/internal/model"
)

// Kind classifies ingestion failures so the queue's retry policy can branch
// on structured variants instead of matching error-message substrings.
type Kind string

const (
	// KindUnsupportedProvider: the registry has no adapter for the
	// provider tag. Fatal; the account needs manual reconfiguration.
	KindUnsupportedProvider Kind = "UNSUPPORTED_PROVIDER"

	// KindAuth: the provider rejected the credentials. Fatal for this run;
	// retrying with the same credentials only burns quota.
	KindAuth Kind = "PROVIDER_AUTH"

	// KindRateLimit: provider-side throttling. Retryable with backoff.
	KindRateLimit Kind = "PROVIDER_RATE_LIMIT"

	// KindTimeout: an adapter call exceeded its wait bound. Retryable.
	KindTimeout Kind = "TIMEOUT"

	// KindNormalization: a whole batch failed to map. Non-fatal; the batch
	// is skipped and reflected in the sync job metadata.
	KindNormalization Kind = "NORMALIZATION"

	// KindPersistence: a store write failed. Retryable, batch writes are
	// idempotent.
	KindPersistence Kind = "PERSISTENCE"
)

// Error is the tagged error type carried across the ingestion pipeline.
type Error struct {
	Kind     Kind
	Provider model.Provider
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewUnsupportedProvider reports that no adapter is registered for the tag.
func NewUnsupportedProvider(provider model.Provider) *Error {
	return &Error{Kind: KindUnsupportedProvider, Provider: provider, Msg: "no adapter registered for provider"}
}

// NewAuthError wraps a credential rejection from the provider API.
func NewAuthError(provider model.Provider, err error) *Error {
	return &Error{Kind: KindAuth, Provider: provider, Msg: "credentials rejected", Err: err}
}

// NewRateLimitError wraps provider-side throttling.
func NewRateLimitError(provider model.Provider, err error) *Error {
	return &Error{Kind: KindRateLimit, Provider: provider, Msg: "throttled by provider", Err: err}
}

// NewTimeoutError wraps an exceeded wait bound on an adapter call.
func NewTimeoutError(provider model.Provider, err error) *Error {
	return &Error{Kind: KindTimeout, Provider: provider, Msg: "call exceeded wait bound", Err: err}
}

// NewPersistenceError wraps a failed store write.
func NewPersistenceError(err error) *Error {
	return &Error{Kind: KindPersistence, Msg: "store write failed", Err: err}
}

// KindOf extracts the Kind from err, unwrapping as needed. Context deadline
// and cancellation errors classify as KindTimeout even when not wrapped in
// *Error: a run aborted by shutdown is transient, and the next scheduled
// sync replays the window. Untagged errors return "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return ""
}

// Retryable reports whether the queue may retry err with backoff. Only
// transient kinds qualify; untagged errors are treated as non-retryable.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindTimeout, KindPersistence:
		return true
	}
	return false
}
