// Package provider is the single seam between the pipeline engine and the
// outside model services. The engine only ever sees the Gateway capability;
// selection, auth and base-URL handling live behind concrete clients.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Params identifies the model call configuration that participates in
// response fingerprints. Identical Params plus identical prompt must be safe
// to serve from cache.
type Params struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Seed        int64   `json:"seed"`
}

// Gateway is the one capability the engine depends on.
type Gateway interface {
	Name() string
	// Invoke sends the prompt and returns the model's raw JSON output.
	Invoke(ctx context.Context, prompt string, params Params) (json.RawMessage, error)
	Close() error
}

// Middleware decorates a Gateway (retry, logging, …).
type Middleware func(Gateway) Gateway

// Chain applies middlewares outermost-first.
func Chain(g Gateway, mws ...Middleware) Gateway {
	for i := len(mws) - 1; i >= 0; i-- {
		g = mws[i](g)
	}
	return g
}

// ErrorKind classifies provider failures for the retry policy.
type ErrorKind string

const (
	KindTimeout   ErrorKind = "timeout"
	KindRateLimit ErrorKind = "rate_limit"
	KindAuth      ErrorKind = "auth"
	KindConn      ErrorKind = "conn"
)

// Error is a typed provider failure. Auth errors fail fast; everything else
// is retryable up to the configured bound.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("provider %s error: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Retryable() bool { return e.Kind != KindAuth }

// PermanentError marks an error that will not resolve with retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error { return &PermanentError{Err: err} }

var ErrEmptyResponse = errors.New("provider: empty model response")

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	// Unclassified errors are treated as transient connection trouble.
	return true
}
