// Package sources implements the adapters for the three external
// collaborators the engine reads from: the tool registry, the RAG
// retriever and the session history store.
//
// Adapters are thin: one request per Fetch, no retries, no caching. Every
// failure is reported as an error that matches ErrUnavailable so callers
// can degrade to an empty ingredient.
package sources

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks any failure to obtain data from an external source:
// timeout, transport error, non-2xx status or a malformed body.
var ErrUnavailable = errors.New("source unavailable")

// FetchError describes a failed fetch. It matches both ErrUnavailable and
// the underlying cause under errors.Is.
type FetchError struct {
	Source string
	Op     string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

// Unwrap exposes the sentinel and the cause.
func (e *FetchError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

func unavailable(source, op string, err error) error {
	return &FetchError{Source: source, Op: op, Err: err}
}

// StatusError reports a non-2xx response from a collaborator.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
