// Package collab defines the typed error variants shared by the two
// external collaborators (model provider and issue tracker). Every error
// that crosses a collaborator boundary is classified into exactly one
// Kind; the pipeline branches on the Kind, never on provider error types.
package collab

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient"
	KindAuthFailed  Kind = "auth_failed"
	KindMalformed   Kind = "malformed"
	KindNotFound    Kind = "not_found"
)

// Error tags an underlying collaborator error with its Kind and the
// operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func RateLimited(op string, err error) *Error { return newError(KindRateLimited, op, err) }
func Transient(op string, err error) *Error   { return newError(KindTransient, op, err) }
func AuthFailed(op string, err error) *Error  { return newError(KindAuthFailed, op, err) }
func Malformed(op string, err error) *Error   { return newError(KindMalformed, op, err) }
func NotFound(op string, err error) *Error    { return newError(KindNotFound, op, err) }

// KindOf extracts the Kind from err, if err carries one.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

func isKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func IsAuthFailed(err error) bool { return isKind(err, KindAuthFailed) }
func IsMalformed(err error) bool  { return isKind(err, KindMalformed) }
func IsNotFound(err error) bool   { return isKind(err, KindNotFound) }

// Retryable reports whether err is worth another attempt. Only rate limits
// and transient failures qualify; auth failures and malformed payloads are
// deterministic. The Kind wins over the underlying cause: a classified
// transient error retries even when it wraps a deadline, since a per-call
// timeout says nothing about the run. Bare context errors reach here
// unclassified and mean the caller is shutting down.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if k, ok := KindOf(err); ok {
		return k == KindRateLimited || k == KindTransient
	}
	return false
}
