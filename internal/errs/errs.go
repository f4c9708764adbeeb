// Package errs defines the unified error taxonomy shared by every hub
// subsystem. Backend packages translate driver errors into one of the
// kinds below at the point of failure; everything above them routes on
// the kind alone (tool envelopes, HTTP status codes, retry decisions).
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure. The zero value is KindInternal so that an
// unclassified error is never silently treated as retryable or benign.
type Kind int

const (
	// KindInternal marks invariant violations and unexpected failures.
	KindInternal Kind = iota
	// KindInvalidInput marks schema or argument validation failures.
	KindInvalidInput
	// KindNotFound marks a missing entity, chain, task, file, or model.
	KindNotFound
	// KindDuplicate marks a unique-constraint violation.
	KindDuplicate
	// KindBackendUnavailable marks graph or model connection failures.
	KindBackendUnavailable
	// KindTimeout marks a deadline exceeded on a backend call.
	KindTimeout
	// KindGovernanceBlocked marks an action refused by the governance
	// pre-check while the block policy is on.
	KindGovernanceBlocked
	// KindGovernanceInvalidFormat marks a log record that failed schema
	// validation before the action ran.
	KindGovernanceInvalidFormat
)

// String returns the wire name of the kind, as it appears in tool error
// envelopes and HTTP error bodies.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindDuplicate:
		return "duplicate"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindTimeout:
		return "timeout"
	case KindGovernanceBlocked:
		return "governance_blocked"
	case KindGovernanceInvalidFormat:
		return "governance_invalid_format"
	default:
		return "internal"
	}
}

// Error is a classified error. Op names the operation that failed
// ("graph: create entity", "model: chat") following the package-prefix
// convention used throughout the codebase.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two taxonomy errors by kind, so callers can
// write errors.Is(err, errs.New(errs.KindNotFound, "", "")) style
// sentinels without caring about Op or Msg.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Kind == te.Kind
}

// New builds a classified error with a literal message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf builds a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil err yields nil so call
// sites can wrap unconditionally on return paths.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the taxonomy kind from an error chain. Plain
// context.DeadlineExceeded is recognized as a timeout; anything else
// unclassified is internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the model router and graph pool are allowed
// to retry the failed call. Only timeouts and backend connection
// failures qualify.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindBackendUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a taxonomy kind to the HTTP status code used by the
// transport layer.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindGovernanceBlocked:
		return http.StatusLocked
	case KindBackendUnavailable, KindTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
