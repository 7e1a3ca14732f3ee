// Package proxyerr defines the error taxonomy shared across the proxy core.
package proxyerr

import "fmt"

// Kind classifies a proxy-level failure so the pipeline can decide whether
// to retry, rotate accounts, or give up.
type Kind int

const (
	// KindTransientUpstream is a 429 with a short, parseable retry delay —
	// wait and retry the same account.
	KindTransientUpstream Kind = iota
	// KindAccountExhausted is a 429 with a long/unparseable delay, or a
	// 403/404 — rotate to the next account.
	KindAccountExhausted
	// KindUpstreamPermanent is a 5xx (or any status with no known recovery)
	// — propagate to the client, no retries.
	KindUpstreamPermanent
	// KindParseError is a malformed upstream chunk (dropped silently by the
	// stream converter) or a client request the translator cannot parse
	// (returned by the pipeline).
	KindParseError
	// KindConfigError means the proxy cannot start serving (no accounts
	// loaded, a malformed account record missing its refresh token).
	KindConfigError
	// KindEmptyCompletion is an upstream response with no content and a
	// finish reason that looks like truncation — eligible for one retry.
	KindEmptyCompletion
)

func (k Kind) String() string {
	switch k {
	case KindTransientUpstream:
		return "transient_upstream"
	case KindAccountExhausted:
		return "account_exhausted"
	case KindUpstreamPermanent:
		return "upstream_permanent"
	case KindParseError:
		return "parse_error"
	case KindConfigError:
		return "config_error"
	case KindEmptyCompletion:
		return "empty_completion"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with a message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a proxy *Error of the given kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if e, ok := err.(*Error); ok {
		pe = e
	} else {
		return false
	}
	return pe.Kind == kind
}
