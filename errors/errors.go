// Package errors classifies the failures of a conformance run and carries
// the phase and endpoint context attached while they propagate.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for reporting
type Kind int

const (
	// KindUnknown is an error that was never classified
	KindUnknown Kind = iota
	// KindConfiguration means the environment or setup is unusable
	KindConfiguration
	// KindSchema means an aggregate does not match the record schema
	KindSchema
	// KindUnknownField means an aggregate carries a field outside the catalog
	KindUnknownField
	// KindEncoding means a value could not be encoded or decoded
	KindEncoding
	// KindExhaustedRetries means an eventually consistent check never converged
	KindExhaustedRetries
	// KindAssertion means an observed value or order did not match
	KindAssertion
	// KindTask means a concurrent unit of work exited abnormally
	KindTask
	// KindTeardown means a cleanup step failed after the phases completed
	KindTeardown
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindSchema:
		return "schema error"
	case KindUnknownField:
		return "unknown field"
	case KindEncoding:
		return "encoding error"
	case KindExhaustedRetries:
		return "exhausted retries"
	case KindAssertion:
		return "assertion failure"
	case KindTask:
		return "task failure"
	case KindTeardown:
		return "teardown error"
	default:
		return "error"
	}
}

// Error is a classified error with optional run context
type Error struct {
	Kind     Kind
	Phase    string
	Endpoint string
	Message  string
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Phase != "" {
		fmt.Fprintf(&b, "phase %s: ", e.Phase)
	}
	if e.Endpoint != "" {
		fmt.Fprintf(&b, "endpoint %s: ", e.Endpoint)
	}

	// context-only wrappers defer to the classified cause
	var inner *Error
	if e.Message == "" && e.Err != nil && errors.As(e.Err, &inner) {
		b.WriteString(e.Err.Error())
		return b.String()
	}

	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted message
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err with a formatted message. A nil err stays nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Mismatch reports an assertion failure with expected and actual values
func Mismatch(what string, expected, actual any) error {
	return &Error{
		Kind:    KindAssertion,
		Message: fmt.Sprintf("%s mismatch: expected %v, got %v", what, expected, actual),
	}
}

// WithPhase attaches the phase to err. Errors that already name a phase are
// returned unchanged, the innermost phase being the most precise.
func WithPhase(err error, phase string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Phase != "" {
			return err
		}
		if err == error(e) {
			c := *e
			c.Phase = phase
			return &c
		}
	}
	return &Error{Kind: KindOf(err), Phase: phase, Err: err}
}

// WithEndpoint attaches the endpoint name to err
func WithEndpoint(err error, endpoint string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Endpoint != "" {
			return err
		}
		if err == error(e) {
			c := *e
			c.Endpoint = endpoint
			return &c
		}
	}
	return &Error{Kind: KindOf(err), Endpoint: endpoint, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind checks whether any classified error in the chain has the given kind
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
