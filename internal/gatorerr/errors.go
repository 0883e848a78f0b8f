// Package gatorerr provides the typed error taxonomy from §7: spec,
// protocol, scheduler, child-runtime, and transport errors, each
// inspectable by Kind for exit-code and log-severity mapping.
package gatorerr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for exit-code and severity mapping.
type Kind int

const (
	KindSpec Kind = iota
	KindProtocol
	KindScheduler
	KindChildRuntime
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindSpec:
		return "spec"
	case KindProtocol:
		return "protocol"
	case KindScheduler:
		return "scheduler"
	case KindChildRuntime:
		return "child_runtime"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// GatorError is the typed error carried through the protocol and log
// pipeline.
type GatorError struct {
	Kind    Kind
	Ident   string
	Message string
	Cause   error
}

func (e *GatorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Ident, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Ident, e.Message)
}

func (e *GatorError) Unwrap() error { return e.Cause }

// NewSpecError wraps a fatal EXPAND-time spec error (cycle, unknown
// dependency, malformed tag). Reported as CRITICAL, process exits 3.
func NewSpecError(ident, message string, cause error) *GatorError {
	return &GatorError{Kind: KindSpec, Ident: ident, Message: message, Cause: cause}
}

// NewProtocolError wraps a non-fatal malformed-envelope/unknown-action/
// wrong-state error. Reported as WARNING; the connection stays open.
func NewProtocolError(ident, message string) *GatorError {
	return &GatorError{Kind: KindProtocol, Ident: ident, Message: message}
}

// NewSchedulerError wraps a launch-failed or connect-back-timeout error.
// The caller should mark the child ABORTED and re-run the resolver.
func NewSchedulerError(ident, message string, cause error) *GatorError {
	return &GatorError{Kind: KindScheduler, Ident: ident, Message: message, Cause: cause}
}

// NewChildRuntimeError wraps a non-zero exit or ERROR/CRITICAL log entry.
func NewChildRuntimeError(ident, message string) *GatorError {
	return &GatorError{Kind: KindChildRuntime, Ident: ident, Message: message}
}

// NewTransportError wraps a lost-parent-connection error.
func NewTransportError(ident, message string, cause error) *GatorError {
	return &GatorError{Kind: KindTransport, Ident: ident, Message: message, Cause: cause}
}

// As extracts a *GatorError from err, or returns nil.
func As(err error) *GatorError {
	var ge *GatorError
	if errors.As(err, &ge) {
		return ge
	}
	return nil
}

// IsKind reports whether err is a *GatorError of the given Kind.
func IsKind(err error, k Kind) bool {
	ge := As(err)
	return ge != nil && ge.Kind == k
}

// ExitCode maps an error's Kind to the process exit code table in §6.
// Returns 0 if err is nil, 1 for anything not otherwise classified
// (i.e. descendant FAILURE).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case IsKind(err, KindSpec):
		return 3
	case IsKind(err, KindTransport):
		return 2
	default:
		return 1
	}
}
