// Package errors defines the structured error taxonomy every mem-os
// component surfaces to its callers, grounded on an AppError-style
// pattern (component/operation/cause/severity, one constructor per kind)
// and narrowed to the kinds spec §7 enumerates.
package errors

import (
	"fmt"
	"time"
)

// Kind is one of the error kinds spec §7 names. InsufficientEvidence is
// deliberately absent: the spec treats it as a normal retrieval result,
// never an error.
type Kind string

const (
	KindParse             Kind = "ParseError"
	KindValidation        Kind = "ValidationError"
	KindBudgetExceeded    Kind = "BudgetExceeded"
	KindLockTimeout       Kind = "LockTimeout"
	KindACLDenied         Kind = "ACLDenied"
	KindPathTraversal     Kind = "PathTraversal"
	KindWALReplayConflict Kind = "WALReplayConflict"
	KindIO                Kind = "IOError"
)

// Error is mem-os's standardized error type. Every package constructs
// these through the Kind-specific helpers below rather than fmt.Errorf,
// so callers can type-switch on Kind without string matching.
type Error struct {
	Kind      Kind
	Component string
	Operation string
	Message   string
	File      string
	Line      int
	Cause     error
	Timestamp time.Time
	Metadata  map[string]interface{}
}

func (e *Error) Error() string {
	loc := ""
	if e.File != "" {
		loc = fmt.Sprintf(" (%s:%d)", e.File, e.Line)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s%s: %v", e.Component, e.Operation, e.Kind, e.Message, loc, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s%s", e.Component, e.Operation, e.Kind, e.Message, loc)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithMetadata attaches structured context for logging, returning e for
// chaining.
func (e *Error) WithMetadata(key string, value interface{}) *Error {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithLocation attaches the offending file/line, used for validator and
// parser diagnostics that need to point at a specific block.
func (e *Error) WithLocation(file string, line int) *Error {
	e.File = file
	e.Line = line
	return e
}

func newErr(kind Kind, component, operation, message string) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Parse builds a ParseError. Policy: local to the offending block; scan
// continues (spec §7).
func Parse(component, operation, message string) *Error {
	return newErr(KindParse, component, operation, message)
}

// Validation builds a ValidationError. Policy: apply rolls back; scan
// records it.
func Validation(component, operation, message string) *Error {
	return newErr(KindValidation, component, operation, message)
}

// BudgetExceeded builds a BudgetExceeded error. Policy: apply rejects at
// pre-check; scan stops generating more proposals.
func BudgetExceeded(component, operation, message string) *Error {
	return newErr(KindBudgetExceeded, component, operation, message)
}

// LockTimeout builds a LockTimeout error. Policy: apply rejects; no side
// effect.
func LockTimeout(component, operation, message string) *Error {
	return newErr(KindLockTimeout, component, operation, message)
}

// ACLDenied builds an ACLDenied error. Policy: apply rejects at pre-check.
func ACLDenied(component, operation, message string) *Error {
	return newErr(KindACLDenied, component, operation, message)
}

// PathTraversal builds a PathTraversal error. Policy: apply rejects at
// pre-check; logged at severity fail.
func PathTraversal(component, operation, message string) *Error {
	return newErr(KindPathTraversal, component, operation, message)
}

// WALReplayConflict builds a WALReplayConflict error. Policy: startup
// refuses to start; operator action required.
func WALReplayConflict(component, operation, message string) *Error {
	return newErr(KindWALReplayConflict, component, operation, message)
}

// IO builds an IOError. Policy: apply rolls back; file system state stays
// consistent because of the pre-mutation snapshot.
func IO(component, operation, message string) *Error {
	return newErr(KindIO, component, operation, message)
}

// Wrap attaches cause as the underlying error and returns e.
func (e *Error) Wrap(cause error) *Error {
	e.Cause = cause
	return e
}

// Is reports whether err is a mem-os Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
