// Package domain holds the data model shared by every component of the
// engine: expression values, measurement records, the AOE model, and the
// result records produced by a completed activation.
package domain

import (
	"errors"
	"fmt"
)

// ErrCanceled is returned when an operation observes an externally
// requested cancellation.
var ErrCanceled = errors.New("canceled")

// ErrChannelClosed is returned when an upstream channel disconnects while
// a caller was waiting on it.
var ErrChannelClosed = errors.New("channel closed")

// ErrTimeout is returned when a bounded wait expires, such as
// Dispatcher.Shutdown's drain deadline. An event that does not occur
// within its own timeout is reported as EventNotHappen, not as an error.
var ErrTimeout = errors.New("timeout")

// ParseError reports a tokenizer or RPN-validation failure at a specific
// character or token index.
type ParseError struct {
	Position int
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d: %s", e.Position, e.Reason)
}

// UnknownVariableError reports a reference to a name neither bound in the
// context chain nor declared by the owning AOE.
type UnknownVariableError struct {
	Name string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown variable %q", e.Name)
}

// FunctionError reports an arity/type mismatch or function-internal
// failure raised while evaluating a builtin or context-provided function.
type FunctionError struct {
	Name   string
	Reason string
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("function %q: %s", e.Name, e.Reason)
}

// CycleError reports that the computation-point graph has a cycle
// involving PointID. The AOE runtime also returns it for a cycle in an
// AOE's event graph or among its declared variables; PointID then holds
// the AOE's id.
type CycleError struct {
	PointID uint64
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected at point %d", e.PointID)
}

// GraphError reports that an AOE's event/action graph failed validation.
type GraphError struct {
	Reason string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph error: %s", e.Reason)
}

// SolverError is an opaque pass-through from a solver backend.
type SolverError struct {
	Code string
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("solver error: %s", e.Code)
}

// DomainError is the generic {Code, Message, Err} error shape used
// wherever a more specific typed error above does not apply.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Common domain error codes, matching the taxonomy in spec.md §7.
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeCyclicDependency = "CYCLIC_DEPENDENCY"
)

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}
