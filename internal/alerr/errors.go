// Package alerr provides standardized error handling for relmap.
// All errors have stable, machine-readable codes, structured context, and proper wrapping.
package alerr

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code represents a stable, machine-readable error code.
// Format: E{category}{number} where category is 1-9 and number is 001-999.
type Code string

// Error codes organized by category.
const (
	// Declaration errors (E1xxx) - problems with table declarations
	ErrTableInvalid   Code = "E1001" // Table declaration is malformed
	ErrTableNotFound  Code = "E1002" // Referenced table is not declared
	ErrTableDuplicate Code = "E1003" // Table with same name already declared

	// Schema and relation errors (E2xxx) - programmer errors caught at build time
	ErrInvalidIdentifier Code = "E2001" // Name does not match the allowed pattern
	ErrInvalidLink       Code = "E2002" // Link endpoint references a missing field
	ErrUnknownRelation   Code = "E2003" // Relation name is not registered on the table
	ErrUnknownField      Code = "E2004" // Field is not declared in the table schema
	ErrValidation        Code = "E2005" // Data does not satisfy the table schema
	ErrInvalidRelation   Code = "E2006" // Relation declaration is inconsistent
	ErrInvalidInclude    Code = "E2007" // Inclusion spec is malformed

	// Query errors (E3xxx) - raised while evaluating an expression
	ErrUniqueConflict Code = "E3001" // Unique field value already exists
	ErrQuery          Code = "E3002" // Expression cannot be evaluated
	ErrNonExistence   Code = "E3003" // Expression produced no value

	// Engine errors (E4xxx) - problems reported by the physical store
	ErrEngine            Code = "E4001" // Store operation failed
	ErrConnection        Code = "E4002" // Store connection failed
	ErrUnsupportedDriver Code = "E4003" // Database URL has no matching store

	// Configuration errors (E5xxx)
	ErrConfig Code = "E5001" // Configuration or declaration file is invalid

	// Internal errors (E9xxx) - unexpected internal errors
	EInternalError Code = "E9001" // Internal error
)

// Error is the standard error type for relmap.
// It provides structured error information with codes, context, and wrapping support.
type Error struct {
	code    Code           // Machine-readable error code
	message string         // Human-readable error message
	context map[string]any // Structured context data
	cause   error          // Wrapped underlying error
	stack   string         // Stack trace for debugging
}

// Error returns the formatted error string.
// Format:
//
//	[E2003] relation is not registered
//	  relation: folowers
//	  table: user
func (e *Error) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s", e.code, e.message)

	if len(e.context) > 0 {
		keys := make([]string, 0, len(e.context))
		for k := range e.context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			fmt.Fprintf(&b, "\n  %s: %v", k, e.context[k])
		}
	}

	if e.cause != nil {
		fmt.Fprintf(&b, "\n  cause: %v", e.cause)
	}

	return b.String()
}

// Unwrap returns the underlying cause error for errors.Unwrap compatibility.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	var targetErr *Error
	if errors.As(target, &targetErr) {
		return e.code == targetErr.code
	}

	return false
}

// GetCode returns the error code.
func (e *Error) GetCode() Code {
	return e.code
}

// GetMessage returns the error message.
func (e *Error) GetMessage() string {
	return e.message
}

// GetContext returns the error context map.
func (e *Error) GetContext() map[string]any {
	return e.context
}

// GetCause returns the underlying cause error.
func (e *Error) GetCause() error {
	return e.cause
}

// GetStack returns the stack trace.
func (e *Error) GetStack() string {
	return e.stack
}

// Clone returns a copy of e whose context can be extended without affecting e.
func (e *Error) Clone() *Error {
	c := *e
	c.context = make(map[string]any, len(e.context))
	for k, v := range e.context {
		c.context[k] = v
	}
	if helps, ok := e.context["helps"].([]string); ok {
		c.context["helps"] = append([]string(nil), helps...)
	}
	return &c
}

// With adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) With(key string, value any) *Error {
	if e.context == nil {
		e.context = make(map[string]any)
	}
	e.context[key] = value
	return e
}

// WithTable adds table context to the error.
func (e *Error) WithTable(table string) *Error {
	return e.With("table", table)
}

// WithField adds field context to the error.
func (e *Error) WithField(field string) *Error {
	return e.With("field", field)
}

// WithRelation adds relation context to the error.
func (e *Error) WithRelation(name string) *Error {
	return e.With("relation", name)
}

// WithLocation adds a file position, as found in declaration files.
func (e *Error) WithLocation(file string, line, col int) *Error {
	e.With("file", file)
	if line > 0 {
		e.With("line", line)
	}
	if col > 0 {
		e.With("column", col)
	}
	return e
}

// WithSource adds the source line shown under the location.
func (e *Error) WithSource(source string) *Error {
	return e.With("source", source)
}

// WithHelp adds a help suggestion to the error (displayed as "help: ...").
func (e *Error) WithHelp(help string) *Error {
	if help == "" {
		return e
	}
	helps, _ := e.context["helps"].([]string)
	helps = append(helps, help)
	return e.With("helps", helps)
}

// Helps returns all help suggestions attached to this error.
func (e *Error) Helps() []string {
	helps, _ := e.context["helps"].([]string)
	return helps
}

// captureStack captures a stack trace for debugging.
func captureStack(skip int) string {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return ""
	}

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}

// New creates a new Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{
		code:    code,
		message: msg,
		context: make(map[string]any),
		stack:   captureStack(3),
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		code:    code,
		message: fmt.Sprintf(format, args...),
		context: make(map[string]any),
		stack:   captureStack(3),
	}
}

// Wrap creates a new Error that wraps an existing error.
func Wrap(code Code, err error, msg string) *Error {
	if err == nil {
		return New(code, msg)
	}
	return &Error{
		code:    code,
		message: msg,
		context: make(map[string]any),
		cause:   err,
		stack:   captureStack(3),
	}
}

// Wrapf creates a new Error that wraps an existing error with a formatted message.
func Wrapf(code Code, err error, format string, args ...any) *Error {
	return Wrap(code, err, fmt.Sprintf(format, args...))
}

// GetErrorCode extracts the error code from an error chain.
// Returns empty string if no code is found.
func GetErrorCode(err error) Code {
	if err == nil {
		return ""
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae.code
	}

	return ""
}

// Is checks if an error has the specified code.
func Is(err error, code Code) bool {
	return GetErrorCode(err) == code
}

// WrapEngine creates an ErrEngine error with table context.
// The driver error stays reachable through errors.Is and errors.As.
// Example: WrapEngine(err, "create index", "user")
func WrapEngine(err error, op string, table string) *Error {
	e := Wrap(ErrEngine, err, "failed to "+op)
	if table != "" {
		e.WithTable(table)
	}
	return e
}
