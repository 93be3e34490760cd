// Package errors provides structured error types for reflex.
// Errors include a code, a category, context, causes, and actionable suggestions.
package errors

import (
	"fmt"
	"sort"
	"strings"
)

// Category classifies errors for consistent handling and display.
type Category string

const (
	CategoryConfig   Category = "config"   // Configuration loading/validation errors
	CategorySignal   Category = "signal"   // Metric/band anomalies surfaced outside the core
	CategoryEthics   Category = "ethics"   // Terminal ethics-guard violations
	CategoryStats    Category = "stats"    // A/B harness statistical degeneracy
	CategoryStore    Category = "store"    // Persistence errors
	CategoryNetwork  Category = "network"  // Monitor server errors
	CategoryIO       Category = "io"       // File/IO errors
	CategoryCommand  Category = "command"  // CLI and inspect shell errors
	CategoryModel    Category = "model"    // Sequence model collaborator errors
	CategoryInternal Category = "internal" // Unexpected states
)

// ReflexError is a structured error with context and suggestions.
// It implements the error interface and supports error wrapping.
type ReflexError struct {
	// Code is a unique identifier for this error type (e.g., "CONFIG_INVALID")
	Code string

	// Category classifies this error for consistent handling
	Category Category

	// Message is the primary error message describing what went wrong
	Message string

	// Context provides additional key-value details about the error
	Context map[string]string

	// Cause is the underlying error that triggered this error
	Cause error

	// Suggestions are actionable remediation steps for the user
	Suggestions []string
}

// Error implements the error interface.
func (e *ReflexError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *ReflexError) Unwrap() error {
	return e.Cause
}

// Is reports whether e matches target for errors.Is() checks.
// Two ReflexErrors match if they have the same Code.
func (e *ReflexError) Is(target error) bool {
	if t, ok := target.(*ReflexError); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a new ReflexError with the given code, category, and message.
func New(code string, category Category, message string) *ReflexError {
	return &ReflexError{
		Code:     code,
		Category: category,
		Message:  message,
		Context:  make(map[string]string),
	}
}

// Wrap wraps an existing error with a ReflexError.
func Wrap(err error, code string, category Category, message string) *ReflexError {
	return New(code, category, message).WithCause(err)
}

// WithContext adds a context key-value pair and returns the error for chaining.
func (e *ReflexError) WithContext(key, value string) *ReflexError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithCause wraps an underlying error and returns the error for chaining.
func (e *ReflexError) WithCause(cause error) *ReflexError {
	e.Cause = cause
	return e
}

// WithSuggestion adds a remediation suggestion and returns the error for chaining.
func (e *ReflexError) WithSuggestion(suggestion string) *ReflexError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// HasContext returns true if the error has context information.
func (e *ReflexError) HasContext() bool {
	return len(e.Context) > 0
}

// HasSuggestions returns true if the error has suggestions.
func (e *ReflexError) HasSuggestions() bool {
	return len(e.Suggestions) > 0
}

// ContextString returns the context entries as sorted key="value" pairs.
func (e *ReflexError) ContextString() string {
	if len(e.Context) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, e.Context[k]))
	}
	return strings.Join(parts, ", ")
}

// AsReflexError finds the first ReflexError in err's chain.
func AsReflexError(err error) (*ReflexError, bool) {
	for err != nil {
		if re, ok := err.(*ReflexError); ok {
			return re, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// IsCategory checks if an error is a ReflexError with the given category.
func IsCategory(err error, category Category) bool {
	if re, ok := AsReflexError(err); ok {
		return re.Category == category
	}
	return false
}

// IsCode checks if an error is a ReflexError with the given code.
func IsCode(err error, code string) bool {
	if re, ok := AsReflexError(err); ok {
		return re.Code == code
	}
	return false
}
