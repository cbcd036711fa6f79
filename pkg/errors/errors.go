// Package errors provides the structured error taxonomy for the chat engine.
// Errors carry a stable code, a category, context, a cause and suggestions.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Category classifies errors for consistent handling and display.
type Category string

const (
	CategoryDataset       Category = "dataset"       // Dataset lookup/loading errors
	CategorySession       Category = "session"       // Session lookup errors
	CategoryClarification Category = "clarification" // User-facing follow-up questions
	CategoryModel         Category = "model"         // External model call errors
	CategorySandbox       Category = "sandbox"       // Generated code execution outcomes
	CategoryFlow          Category = "flow"          // Orchestration failures
	CategoryValidation    Category = "validation"    // Request validation errors
	CategoryConfig        Category = "config"        // Configuration errors
)

// Error is a structured error with context and suggestions.
type Error struct {
	// Code is a unique identifier for this error type (e.g., "SESSION_NOT_FOUND")
	Code string

	// Category classifies this error for consistent handling
	Category Category

	// Message is the primary, user-presentable description
	Message string

	// Context provides additional key-value details about the error
	Context map[string]string

	// Cause is the underlying error, if any
	Cause error

	// Suggestions are actionable remediation steps for the user
	Suggestions []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether e matches target. Two Errors match if they have the same Code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a new Error with the given code, category, and message.
func New(code string, category Category, message string) *Error {
	return &Error{
		Code:     code,
		Category: category,
		Message:  message,
		Context:  make(map[string]string),
	}
}

// Wrap wraps an existing error.
func Wrap(err error, code string, category Category, message string) *Error {
	return New(code, category, message).WithCause(err)
}

// WithContext adds a context key-value pair and returns the error for chaining.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSuggestion adds a remediation suggestion.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple remediation suggestions.
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// ContextString returns the context entries as sorted key="value" pairs.
func (e *Error) ContextString() string {
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

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode checks if err carries the given code.
func IsCode(err error, code string) bool {
	if e, ok := AsError(err); ok {
		return e.Code == code
	}
	return false
}

// IsCategory checks if err belongs to the given category.
func IsCategory(err error, category Category) bool {
	if e, ok := AsError(err); ok {
		return e.Category == category
	}
	return false
}

// CodeOf returns the code of err, or ErrFlow for unstructured errors.
func CodeOf(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ErrFlow
}
