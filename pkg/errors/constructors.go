package errors

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Constructors with Auto-Attached Suggestions
// -----------------------------------------------------------------------------

// DatasetNotFound reports an unknown dataset reference.
func DatasetNotFound(ref string) *Error {
	err := New(ErrDatasetNotFound, CategoryDataset,
		fmt.Sprintf("dataset %q was not found", ref)).
		WithContext("dataset_ref", ref)
	return AttachSuggestions(err)
}

// DatasetLoadFailed wraps a parse failure for an uploaded or stored file.
func DatasetLoadFailed(cause error, name string) *Error {
	err := Wrap(cause, ErrDatasetLoadFailed, CategoryDataset,
		fmt.Sprintf("could not read a table from %q", name)).
		WithContext("file", name)
	return AttachSuggestions(err)
}

// SessionNotFound reports an unknown session.
func SessionNotFound(id string) *Error {
	err := New(ErrSessionNotFound, CategorySession,
		fmt.Sprintf("session %q was not found", id)).
		WithContext("session_id", id)
	return AttachSuggestions(err)
}

// UnclearIntent carries the clarification question for an unclear utterance.
func UnclearIntent(question string) *Error {
	return AttachSuggestions(New(ErrUnclearIntent, CategoryClarification, question))
}

// UnresolvedColumns lists plan column references that match no dataset column.
func UnresolvedColumns(names []string) *Error {
	err := New(ErrUnresolvedColumns, CategoryClarification,
		fmt.Sprintf("could not match %s to a column", quoteList(names))).
		WithContext("unresolved", strings.Join(names, ","))
	return AttachSuggestions(err)
}

// ModelCallFailure wraps the last error of an exhausted model call.
func ModelCallFailure(cause error, stage string) *Error {
	err := Wrap(cause, ErrModelCallFailure, CategoryModel,
		fmt.Sprintf("the language model did not return a usable %s response", stage)).
		WithContext("stage", stage)
	return AttachSuggestions(err)
}

// SandboxTimeout reports generated code that ran past its ceiling.
func SandboxTimeout(limit string) *Error {
	err := New(ErrSandboxTimeout, CategorySandbox,
		"the generated computation took too long and was stopped").
		WithContext("limit", limit)
	return AttachSuggestions(err)
}

// SandboxForbidden reports generated code that used a disallowed capability.
func SandboxForbidden(reason string) *Error {
	err := New(ErrSandboxForbidden, CategorySandbox,
		"the generated computation used an operation that is not allowed").
		WithContext("reason", reason)
	return AttachSuggestions(err)
}

// ExecutionRuntimeFailure reports generated code that failed while running.
func ExecutionRuntimeFailure(message string) *Error {
	err := New(ErrExecutionRuntimeFailure, CategorySandbox,
		"the generated computation failed: "+message)
	return AttachSuggestions(err)
}

// Flow wraps an orchestration failure.
func Flow(cause error, message string) *Error {
	return AttachSuggestions(Wrap(cause, ErrFlow, CategoryFlow, message))
}

// InvalidRequest reports a malformed transport request.
func InvalidRequest(message string) *Error {
	return New(ErrInvalidRequest, CategoryValidation, message)
}

// ConfigWrap wraps a configuration failure.
func ConfigWrap(cause error, code, message string) *Error {
	return AttachSuggestions(Wrap(cause, code, CategoryConfig, message))
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(quoted, ", ")
}
