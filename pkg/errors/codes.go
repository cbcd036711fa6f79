package errors

// -----------------------------------------------------------------------------
// Turn Error Codes
// -----------------------------------------------------------------------------
// Every component failure is mapped to exactly one of these at the
// orchestrator boundary.

const (
	// ErrDatasetNotFound indicates the dataset reference is unknown.
	ErrDatasetNotFound = "DATASET_NOT_FOUND"

	// ErrSessionNotFound indicates the session does not exist.
	// Recoverable when the caller supplies a dataset reference.
	ErrSessionNotFound = "SESSION_NOT_FOUND"

	// ErrUnclearIntent indicates the utterance needs a follow-up question.
	ErrUnclearIntent = "UNCLEAR_INTENT"

	// ErrUnresolvedColumns indicates plan columns that match no dataset column.
	ErrUnresolvedColumns = "UNRESOLVED_COLUMNS"

	// ErrModelCallFailure indicates the external model failed after the retry.
	ErrModelCallFailure = "MODEL_CALL_FAILURE"

	// ErrSandboxTimeout indicates generated code exceeded the execution ceiling.
	ErrSandboxTimeout = "SANDBOX_TIMEOUT"

	// ErrSandboxForbidden indicates generated code attempted a disallowed operation.
	ErrSandboxForbidden = "SANDBOX_FORBIDDEN"

	// ErrExecutionRuntimeFailure indicates generated code raised at runtime.
	ErrExecutionRuntimeFailure = "EXECUTION_RUNTIME_FAILURE"

	// ErrFlow is the catch-all for a stage that produced no valid output.
	ErrFlow = "FLOW_ERROR"
)

// -----------------------------------------------------------------------------
// Supporting Codes
// -----------------------------------------------------------------------------

const (
	// ErrInvalidRequest indicates a malformed transport request.
	ErrInvalidRequest = "INVALID_REQUEST"

	// ErrDatasetLoadFailed indicates an uploaded or stored file could not be parsed.
	ErrDatasetLoadFailed = "DATASET_LOAD_FAILED"

	ErrConfigNotFound    = "CONFIG_NOT_FOUND"
	ErrConfigParseFailed = "CONFIG_PARSE_FAILED"
	ErrConfigInvalid     = "CONFIG_INVALID"
	ErrConfigWriteFailed = "CONFIG_WRITE_FAILED"
)

// IsClarification reports whether code describes a follow-up question
// rather than a failure.
func IsClarification(code string) bool {
	return code == ErrUnclearIntent || code == ErrUnresolvedColumns
}

// IsRecoverable reports whether the caller can retry the same request with
// extra input (a dataset reference or a clarification).
func IsRecoverable(code string) bool {
	return code == ErrSessionNotFound || IsClarification(code)
}
