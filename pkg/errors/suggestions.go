package errors

// suggestions maps error codes to default remediation steps.
var suggestions = map[string][]string{
	ErrDatasetNotFound: {
		"Upload the file again to get a new dataset reference",
		"List available datasets with GET /api/datasets",
	},
	ErrDatasetLoadFailed: {
		"Check that the file is a CSV or XLSX workbook with a header row",
		"Pick the sheet and header row explicitly",
	},
	ErrSessionNotFound: {
		"Resend the message with the dataset reference to start a fresh session",
	},
	ErrUnclearIntent: {
		"Name the column and the calculation you want, for example \"total of Amount by Customer\"",
	},
	ErrUnresolvedColumns: {
		"Use one of the column names shown in the table schema",
	},
	ErrModelCallFailure: {
		"Try the question again in a moment",
		"Check the language model endpoint in the llm section of the config",
	},
	ErrSandboxTimeout: {
		"Ask for a narrower result, for example by adding a filter",
	},
	ErrSandboxForbidden: {
		"Rephrase the question as a calculation over the table",
	},
	ErrExecutionRuntimeFailure: {
		"Check that the referenced columns hold the values you expect",
	},
	ErrFlow: {
		"Try the question again; quote the request id when reporting the problem",
	},
	ErrConfigParseFailed: {
		"Check the YAML syntax of the config file",
		"Regenerate a default config with: accelerator init-config",
	},
	ErrConfigInvalid: {
		"Compare the config file against the defaults from: accelerator init-config",
	},
}

// SuggestionsFor returns a copy of the default suggestions for code.
func SuggestionsFor(code string) []string {
	s := suggestions[code]
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// AttachSuggestions appends the default suggestions for err's code.
func AttachSuggestions(err *Error) *Error {
	if err == nil {
		return nil
	}
	return err.WithSuggestions(SuggestionsFor(err.Code)...)
}
