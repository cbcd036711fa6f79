package errors

import (
	"fmt"
	"strings"
)

// UserMessage renders err for an end user. Clarification-class errors
// render as the bare question; everything else gets a short explanation
// plus the identifiers used for support correlation.
func UserMessage(err error, requestID, sessionID string) string {
	if err == nil {
		return ""
	}

	e, ok := AsError(err)
	if !ok {
		e = New(ErrFlow, CategoryFlow, "something went wrong while answering the question")
	}
	if IsClarification(e.Code) {
		return e.Message
	}

	var b strings.Builder
	b.WriteString(e.Message)
	if !strings.HasSuffix(e.Message, ".") {
		b.WriteString(".")
	}
	if len(e.Suggestions) > 0 {
		b.WriteString(" ")
		b.WriteString(e.Suggestions[0])
		b.WriteString(".")
	}

	var ids []string
	if requestID != "" {
		ids = append(ids, "request "+requestID)
	}
	if sessionID != "" {
		ids = append(ids, "session "+sessionID)
	}
	if len(ids) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ids, ", "))
	}
	return b.String()
}

// Detail renders err with code, context and cause for logs and the REPL.
func Detail(err error) string {
	e, ok := AsError(err)
	if !ok {
		if err == nil {
			return ""
		}
		return err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if ctx := e.ContextString(); ctx != "" {
		fmt.Fprintf(&b, "\n  context: %s", ctx)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, "\n  cause: %v", e.Cause)
	}
	for _, s := range e.Suggestions {
		fmt.Fprintf(&b, "\n  -> %s", s)
	}
	return b.String()
}
