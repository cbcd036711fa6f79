package sandbox

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
)

// Kind classifies an execution outcome.
type Kind string

const (
	KindSuccess        Kind = "success"
	KindRuntimeFailure Kind = "runtime_failure"
	KindTimeout        Kind = "timeout"
	KindForbidden      Kind = "forbidden"
)

// Value types of a successful result.
const (
	TypeNumber = "number"
	TypeText   = "text"
	TypeBool   = "bool"
	TypeTable  = "table"
	TypeList   = "list"
)

// Result is the outcome of running one snippet.
type Result struct {
	Kind      Kind          `json:"kind"`
	ValueRepr string        `json:"valueRepr,omitempty"`
	ValueType string        `json:"valueType,omitempty"`
	Scalar    *float64      `json:"scalar,omitempty"`
	Rows      int           `json:"rows,omitempty"`
	Message   string        `json:"message,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// OK reports whether the snippet produced a value.
func (r Result) OK() bool { return r.Kind == KindSuccess }

// IsScalar reports whether the value is a single number.
func (r Result) IsScalar() bool { return r.Kind == KindSuccess && r.Scalar != nil }

// Summary is a one-line description used in logs and prompts.
func (r Result) Summary() string {
	switch r.Kind {
	case KindSuccess:
		return fmt.Sprintf("%s: %s", r.ValueType, firstLine(r.ValueRepr))
	case KindForbidden:
		return "forbidden: " + r.Reason
	case KindTimeout:
		return "timeout: " + r.Message
	default:
		return "runtime failure: " + r.Message
	}
}

// RuntimeFailure builds a failed result.
func RuntimeFailure(message string) Result {
	return Result{Kind: KindRuntimeFailure, Message: message}
}

// Timeout builds a timed-out result.
func Timeout(limit time.Duration) Result {
	return Result{Kind: KindTimeout, Message: fmt.Sprintf("execution exceeded %s", limit)}
}

// ForbiddenResult builds a result for a snippet that was refused.
func ForbiddenResult(reason string) Result {
	return Result{Kind: KindForbidden, Reason: reason}
}

// render converts an evaluated value into a Result.
func render(v any, previewRows int) Result {
	switch val := v.(type) {
	case nil:
		return Result{Kind: KindSuccess, ValueType: TypeText, ValueRepr: "null"}
	case float64:
		return number(val)
	case float32:
		return number(float64(val))
	case int:
		return number(float64(val))
	case int64:
		return number(float64(val))
	case bool:
		return Result{Kind: KindSuccess, ValueType: TypeBool, ValueRepr: fmt.Sprint(val)}
	case string:
		return Result{Kind: KindSuccess, ValueType: TypeText, ValueRepr: val}
	case Frame:
		return Result{Kind: KindSuccess, ValueType: TypeTable, ValueRepr: previewFrame(val, previewRows), Rows: val.Count()}
	case Series:
		f := Frame{cols: []*dataset.Column{val.col}, rows: val.rows}
		return Result{Kind: KindSuccess, ValueType: TypeTable, ValueRepr: previewFrame(f, previewRows), Rows: f.Count()}
	case Groups:
		return RuntimeFailure("grouped rows need an aggregation such as Sum or Count")
	case []string:
		return Result{Kind: KindSuccess, ValueType: TypeList, ValueRepr: strings.Join(val, ", "), Rows: len(val)}
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			parts[i] = fmt.Sprint(p)
		}
		return Result{Kind: KindSuccess, ValueType: TypeList, ValueRepr: strings.Join(parts, ", "), Rows: len(val)}
	default:
		return Result{Kind: KindSuccess, ValueType: TypeText, ValueRepr: fmt.Sprint(val)}
	}
}

func number(v float64) Result {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return RuntimeFailure("result is not a finite number")
	}
	// Trim float noise such as 0.30000000000000004.
	v = math.Round(v*1e9) / 1e9
	return Result{Kind: KindSuccess, ValueType: TypeNumber, ValueRepr: dataset.FormatNumber(v), Scalar: &v}
}

func previewFrame(f Frame, limit int) string {
	var b strings.Builder
	b.WriteString(strings.Join(f.Columns(), " | "))
	shown := f.Count()
	if limit > 0 && shown > limit {
		shown = limit
	}
	for _, r := range f.rows[:shown] {
		b.WriteByte('\n')
		for i, c := range f.cols {
			if i > 0 {
				b.WriteString(" | ")
			}
			if n, ok := c.Number(r); ok {
				b.WriteString(dataset.FormatNumber(math.Round(n*1e9) / 1e9))
			} else {
				b.WriteString(c.Cell(r))
			}
		}
	}
	if shown < f.Count() {
		fmt.Fprintf(&b, "\n... (%d of %d rows shown)", shown, f.Count())
	} else {
		fmt.Fprintf(&b, "\n(%d rows)", f.Count())
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
