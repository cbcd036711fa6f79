package sandbox

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// denyRule is a source pattern that marks a snippet as forbidden before it is
// parsed. Patterns are matched with string literals blanked out so that data
// values such as "https://..." do not trip them.
type denyRule struct {
	pattern *regexp.Regexp
	reason  string
}

var denyRules = []denyRule{
	{regexp.MustCompile(`(?i)\bimport\b|__import__|\brequire\s*\(`), "module imports are not allowed"},
	{regexp.MustCompile(`(?i)\bopen\s*\(|\bfile\s*\(|read_csv|read_excel|to_csv|to_excel|\bos\s*\.|pathlib|shutil|\bioutil\b`), "filesystem access is not allowed"},
	{regexp.MustCompile(`(?i)subprocess|\bsystem\s*\(|\bexec\b|\bpopen\b|\bspawn\b|\bfork\s*\(|\bkill\s*\(`), "process control is not allowed"},
	{regexp.MustCompile(`(?i)\bsocket\b|\brequests\s*\.|urllib|\bhttps?\b|\bfetch\s*\(|\bdial\s*\(|\bcurl\b|\bwget\b`), "network access is not allowed"},
	{regexp.MustCompile(`(?i)\beval\b|\bcompile\s*\(|\bglobals\b|\blocals\b|__\w+__|\bgetattr\b|\bsetattr\b|\$env`), "dynamic evaluation is not allowed"},
	{regexp.MustCompile(`(?i)\bsys\s*\.|\bruntime\s*\.|\bunsafe\b|\breflect\b`), "interpreter internals are not allowed"},
}

var stringLiteral = regexp.MustCompile("\"(?:[^\"\\\\]|\\\\.)*\"|'(?:[^'\\\\]|\\\\.)*'|`[^`]*`")

// Builtins that generated code may call.
var allowedBuiltins = []string{"len", "abs", "round", "ceil", "floor"}

// Methods of Frame, Series and Groups reachable from generated code.
var allowedMethods = map[string]bool{
	"Col": true, "Columns": true, "Count": true, "Where": true, "Select": true,
	"Head": true, "SortBy": true, "Lookup": true, "Derive": true, "GroupBy": true,
	"Sum": true, "Mean": true, "Min": true, "Max": true, "Unique": true,
	"First": true, "Name": true, "Add": true, "Sub": true, "Mul": true, "Div": true,
}

// Forbidden is returned by Check when a snippet uses a disallowed capability.
type Forbidden struct {
	Reason string
}

func (f *Forbidden) Error() string { return "forbidden: " + f.Reason }

// Check statically validates a snippet. It returns *Forbidden for disallowed
// capabilities and a plain error when the snippet does not parse.
func Check(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("empty snippet")
	}
	scrubbed := stringLiteral.ReplaceAllString(code, `""`)
	for _, rule := range denyRules {
		if rule.pattern.MatchString(scrubbed) {
			return &Forbidden{Reason: rule.reason}
		}
	}

	tree, err := parser.Parse(code)
	if err != nil {
		return fmt.Errorf("parse snippet: %w", err)
	}
	v := &allowVisitor{}
	ast.Walk(&tree.Node, v)
	if v.reason != "" {
		return &Forbidden{Reason: v.reason}
	}
	return nil
}

// AllowedMethods lists the method names generated code may call, sorted.
func AllowedMethods() []string {
	out := make([]string, 0, len(allowedMethods))
	for m := range allowedMethods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

type allowVisitor struct {
	reason string
}

func (v *allowVisitor) Visit(node *ast.Node) {
	if v.reason != "" {
		return
	}
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if n.Value != "df" {
			v.reason = fmt.Sprintf("identifier %q is not available; only df may be referenced", n.Value)
		}
	case *ast.BuiltinNode:
		if !isAllowedBuiltin(n.Name) {
			v.reason = fmt.Sprintf("function %q is not available", n.Name)
		}
	case *ast.MemberNode:
		switch p := n.Property.(type) {
		case *ast.StringNode:
			if !allowedMethods[p.Value] {
				v.reason = fmt.Sprintf("member %q is not available", p.Value)
			}
		case *ast.IntegerNode:
		default:
			v.reason = "dynamic member access is not allowed"
		}
	case *ast.PredicateNode, *ast.PointerNode:
		v.reason = "closures are not allowed"
	case *ast.VariableDeclaratorNode:
		v.reason = "variable declarations are not allowed"
	}
}

func isAllowedBuiltin(name string) bool {
	for _, b := range allowedBuiltins {
		if b == name {
			return true
		}
	}
	return false
}
