// Package resolver binds plan column references to dataset columns.
//
// Matching is deterministic: an exact case-insensitive match wins outright;
// otherwise every column is scored and the best one above the threshold is
// taken, with equal scores going to the lexicographically first name.
package resolver

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/CDdanieldeng/excel-accelerator/pkg/plan"
)

// DefaultThreshold is the minimum similarity for a fuzzy match.
const DefaultThreshold = 0.75

// normalizedScore is given to names equal after dropping case, spaces and
// punctuation ("order_date" vs "Order Date").
const normalizedScore = 0.95

// Resolver is a pure function of plan and schema.
type Resolver struct {
	threshold float64
}

// New creates a resolver. A non-positive threshold takes the default.
func New(threshold float64) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Resolver{threshold: threshold}
}

// Threshold returns the similarity threshold in use.
func (r *Resolver) Threshold() float64 { return r.threshold }

// Resolve binds every column the plan references. The returned plan has
// resolved references rewritten to the dataset spelling; unresolved ones
// are left as written and listed in Unresolved.
func (r *Resolver) Resolve(p plan.Plan, columns []string) plan.BoundPlan {
	refs := p.Referenced()
	bindings := make([]plan.Binding, 0, len(refs))
	mapping := make(map[string]string, len(refs))
	var unresolved []string

	for _, raw := range refs {
		b := r.Match(raw, columns)
		bindings = append(bindings, b)
		if b.Method == plan.MatchNone {
			unresolved = append(unresolved, raw)
			continue
		}
		mapping[raw] = b.Resolved
	}

	bound := p.Rename(func(name string) string {
		if resolved, ok := mapping[strings.TrimSpace(name)]; ok {
			return resolved
		}
		return name
	})
	return plan.BoundPlan{Plan: bound, Bindings: bindings, Unresolved: unresolved}
}

// Match finds the best column for one raw reference.
func (r *Resolver) Match(raw string, columns []string) plan.Binding {
	raw = strings.TrimSpace(raw)
	out := plan.Binding{Raw: raw, Method: plan.MatchNone}

	var exact []string
	for _, c := range columns {
		if strings.EqualFold(c, raw) {
			exact = append(exact, c)
		}
	}
	if len(exact) > 0 {
		out.Resolved, out.Score, out.Method = firstName(exact), 1, plan.MatchExact
		return out
	}

	best, bestScore, bestMethod := "", 0.0, plan.MatchNone
	for _, c := range columns {
		score, method := score(raw, c)
		if score > bestScore || (score == bestScore && score > 0 && c < best) {
			best, bestScore, bestMethod = c, score, method
		}
	}
	if bestScore >= r.threshold {
		out.Resolved, out.Score, out.Method = best, bestScore, bestMethod
		return out
	}
	out.Score = bestScore
	return out
}

// Similarity scores two names in [0, 1].
func Similarity(a, b string) float64 {
	if strings.EqualFold(a, b) {
		return 1
	}
	s, _ := score(a, b)
	return s
}

func score(raw, column string) (float64, string) {
	a, b := normalize(raw), normalize(column)
	if a == "" || b == "" {
		return 0, plan.MatchNone
	}
	if a == b {
		return normalizedScore, plan.MatchNormalized
	}

	best := levenshteinRatio(a, b)
	short, long := a, b
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	if utf8.RuneCountInString(short) >= 3 && strings.Contains(long, short) {
		ratio := float64(utf8.RuneCountInString(short)) / float64(utf8.RuneCountInString(long))
		if c := 0.6 + 0.4*ratio; c > best {
			best = c
		}
	}
	return best, plan.MatchSimilar
}

func levenshteinRatio(a, b string) float64 {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	dist := dmp.DiffLevenshtein(diffs)
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(dist)/float64(longest)
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func firstName(names []string) string {
	first := names[0]
	for _, n := range names[1:] {
		if n < first {
			first = n
		}
	}
	return first
}
