package sandbox

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
)

// Fault is raised (as a panic) by the view surface when generated code asks
// for something impossible. The executor reports it as a runtime failure.
type Fault struct {
	Message string
}

func (f *Fault) Error() string { return f.Message }

func fault(format string, args ...any) {
	panic(&Fault{Message: fmt.Sprintf(format, args...)})
}

// checkEvery bounds how many rows are scanned between cancellation checks.
const checkEvery = 4096

// budget lets long scans notice that the execution deadline passed.
type budget struct {
	ctx context.Context
}

func (b *budget) check(i int) {
	if b == nil || i%checkEvery != 0 {
		return
	}
	if b.ctx.Err() != nil {
		panic(errCancelled)
	}
}

// Frame is a read-only row view over table columns. Every method returns a
// new view; the underlying table is never modified.
type Frame struct {
	cols   []*dataset.Column
	rows   []int
	budget *budget
}

func newFrame(t *dataset.Table, b *budget) Frame {
	rows := make([]int, t.RowCount())
	for i := range rows {
		rows[i] = i
	}
	return Frame{cols: t.Columns, rows: rows, budget: b}
}

func (f Frame) column(name string) *dataset.Column {
	for _, c := range f.cols {
		if c.Name == name {
			return c
		}
	}
	fault("column %q does not exist (available: %s)", name, strings.Join(f.Columns(), ", "))
	return nil
}

// Columns returns the column names of the view.
func (f Frame) Columns() []string {
	out := make([]string, len(f.cols))
	for i, c := range f.cols {
		out[i] = c.Name
	}
	return out
}

// Count returns the number of rows in the view.
func (f Frame) Count() int { return len(f.rows) }

// Col selects one column as a Series.
func (f Frame) Col(name string) Series {
	return Series{col: f.column(name), rows: f.rows, budget: f.budget}
}

// Where keeps the rows whose column compares true against value.
// Operators: == != > >= < <= contains. String comparison ignores case.
func (f Frame) Where(name string, op string, value any) Frame {
	col := f.column(name)
	match := comparator(op, value)
	rows := make([]int, 0, len(f.rows))
	for i, r := range f.rows {
		f.budget.check(i)
		if match(col, r) {
			rows = append(rows, r)
		}
	}
	return Frame{cols: f.cols, rows: rows, budget: f.budget}
}

// Select keeps the named columns in the given order.
func (f Frame) Select(names ...string) Frame {
	if len(names) == 0 {
		fault("Select needs at least one column")
	}
	cols := make([]*dataset.Column, len(names))
	for i, n := range names {
		cols[i] = f.column(n)
	}
	return Frame{cols: cols, rows: f.rows, budget: f.budget}
}

// Head keeps the first n rows.
func (f Frame) Head(n int) Frame {
	if n < 0 {
		fault("Head needs a non-negative row count, got %d", n)
	}
	if n > len(f.rows) {
		n = len(f.rows)
	}
	return Frame{cols: f.cols, rows: f.rows[:n], budget: f.budget}
}

// SortBy orders rows by a column. Numbers sort numerically and sort before
// text; ties keep their original order.
func (f Frame) SortBy(name string, descending bool) Frame {
	col := f.column(name)
	rows := append([]int(nil), f.rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		less := lessCells(col, rows[i], rows[j])
		if descending {
			return lessCells(col, rows[j], rows[i])
		}
		return less
	})
	return Frame{cols: f.cols, rows: rows, budget: f.budget}
}

// Lookup returns valueCol of the first row whose keyCol equals key.
func (f Frame) Lookup(keyCol string, key any, valueCol string) any {
	k := f.column(keyCol)
	v := f.column(valueCol)
	match := comparator("==", key)
	for i, r := range f.rows {
		f.budget.check(i)
		if match(k, r) {
			if n, ok := v.Number(r); ok {
				return n
			}
			return v.Cell(r)
		}
	}
	fault("no row has %s equal to %v", keyCol, key)
	return nil
}

// Derive appends a column computed as column <op> operand.
func (f Frame) Derive(target string, name string, op string, operand any) Frame {
	if target == "" {
		fault("Derive needs a target column name")
	}
	src := f.Col(name)
	derived := src.arith(op, operand)

	values := make([]float64, 0, len(f.rows))
	for i := range f.rows {
		v, _ := derived.col.Number(i)
		values = append(values, v)
	}
	// Rebuild existing columns densely so every column shares row indexes.
	cols := make([]*dataset.Column, 0, len(f.cols)+1)
	for _, c := range f.cols {
		if c.Name == target {
			continue
		}
		cells := make([]string, len(f.rows))
		for i, r := range f.rows {
			cells[i] = c.Cell(r)
		}
		cols = append(cols, dataset.NewColumn(c.Name, cells))
	}
	cols = append(cols, dataset.NewNumberColumn(target, values))
	return Frame{cols: cols, rows: seq(len(f.rows)), budget: f.budget}
}

// GroupBy partitions rows by the text of a column, in first-seen order.
func (f Frame) GroupBy(name string) Groups {
	col := f.column(name)
	g := Groups{key: name, frame: f, members: make(map[string][]int)}
	for i, r := range f.rows {
		f.budget.check(i)
		k := col.Cell(r)
		if _, ok := g.members[k]; !ok {
			g.order = append(g.order, k)
		}
		g.members[k] = append(g.members[k], r)
	}
	return g
}

// Groups is the result of Frame.GroupBy.
type Groups struct {
	key     string
	frame   Frame
	order   []string
	members map[string][]int
}

// Count returns a frame of group keys and row counts.
func (g Groups) Count() Frame {
	keys := make([]string, len(g.order))
	values := make([]float64, len(g.order))
	for i, k := range g.order {
		keys[i] = k
		values[i] = float64(len(g.members[k]))
	}
	return g.frameOf("count", keys, values)
}

// Sum returns a frame of group keys and summed values.
func (g Groups) Sum(name string) Frame { return g.reduce(name, Series.Sum, name) }

// Mean returns a frame of group keys and mean values.
func (g Groups) Mean(name string) Frame { return g.reduce(name, Series.Mean, name) }

// Min returns a frame of group keys and minimum values.
func (g Groups) Min(name string) Frame { return g.reduce(name, Series.Min, name) }

// Max returns a frame of group keys and maximum values.
func (g Groups) Max(name string) Frame { return g.reduce(name, Series.Max, name) }

func (g Groups) reduce(label string, fn func(Series) float64, name string) Frame {
	col := g.frame.column(name)
	keys := make([]string, len(g.order))
	values := make([]float64, len(g.order))
	for i, k := range g.order {
		keys[i] = k
		values[i] = fn(Series{col: col, rows: g.members[k], budget: g.frame.budget})
	}
	return g.frameOf(label, keys, values)
}

func (g Groups) frameOf(label string, keys []string, values []float64) Frame {
	cols := []*dataset.Column{
		dataset.NewColumn(g.key, keys),
		dataset.NewNumberColumn(label, values),
	}
	return Frame{cols: cols, rows: seq(len(keys)), budget: g.frame.budget}
}

// Series is one column of a view.
type Series struct {
	col    *dataset.Column
	rows   []int
	budget *budget
}

// Name returns the column name.
func (s Series) Name() string { return s.col.Name }

// Count returns the number of non-empty cells.
func (s Series) Count() int {
	n := 0
	for _, r := range s.rows {
		if strings.TrimSpace(s.col.Cell(r)) != "" {
			n++
		}
	}
	return n
}

func (s Series) numbers() []float64 {
	out := make([]float64, 0, len(s.rows))
	for i, r := range s.rows {
		s.budget.check(i)
		if v, ok := s.col.Number(r); ok {
			out = append(out, v)
		}
	}
	return out
}

func (s Series) requireNumbers(op string) []float64 {
	nums := s.numbers()
	if len(nums) == 0 {
		fault("%s needs numeric values but column %q has none in the selected rows", op, s.col.Name)
	}
	return nums
}

// Sum adds the numeric cells; an empty selection sums to 0.
func (s Series) Sum() float64 {
	total := 0.0
	for _, v := range s.numbers() {
		total += v
	}
	return total
}

// Mean averages the numeric cells.
func (s Series) Mean() float64 {
	nums := s.requireNumbers("Mean")
	total := 0.0
	for _, v := range nums {
		total += v
	}
	return total / float64(len(nums))
}

// Min returns the smallest numeric cell.
func (s Series) Min() float64 {
	nums := s.requireNumbers("Min")
	m := nums[0]
	for _, v := range nums[1:] {
		m = math.Min(m, v)
	}
	return m
}

// Max returns the largest numeric cell.
func (s Series) Max() float64 {
	nums := s.requireNumbers("Max")
	m := nums[0]
	for _, v := range nums[1:] {
		m = math.Max(m, v)
	}
	return m
}

// Unique returns the distinct non-empty cells in first-seen order.
func (s Series) Unique() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.rows {
		c := s.col.Cell(r)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// First returns the first cell of the selection.
func (s Series) First() string {
	if len(s.rows) == 0 {
		fault("column %q has no rows in the selection", s.col.Name)
	}
	return s.col.Cell(s.rows[0])
}

// Add returns the series plus operand.
func (s Series) Add(operand any) Series { return s.arith("+", operand) }

// Sub returns the series minus operand.
func (s Series) Sub(operand any) Series { return s.arith("-", operand) }

// Mul returns the series times operand.
func (s Series) Mul(operand any) Series { return s.arith("*", operand) }

// Div returns the series divided by operand.
func (s Series) Div(operand any) Series { return s.arith("/", operand) }

func (s Series) arith(op string, operand any) Series {
	x, ok := toFloat(operand)
	if !ok {
		fault("operand %v is not a number", operand)
	}
	if op == "/" && x == 0 {
		fault("division by zero")
	}
	values := make([]float64, len(s.rows))
	for i, r := range s.rows {
		s.budget.check(i)
		v, ok := s.col.Number(r)
		if !ok {
			fault("cell %q in column %q is not a number", s.col.Cell(r), s.col.Name)
		}
		switch op {
		case "+":
			values[i] = v + x
		case "-":
			values[i] = v - x
		case "*":
			values[i] = v * x
		case "/":
			values[i] = v / x
		default:
			fault("unknown arithmetic operator %q", op)
		}
	}
	return Series{col: dataset.NewNumberColumn(s.col.Name, values), rows: seq(len(values)), budget: s.budget}
}

func comparator(op string, value any) func(*dataset.Column, int) bool {
	target := fmt.Sprint(value)
	targetNum, targetIsNum := toFloat(value)
	targetDate, targetIsDate := dataset.ParseDate(target)

	// A numeric or date target orders only cells of the same kind; other
	// cells still take part in == and != by their text.
	typed := targetIsNum || targetIsDate

	cmp := func(c *dataset.Column, r int) (int, bool) {
		if targetIsNum {
			if v, ok := c.Number(r); ok {
				return compareFloat(v, targetNum), true
			}
		}
		if targetIsDate {
			if d, ok := dataset.ParseDate(c.Cell(r)); ok {
				return d.Compare(targetDate), true
			}
		}
		return strings.Compare(strings.ToLower(c.Cell(r)), strings.ToLower(target)), !typed
	}
	ordered := func(test func(int) bool) func(*dataset.Column, int) bool {
		return func(c *dataset.Column, r int) bool {
			n, ok := cmp(c, r)
			return ok && test(n)
		}
	}

	switch op {
	case "==", "=":
		return func(c *dataset.Column, r int) bool { n, _ := cmp(c, r); return n == 0 }
	case "!=":
		return func(c *dataset.Column, r int) bool { n, _ := cmp(c, r); return n != 0 }
	case ">":
		return ordered(func(n int) bool { return n > 0 })
	case ">=":
		return ordered(func(n int) bool { return n >= 0 })
	case "<":
		return ordered(func(n int) bool { return n < 0 })
	case "<=":
		return ordered(func(n int) bool { return n <= 0 })
	case "contains":
		needle := strings.ToLower(target)
		return func(c *dataset.Column, r int) bool {
			return strings.Contains(strings.ToLower(c.Cell(r)), needle)
		}
	default:
		fault("unknown comparison operator %q", op)
		return nil
	}
}

func lessCells(c *dataset.Column, a, b int) bool {
	va, aNum := c.Number(a)
	vb, bNum := c.Number(b)
	switch {
	case aNum && bNum:
		return va < vb
	case aNum != bNum:
		return aNum
	default:
		return strings.ToLower(c.Cell(a)) < strings.ToLower(c.Cell(b))
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		return dataset.ParseNumber(n)
	case bool:
		return 0, false
	default:
		f, err := strconv.ParseFloat(fmt.Sprint(v), 64)
		return f, err == nil
	}
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
