// Package dataset holds materialized tables and the read-only bindings the
// chat engine works against.
package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ColumnType is the inferred type of a column.
type ColumnType string

const (
	TypeNumber ColumnType = "number"
	TypeString ColumnType = "string"
	TypeDate   ColumnType = "date"
	TypeBool   ColumnType = "bool"
)

// ErrEmptyHeader is returned when a table has no usable header cells.
var ErrEmptyHeader = errors.New("table has no header columns")

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Column is one immutable column of cells with its parsed numeric view.
type Column struct {
	Name string
	Type ColumnType

	cells []string
	nums  []float64
	isNum []bool
}

// NewColumn builds a column from raw cells and infers its type.
func NewColumn(name string, cells []string) *Column {
	c := &Column{
		Name:  name,
		cells: cells,
		nums:  make([]float64, len(cells)),
		isNum: make([]bool, len(cells)),
	}
	for i, cell := range cells {
		if v, ok := ParseNumber(cell); ok {
			c.nums[i] = v
			c.isNum[i] = true
		}
	}
	c.Type = c.infer()
	return c
}

// NewNumberColumn builds a numeric column from computed values.
func NewNumberColumn(name string, values []float64) *Column {
	c := &Column{
		Name:  name,
		Type:  TypeNumber,
		cells: make([]string, len(values)),
		nums:  values,
		isNum: make([]bool, len(values)),
	}
	for i, v := range values {
		c.cells[i] = FormatNumber(v)
		c.isNum[i] = true
	}
	return c
}

func (c *Column) infer() ColumnType {
	nonEmpty, numeric, dates, bools := 0, 0, 0, 0
	for i, cell := range c.cells {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		nonEmpty++
		if c.isNum[i] {
			numeric++
			continue
		}
		if _, ok := ParseDate(cell); ok {
			dates++
			continue
		}
		switch strings.ToLower(cell) {
		case "true", "false", "yes", "no":
			bools++
		}
	}
	switch {
	case nonEmpty == 0:
		return TypeString
	case numeric == nonEmpty:
		return TypeNumber
	case dates == nonEmpty:
		return TypeDate
	case bools == nonEmpty:
		return TypeBool
	default:
		return TypeString
	}
}

// Len returns the number of cells.
func (c *Column) Len() int { return len(c.cells) }

// Cell returns the raw text of row i.
func (c *Column) Cell(i int) string { return c.cells[i] }

// Number returns the numeric value of row i, if it parsed as a number.
func (c *Column) Number(i int) (float64, bool) { return c.nums[i], c.isNum[i] }

// Samples returns up to n distinct non-empty values in row order.
func (c *Column) Samples(n int) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, n)
	for _, cell := range c.cells {
		if len(out) >= n {
			break
		}
		cell = strings.TrimSpace(cell)
		if cell == "" || seen[cell] {
			continue
		}
		seen[cell] = true
		out = append(out, cell)
	}
	return out
}

// Table is an immutable, column-oriented dataset.
type Table struct {
	Ref      string
	Name     string
	Columns  []*Column
	LoadedAt time.Time

	rows   int
	byName map[string]*Column
}

// NewTable builds a table from a header and rows. Short rows are padded,
// long rows truncated; blank or duplicate header names are made unique.
func NewTable(name string, header []string, rows [][]string) (*Table, error) {
	names := uniqueNames(header)
	if len(names) == 0 {
		return nil, ErrEmptyHeader
	}

	cells := make([][]string, len(names))
	for i := range cells {
		cells[i] = make([]string, len(rows))
	}
	for r, row := range rows {
		for c := range names {
			if c < len(row) {
				cells[c][r] = strings.TrimSpace(row[c])
			}
		}
	}

	t := &Table{
		Name:     name,
		Columns:  make([]*Column, len(names)),
		LoadedAt: time.Now().UTC(),
		rows:     len(rows),
		byName:   make(map[string]*Column, len(names)),
	}
	for i, n := range names {
		col := NewColumn(n, cells[i])
		t.Columns[i] = col
		t.byName[n] = col
	}
	return t, nil
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int { return t.rows }

// Column looks up a column by exact name.
func (t *Table) Column(name string) (*Column, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// ColumnNames returns the column names in table order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

func uniqueNames(header []string) []string {
	// Trailing blank header cells are dropped.
	end := len(header)
	for end > 0 && strings.TrimSpace(header[end-1]) == "" {
		end--
	}
	seen := make(map[string]int)
	out := make([]string, 0, end)
	for i := 0; i < end; i++ {
		n := strings.TrimSpace(header[i])
		if n == "" {
			n = fmt.Sprintf("Column%d", i+1)
		}
		seen[n]++
		if seen[n] > 1 {
			n = fmt.Sprintf("%s_%d", n, seen[n])
		}
		out = append(out, n)
	}
	return out
}

// ParseNumber parses a spreadsheet-style number: thousands separators,
// a leading currency symbol and a trailing percent sign are accepted.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimLeft(s, "$€£¥")
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if percent {
		v /= 100
	}
	return v, true
}

// ParseDate parses the date layouts commonly exported by spreadsheets.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatNumber renders v without trailing zeros.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
