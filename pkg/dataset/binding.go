package dataset

import (
	"context"
	"errors"
)

// ErrNotFound is returned by providers for unknown dataset references.
var ErrNotFound = errors.New("dataset not found")

// DefaultSampleValues bounds the sample values carried per column.
const DefaultSampleValues = 5

// ColumnDescriptor describes one column of a bound dataset.
type ColumnDescriptor struct {
	Name         string     `json:"name"`
	Type         ColumnType `json:"type"`
	SampleValues []string   `json:"sampleValues"`
}

// Binding is a read-only handle to a materialized table and its schema.
type Binding struct {
	Ref      string             `json:"datasetRef"`
	Name     string             `json:"name"`
	Columns  []ColumnDescriptor `json:"columns"`
	RowCount int                `json:"rowCount"`

	table *Table
}

// Bind describes t with at most sampleLimit sample values per column.
func Bind(t *Table, sampleLimit int) *Binding {
	if sampleLimit <= 0 {
		sampleLimit = DefaultSampleValues
	}
	cols := make([]ColumnDescriptor, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = ColumnDescriptor{
			Name:         c.Name,
			Type:         c.Type,
			SampleValues: c.Samples(sampleLimit),
		}
	}
	return &Binding{
		Ref:      t.Ref,
		Name:     t.Name,
		Columns:  cols,
		RowCount: t.RowCount(),
		table:    t,
	}
}

// Table returns the underlying table.
func (b *Binding) Table() *Table { return b.table }

// ColumnNames returns the column names in table order.
func (b *Binding) ColumnNames() []string {
	out := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		out[i] = c.Name
	}
	return out
}

// Descriptor looks up a column descriptor by exact name.
func (b *Binding) Descriptor(name string) (ColumnDescriptor, bool) {
	for _, c := range b.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDescriptor{}, false
}

// Provider resolves dataset references to bindings.
type Provider interface {
	Lookup(ctx context.Context, ref string) (*Binding, error)
}
