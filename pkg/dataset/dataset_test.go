package dataset

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestNewTable_InfersTypes(t *testing.T) {
	table, err := NewTable("sales", []string{"Customer", "Amount", "Date", "Paid"}, [][]string{
		{"Acme", "1,200.50", "2024-01-05", "yes"},
		{"Globex", "$300", "2024-02-11", "no"},
		{"Acme", "", "2024-03-01", "yes"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, table.RowCount())
	types := map[string]ColumnType{}
	for _, c := range table.Columns {
		types[c.Name] = c.Type
	}
	assert.Equal(t, TypeString, types["Customer"])
	assert.Equal(t, TypeNumber, types["Amount"])
	assert.Equal(t, TypeDate, types["Date"])
	assert.Equal(t, TypeBool, types["Paid"])

	amount, ok := table.Column("Amount")
	require.True(t, ok)
	v, ok := amount.Number(0)
	assert.True(t, ok)
	assert.Equal(t, 1200.5, v)
	_, ok = amount.Number(2)
	assert.False(t, ok)
}

func TestNewTable_HeaderCleanup(t *testing.T) {
	table, err := NewTable("t", []string{"A", "", "A", " "}, [][]string{{"1", "2", "3", "4", "5"}, {"1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "Column2", "A_2"}, table.ColumnNames())

	col, _ := table.Column("A_2")
	assert.Equal(t, "", col.Cell(1))

	_, err = NewTable("t", []string{"", " "}, nil)
	assert.ErrorIs(t, err, ErrEmptyHeader)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"42", 42, true},
		{" 1,234.5 ", 1234.5, true},
		{"€12", 12, true},
		{"15%", 0.15, true},
		{"-3e2", -300, true},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseNumber(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestBind_Samples(t *testing.T) {
	table, err := NewTable("t", []string{"City"}, [][]string{{"Oslo"}, {"Oslo"}, {"Rome"}, {""}, {"Lima"}})
	require.NoError(t, err)

	b := Bind(table, 2)
	require.Len(t, b.Columns, 1)
	assert.Equal(t, []string{"Oslo", "Rome"}, b.Columns[0].SampleValues)
	assert.Equal(t, 5, b.RowCount)
	assert.Same(t, table, b.Table())
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(5)

	table, err := NewTable("t", []string{"A"}, [][]string{{"1"}})
	require.NoError(t, err)

	b, err := reg.Add(table)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(b.Ref, "ds_"))

	got, err := reg.Lookup(ctx, b.Ref)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = reg.Lookup(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = reg.Add(table)
	assert.Error(t, err, "duplicate refs are rejected")

	assert.Len(t, reg.List(), 1)
	assert.True(t, reg.Remove(b.Ref))
	assert.False(t, reg.Remove(b.Ref))
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	first, second := NewRegistry(5), NewRegistry(5)
	table, _ := NewTable("t", []string{"A"}, [][]string{{"1"}})
	table.Ref = "ds_second"
	_, err := second.Add(table)
	require.NoError(t, err)

	b, err := Chain{first, second}.Lookup(ctx, "ds_second")
	require.NoError(t, err)
	assert.Equal(t, "ds_second", b.Ref)

	_, err = Chain{first, second}.Lookup(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCSV(t *testing.T) {
	data := "\ufeffCustomer,Amount,Date\nAcme,100,2024-01-01\nGlobex,200.5,2024-01-02\n"
	table, err := Load("sales.csv", strings.NewReader(data), LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Customer", "Amount", "Date"}, table.ColumnNames())
	assert.Equal(t, 2, table.RowCount())
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	_, err := Load("notes.pdf", strings.NewReader(""), LoadOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadWorkbook_DetectsHeader(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Quarterly report"},
		{},
		{"Region", "Revenue", "Units"},
		{"North", 1200, 10},
		{"South", 800, 7},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	table, err := Load("report.xlsx", bytes.NewReader(buf.Bytes()), LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Region", "Revenue", "Units"}, table.ColumnNames())
	assert.Equal(t, 2, table.RowCount())

	names, err := SheetNames(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []string{sheet}, names)
}

func TestDetectHeaderRow(t *testing.T) {
	assert.Equal(t, 0, DetectHeaderRow([][]string{{"A", "B"}, {"1", "2"}}))
	assert.Equal(t, 1, DetectHeaderRow([][]string{{"1", "2", "3"}, {"x", "y", "z"}}))
	assert.Equal(t, -1, DetectHeaderRow(nil))
}

func TestObjectStoreConfig_Validate(t *testing.T) {
	assert.Error(t, ObjectStoreConfig{Bucket: "b"}.Validate())
	assert.Error(t, ObjectStoreConfig{Endpoint: "localhost:9000"}.Validate())
	assert.NoError(t, ObjectStoreConfig{Endpoint: "localhost:9000", Bucket: "b"}.Validate())

	_, err := NewObjectStore(ObjectStoreConfig{}, NewRegistry(5))
	assert.Error(t, err)
}
