package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for file types other than CSV and XLSX.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// LoadOptions controls sheet and header selection for workbooks.
type LoadOptions struct {
	// Sheet selects a workbook sheet; empty means the first sheet.
	Sheet string
	// HeaderRow is the 1-based header row; 0 detects it.
	HeaderRow int
}

// Load reads a CSV or XLSX table from r, choosing the parser by file extension.
func Load(name string, r io.Reader, opts LoadOptions) (*Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return LoadCSV(name, r)
	case ".xlsx", ".xlsm":
		return LoadWorkbook(name, r, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// LoadFile opens path and loads it with Load.
func LoadFile(path string, opts LoadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(filepath.Base(path), f, opts)
}

// LoadCSV reads a CSV whose first record is the header.
func LoadCSV(name string, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyHeader
	}
	// Strip a UTF-8 BOM left by spreadsheet exports.
	records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	return NewTable(name, records[0], records[1:])
}

// LoadWorkbook reads one sheet of an XLSX workbook.
func LoadWorkbook(name string, r io.Reader, opts LoadOptions) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", name, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", name)
	}
	sheet := opts.Sheet
	if sheet == "" {
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	header := opts.HeaderRow - 1
	if opts.HeaderRow <= 0 {
		header = DetectHeaderRow(rows)
	}
	if header < 0 || header >= len(rows) {
		return nil, ErrEmptyHeader
	}
	return NewTable(name+"#"+sheet, rows[header], rows[header+1:])
}

// SheetNames lists the sheets of an XLSX workbook.
func SheetNames(r io.Reader) ([]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// DetectHeaderRow picks the first of the leading rows that is mostly filled
// with non-numeric text. It returns 0 when nothing scores better.
func DetectHeaderRow(rows [][]string) int {
	const scan = 10
	widest := 0
	for _, row := range rows {
		if len(row) > widest {
			widest = len(row)
		}
	}
	if widest == 0 {
		return -1
	}
	for i := 0; i < len(rows) && i < scan; i++ {
		filled, text := 0, 0
		for _, cell := range rows[i] {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			filled++
			if _, ok := ParseNumber(cell); !ok {
				text++
			}
		}
		if filled*2 >= widest && text*4 >= filled*3 {
			return i
		}
	}
	return 0
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
