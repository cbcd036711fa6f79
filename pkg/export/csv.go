// Package export writes session transcripts in formats spreadsheet users can
// open directly, plus a manifest that fingerprints the exchange.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/CDdanieldeng/excel-accelerator/pkg/session"
)

// CSVDialect specifies the CSV format variant.
type CSVDialect string

const (
	// DialectStandard uses RFC 4180 compliant CSV (comma-separated, quoted strings).
	DialectStandard CSVDialect = "standard"

	// DialectExcel prefixes a UTF-8 byte order mark so Excel detects the
	// encoding of non-ASCII questions.
	DialectExcel CSVDialect = "excel"

	// DialectTSV uses tab-separated values instead of comma.
	DialectTSV CSVDialect = "tsv"
)

const utf8BOM = "\uFEFF"

// CSVConfig specifies options for CSV export.
type CSVConfig struct {
	// Dialect specifies the CSV format variant.
	// Default: DialectExcel
	Dialect CSVDialect

	// IncludeHeader writes column headers as the first row.
	IncludeHeader bool

	// TimestampFormat specifies the format for the asked_at column.
	TimestampFormat string

	// Precision is the number of decimal places for numeric results.
	// Negative means the shortest exact representation.
	Precision int

	// NAString is the representation for missing values.
	NAString string

	// IncludeCode includes the generated_code column.
	IncludeCode bool
}

// DefaultCSVConfig returns the Excel dialect with a header and code column.
func DefaultCSVConfig() *CSVConfig {
	return &CSVConfig{
		Dialect:         DialectExcel,
		IncludeHeader:   true,
		TimestampFormat: time.RFC3339,
		Precision:       -1,
		NAString:        "",
		IncludeCode:     true,
	}
}

// TranscriptRow is one turn flattened for tabular output.
type TranscriptRow struct {
	Turn      int
	AskedAt   time.Time
	SessionID string
	Question  string
	Intent    string
	Operation string
	Columns   []string
	Outcome   string
	Result    *float64
	ValueType string
	Answer    string
	Code      string
}

// RowsFromSession flattens the turns of s in order.
func RowsFromSession(s *session.Session) []*TranscriptRow {
	rows := make([]*TranscriptRow, len(s.Turns))
	for i, t := range s.Turns {
		row := &TranscriptRow{
			Turn:      i + 1,
			AskedAt:   t.At,
			SessionID: s.ID,
			Question:  t.Utterance,
			Intent:    t.Intent,
			Outcome:   t.Terminal,
			Answer:    t.Answer,
			Code:      t.Code,
		}
		if t.Plan != nil {
			row.Operation = string(t.Plan.Plan.Operation)
			row.Columns = t.Plan.ResolvedColumns()
		}
		if t.Result != nil {
			row.Result = t.Result.Scalar
			row.ValueType = t.Result.ValueType
		}
		rows[i] = row
	}
	return rows
}

// CSVWriter writes transcript rows to CSV format.
type CSVWriter struct {
	config      *CSVConfig
	out         io.Writer
	writer      *csv.Writer
	headerDone  bool
	bomDone     bool
	rowsWritten int
}

// NewCSVWriter creates a new CSVWriter that writes to the given io.Writer.
// If config is nil, DefaultCSVConfig() is used.
func NewCSVWriter(w io.Writer, config *CSVConfig) *CSVWriter {
	if config == nil {
		config = DefaultCSVConfig()
	}

	csvWriter := csv.NewWriter(w)
	if config.Dialect == DialectTSV {
		csvWriter.Comma = '\t'
	}
	// Excel on Windows expects CRLF.
	csvWriter.UseCRLF = config.Dialect == DialectExcel

	return &CSVWriter{
		config: config,
		out:    w,
		writer: csvWriter,
	}
}

func (cw *CSVWriter) writeBOM() error {
	if cw.bomDone || cw.config.Dialect != DialectExcel {
		return nil
	}
	cw.bomDone = true
	if _, err := io.WriteString(cw.out, utf8BOM); err != nil {
		return fmt.Errorf("failed to write byte order mark: %w", err)
	}
	return nil
}

// WriteHeader writes the CSV header row.
// This is called automatically on first Write if IncludeHeader is true.
func (cw *CSVWriter) WriteHeader() error {
	if cw.headerDone {
		return nil
	}
	if err := cw.writeBOM(); err != nil {
		return err
	}
	if err := cw.writer.Write(cw.buildHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	cw.headerDone = true
	return nil
}

// Write writes a single transcript row.
func (cw *CSVWriter) Write(r *TranscriptRow) error {
	if cw.config.IncludeHeader && !cw.headerDone {
		if err := cw.WriteHeader(); err != nil {
			return err
		}
	}
	if err := cw.writeBOM(); err != nil {
		return err
	}

	if err := cw.writer.Write(cw.formatRow(r)); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}
	cw.rowsWritten++
	return nil
}

// WriteAll writes multiple rows.
func (cw *CSVWriter) WriteAll(rows []*TranscriptRow) error {
	for _, r := range rows {
		if err := cw.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes any buffered data to the underlying writer.
func (cw *CSVWriter) Flush() error {
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return nil
}

// RowsWritten returns the number of data rows written (excluding header).
func (cw *CSVWriter) RowsWritten() int {
	return cw.rowsWritten
}

func (cw *CSVWriter) buildHeaders() []string {
	headers := []string{
		"turn",
		"asked_at",
		"session_id",
		"question",
		"intent",
		"operation",
		"columns",
		"outcome",
		"result",
		"value_type",
		"answer",
	}
	if cw.config.IncludeCode {
		headers = append(headers, "generated_code")
	}
	return headers
}

func (cw *CSVWriter) formatRow(r *TranscriptRow) []string {
	na := cw.config.NAString
	if r == nil {
		row := make([]string, len(cw.buildHeaders()))
		for i := range row {
			row[i] = na
		}
		return row
	}

	askedAt := na
	if !r.AskedAt.IsZero() {
		askedAt = r.AskedAt.UTC().Format(cw.config.TimestampFormat)
	}
	result := na
	if r.Result != nil {
		result = strconv.FormatFloat(*r.Result, 'f', cw.config.Precision, 64)
	}

	row := []string{
		strconv.Itoa(r.Turn),
		askedAt,
		orNA(r.SessionID, na),
		orNA(r.Question, na),
		orNA(r.Intent, na),
		orNA(r.Operation, na),
		orNA(strings.Join(r.Columns, "; "), na),
		orNA(r.Outcome, na),
		result,
		orNA(r.ValueType, na),
		orNA(r.Answer, na),
	}
	if cw.config.IncludeCode {
		row = append(row, orNA(r.Code, na))
	}
	return row
}

func orNA(s, na string) string {
	if s == "" {
		return na
	}
	return s
}

// WriteTranscript writes every turn of s to w and flushes.
// If config is nil, DefaultCSVConfig() is used.
func WriteTranscript(w io.Writer, s *session.Session, config *CSVConfig) error {
	writer := NewCSVWriter(w, config)
	if err := writer.WriteAll(RowsFromSession(s)); err != nil {
		return err
	}
	// A session with no turns still gets its header.
	if writer.config.IncludeHeader {
		if err := writer.WriteHeader(); err != nil {
			return err
		}
	}
	return writer.Flush()
}
