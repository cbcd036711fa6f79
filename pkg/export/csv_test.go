package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/CDdanieldeng/excel-accelerator/pkg/plan"
	"github.com/CDdanieldeng/excel-accelerator/pkg/sandbox"
	"github.com/CDdanieldeng/excel-accelerator/pkg/session"
)

func testSession() *session.Session {
	s := session.NewWithID("sess-1", "ds_sales", "tester")
	total := 350.5
	s.AppendTurn(session.Turn{
		Utterance: "What is the total of Amount?",
		Intent:    "data_analysis",
		Plan: &plan.BoundPlan{
			Plan:     plan.Plan{Operation: plan.OpAggregate, Columns: []string{"amount"}},
			Bindings: []plan.Binding{{Raw: "amount", Resolved: "Amount"}},
		},
		Code:     `df.Col("Amount").Sum()`,
		Result:   &sandbox.Result{Kind: sandbox.KindSuccess, ValueType: sandbox.TypeNumber, Scalar: &total},
		Answer:   "The total of Amount is 350.5.",
		Terminal: "done",
		At:       time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC),
	}, 0)
	s.AppendTurn(session.Turn{
		Utterance: "hmm, the thing",
		Intent:    "unclear",
		Answer:    "Which column do you mean?",
		Terminal:  "done_clarify",
		At:        time.Date(2024, 6, 15, 10, 31, 0, 0, time.UTC),
	}, 0)
	return s
}

func readCSV(t *testing.T, data string, comma rune) [][]string {
	t.Helper()
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(data, utf8BOM)))
	r.Comma = comma
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v\n%s", err, data)
	}
	return records
}

func TestWriteTranscriptExcel(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTranscript(&buf, testSession(), nil); err != nil {
		t.Fatalf("WriteTranscript: %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, utf8BOM) {
		t.Error("excel dialect should start with a byte order mark")
	}
	if strings.Count(out, utf8BOM) != 1 {
		t.Error("byte order mark should be written once")
	}
	if !strings.Contains(out, "\r\n") {
		t.Error("excel dialect should use CRLF")
	}

	records := readCSV(t, out, ',')
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	header := records[0]
	if header[0] != "turn" || header[len(header)-1] != "generated_code" {
		t.Errorf("unexpected header %v", header)
	}

	first := records[1]
	want := map[int]string{
		0:  "1",
		1:  "2024-06-15T10:30:00Z",
		2:  "sess-1",
		3:  "What is the total of Amount?",
		5:  "aggregate",
		6:  "Amount",
		7:  "done",
		8:  "350.5",
		9:  "number",
		11: `df.Col("Amount").Sum()`,
	}
	for i, v := range want {
		if first[i] != v {
			t.Errorf("column %s = %q, want %q", header[i], first[i], v)
		}
	}

	second := records[2]
	if second[5] != "" || second[8] != "" {
		t.Errorf("missing values should be empty, got operation=%q result=%q", second[5], second[8])
	}
}

func TestWriteTranscriptTSV(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultCSVConfig()
	cfg.Dialect = DialectTSV
	cfg.IncludeCode = false
	cfg.NAString = "NA"
	cfg.Precision = 2

	if err := WriteTranscript(&buf, testSession(), cfg); err != nil {
		t.Fatalf("WriteTranscript: %v", err)
	}
	if strings.HasPrefix(buf.String(), utf8BOM) {
		t.Error("tsv should not carry a byte order mark")
	}

	records := readCSV(t, buf.String(), '\t')
	if len(records[0]) != 11 {
		t.Errorf("expected 11 columns without code, got %d", len(records[0]))
	}
	if records[1][8] != "350.50" {
		t.Errorf("expected fixed precision, got %q", records[1][8])
	}
	if records[2][5] != "NA" {
		t.Errorf("expected NA for missing operation, got %q", records[2][5])
	}
}

func TestWriteTranscriptEmptySession(t *testing.T) {
	var buf bytes.Buffer
	s := session.New("ds_sales", "")
	if err := WriteTranscript(&buf, s, nil); err != nil {
		t.Fatalf("WriteTranscript: %v", err)
	}
	records := readCSV(t, buf.String(), ',')
	if len(records) != 1 {
		t.Errorf("expected only the header, got %d records", len(records))
	}
}

func TestCSVWriterRowsWritten(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultCSVConfig()
	cfg.Dialect = DialectStandard
	cfg.IncludeHeader = false

	w := NewCSVWriter(&buf, cfg)
	if err := w.WriteAll([]*TranscriptRow{{Turn: 1}, nil}); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if w.RowsWritten() != 2 {
		t.Errorf("RowsWritten = %d, want 2", w.RowsWritten())
	}
	if strings.HasPrefix(buf.String(), "turn") {
		t.Error("header should be omitted")
	}
}
