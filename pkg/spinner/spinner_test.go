package spinner

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for the animation goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func boolPtr(b bool) *bool {
	return &b
}

func TestNew(t *testing.T) {
	s := New("test message")
	if s.Message() != "test message" {
		t.Errorf("expected message 'test message', got %q", s.Message())
	}
	if s.IsActive() {
		t.Error("spinner should not be active before Start()")
	}
}

func TestNewWithConfigDefaults(t *testing.T) {
	s := NewWithConfig(Config{Message: "test"})
	if len(s.config.CharSet) != len(Braille) {
		t.Errorf("expected CharSet to default to Braille, got len %d", len(s.config.CharSet))
	}
	if s.config.RefreshRate != 80*time.Millisecond {
		t.Errorf("expected RefreshRate to default to 80ms, got %v", s.config.RefreshRate)
	}
	if s.config.Writer == nil {
		t.Error("expected Writer to default to os.Stderr, got nil")
	}
}

func TestNonTTYDetection(t *testing.T) {
	var buf bytes.Buffer
	if NewWithConfig(Config{Writer: &buf}).isTTY {
		t.Error("a bytes.Buffer is not a terminal")
	}
	if !NewWithConfig(Config{Writer: &buf, IsTTY: boolPtr(true)}).isTTY {
		t.Error("explicit IsTTY should win over detection")
	}
}

func TestTTYStartStop(t *testing.T) {
	var buf syncBuffer
	s := NewWithConfig(Config{
		CharSet:     Line,
		Message:     "planning",
		RefreshRate: 5 * time.Millisecond,
		Writer:      &buf,
		IsTTY:       boolPtr(true),
	})

	s.Start()
	s.Start() // no-op
	if !s.IsActive() {
		t.Fatal("spinner should be active after Start()")
	}
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop() // no-op

	if s.IsActive() {
		t.Error("spinner should not be active after Stop()")
	}
	out := buf.String()
	if !strings.Contains(out, "planning") {
		t.Errorf("expected rendered message, got %q", out)
	}
	if !strings.Contains(out, hideCursor) || !strings.Contains(out, showCursor) {
		t.Error("expected cursor to be hidden and restored")
	}
}

func TestStopBeforeStart(t *testing.T) {
	var buf bytes.Buffer
	s := NewWithConfig(Config{Writer: &buf})
	s.Stop()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestUpdateNonTTYPrintsEachStage(t *testing.T) {
	var buf bytes.Buffer
	s := NewWithConfig(Config{Message: "Classifying", Writer: &buf})

	s.Start()
	s.Update("Planning")
	s.Update("Planning")
	s.Update("Running")
	s.Success("Answered")

	want := "Classifying...\nPlanning...\nRunning...\n"
	if !strings.HasPrefix(buf.String(), want) {
		t.Errorf("expected stage lines %q, got %q", want, buf.String())
	}
	if !strings.Contains(buf.String(), symbolSuccess+" Answered (") {
		t.Errorf("expected success line with elapsed time, got %q", buf.String())
	}
}

func TestCompletionSymbols(t *testing.T) {
	tests := []struct {
		name   string
		finish func(*Spinner)
		want   string
	}{
		{"success", func(s *Spinner) { s.Success("done") }, symbolSuccess + " done"},
		{"notice", func(s *Spinner) { s.Notice("") }, symbolNotice + " working"},
		{"fail", func(s *Spinner) { s.Fail("broke") }, symbolFailure + " broke"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			s := NewWithConfig(Config{Message: "working", Writer: &buf})
			s.Start()
			tt.finish(s)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("expected %q in %q", tt.want, buf.String())
			}
			if s.IsActive() {
				t.Error("spinner should stop on completion")
			}
		})
	}
}

func TestCompleteWithoutStart(t *testing.T) {
	var buf bytes.Buffer
	s := NewWithConfig(Config{Message: "idle", Writer: &buf, ShowElapsed: true})
	s.Fail("")
	if got := buf.String(); got != symbolFailure+" idle\n" {
		t.Errorf("expected plain failure line without elapsed time, got %q", got)
	}
}

func TestTTYSuccessIsColored(t *testing.T) {
	var buf syncBuffer
	s := NewWithConfig(Config{Message: "x", Writer: &buf, IsTTY: boolPtr(true), RefreshRate: 5 * time.Millisecond})
	s.Start()
	s.Success("ok")
	if !strings.Contains(buf.String(), colorGreen+symbolSuccess+colorReset+" ok") {
		t.Errorf("expected colored success line, got %q", buf.String())
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{1200 * time.Millisecond, "(1.2s)"},
		{90 * time.Second, "(1m 30s)"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestConcurrentUpdate(t *testing.T) {
	var buf syncBuffer
	s := NewWithConfig(Config{Writer: &buf, IsTTY: boolPtr(true), RefreshRate: time.Millisecond})
	s.Start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Update(strings.Repeat("x", i))
		}(i)
	}
	wg.Wait()
	s.Stop()
}
