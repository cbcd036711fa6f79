// Package spinner shows a one-line activity indicator while a turn runs.
// On a non-terminal writer it prints plain status lines instead.
package spinner

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	hideCursor     = "\033[?25l"
	showCursor     = "\033[?25h"
	carriageReturn = "\r"

	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorReset  = "\033[0m"

	symbolSuccess = "✓"
	symbolNotice  = "?"
	symbolFailure = "✗"
)

// CharSet defines a set of characters for spinner animation.
type CharSet []string

var (
	// Braille provides smooth animation for Unicode terminals.
	Braille = CharSet{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

	// Line works in most terminals.
	Line = CharSet{"|", "/", "-", "\\"}
)

// Config holds configuration options for a spinner.
type Config struct {
	CharSet     CharSet
	Message     string
	RefreshRate time.Duration
	ShowElapsed bool
	Writer      io.Writer
	// IsTTY overrides terminal detection on Writer.
	IsTTY *bool
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CharSet:     Braille,
		Message:     "Thinking",
		RefreshRate: 80 * time.Millisecond,
		ShowElapsed: true,
		Writer:      os.Stderr,
	}
}

// Spinner displays an animated spinner in the terminal.
type Spinner struct {
	mu sync.Mutex

	config    Config
	isTTY     bool
	active    bool
	startTime time.Time
	frame     int
	stopCh    chan struct{}
	doneCh    chan struct{}

	// lastOutput is the width of the last printed line, for clearing.
	lastOutput int
}

// New creates a spinner with message and the default configuration.
func New(message string) *Spinner {
	cfg := DefaultConfig()
	cfg.Message = message
	return NewWithConfig(cfg)
}

// NewWithConfig creates a new spinner with custom configuration.
func NewWithConfig(config Config) *Spinner {
	if len(config.CharSet) == 0 {
		config.CharSet = Braille
	}
	if config.RefreshRate == 0 {
		config.RefreshRate = 80 * time.Millisecond
	}
	if config.Writer == nil {
		config.Writer = os.Stderr
	}
	isTTY := isTerminalWriter(config.Writer)
	if config.IsTTY != nil {
		isTTY = *config.IsTTY
	}
	return &Spinner{config: config, isTTY: isTTY}
}

func isTerminalWriter(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Message returns the current spinner message.
func (s *Spinner) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Message
}

// IsActive returns true if the spinner is currently running.
func (s *Spinner) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start begins the animation. Starting a running spinner is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.startTime = time.Now()
	s.frame = 0

	if !s.isTTY {
		fmt.Fprintf(s.config.Writer, "%s...\n", s.config.Message)
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	fmt.Fprint(s.config.Writer, hideCursor)
	go s.spin(s.stopCh, s.doneCh)
}

func (s *Spinner) spin(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.config.RefreshRate)
	defer ticker.Stop()

	s.render()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.render()
		}
	}
}

func (s *Spinner) render() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	char := s.config.CharSet[s.frame%len(s.config.CharSet)]
	s.frame++

	output := char + " " + s.config.Message
	if s.config.ShowElapsed {
		output += " " + formatElapsed(time.Since(s.startTime))
	}
	s.clearLine()
	fmt.Fprint(s.config.Writer, output)
	s.lastOutput = len(output)
}

// clearLine overwrites the last line. Caller must hold the mutex.
func (s *Spinner) clearLine() {
	if s.lastOutput > 0 {
		fmt.Fprint(s.config.Writer, carriageReturn+strings.Repeat(" ", s.lastOutput)+carriageReturn)
		s.lastOutput = 0
	}
}

// formatElapsed renders "(1.2s)" or "(1m 30s)".
func formatElapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("(%.1fs)", d.Seconds())
	}
	return fmt.Sprintf("(%dm %ds)", int(d.Minutes()), int(d.Seconds())%60)
}

// Update changes the message. In non-TTY mode each distinct message is
// printed on its own line so piped output still shows progress.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.Message == message {
		return
	}
	s.config.Message = message
	if s.active && !s.isTTY {
		fmt.Fprintf(s.config.Writer, "%s...\n", message)
	}
}

// Stop halts the animation and clears the line. It blocks until the
// animation goroutine has exited and is safe to call more than once.
func (s *Spinner) Stop() {
	s.halt()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isTTY {
		s.clearLine()
	}
}

// halt stops the animation goroutine and reports the elapsed time.
func (s *Spinner) halt() (elapsed time.Duration, wasActive bool) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return 0, false
	}
	s.active = false
	elapsed = time.Since(s.startTime)
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	if s.isTTY {
		close(stopCh)
		<-doneCh
		s.mu.Lock()
		fmt.Fprint(s.config.Writer, showCursor)
		s.mu.Unlock()
	}
	return elapsed, true
}

// Success stops the spinner and prints a green check.
func (s *Spinner) Success(message string) { s.complete(message, symbolSuccess, colorGreen) }

// Notice stops the spinner and prints a yellow question mark, for turns
// that end with a question to the user.
func (s *Spinner) Notice(message string) { s.complete(message, symbolNotice, colorYellow) }

// Fail stops the spinner and prints a red cross.
func (s *Spinner) Fail(message string) { s.complete(message, symbolFailure, colorRed) }

func (s *Spinner) complete(message, symbol, color string) {
	elapsed, wasActive := s.halt()

	s.mu.Lock()
	defer s.mu.Unlock()
	if message == "" {
		message = s.config.Message
	}
	suffix := ""
	if s.config.ShowElapsed && wasActive {
		suffix = " " + formatElapsed(elapsed)
	}
	if s.isTTY {
		s.clearLine()
		fmt.Fprintf(s.config.Writer, "%s%s%s %s%s\n", color, symbol, colorReset, message, suffix)
		return
	}
	fmt.Fprintf(s.config.Writer, "%s %s%s\n", symbol, message, suffix)
}
