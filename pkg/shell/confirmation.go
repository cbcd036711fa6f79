package shell

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// Prompter asks the user to confirm an action that discards state, such as
// leaving a session that has questions in it.
type Prompter interface {
	// Confirm returns true only when the user answers "y" or "yes".
	Confirm(message string) (bool, error)
}

// isYes reports whether an answer confirms; the default is no.
func isYes(answer string) bool {
	a := strings.TrimSpace(strings.ToLower(answer))
	return a == "y" || a == "yes"
}

// ReadlinePrompter confirms through the shell's readline instance, so the
// question shares the terminal state and history of the REPL.
type ReadlinePrompter struct {
	rl *readline.Instance
}

// Confirm implements Prompter.
func (p *ReadlinePrompter) Confirm(message string) (bool, error) {
	prev := p.rl.Config.Prompt
	p.rl.SetPrompt(message + " [y/N]: ")
	defer p.rl.SetPrompt(prev)

	line, err := p.rl.Readline()
	if err == readline.ErrInterrupt || err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return isYes(line), nil
}

// StreamPrompter confirms over plain reader and writer streams.
type StreamPrompter struct {
	reader *bufio.Reader
	writer io.Writer
}

// NewStreamPrompter creates a StreamPrompter.
func NewStreamPrompter(r io.Reader, w io.Writer) *StreamPrompter {
	return &StreamPrompter{reader: bufio.NewReader(r), writer: w}
}

// Confirm implements Prompter. EOF counts as no.
func (p *StreamPrompter) Confirm(message string) (bool, error) {
	fmt.Fprintf(p.writer, "%s [y/N]: ", message)
	line, err := p.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return isYes(line), nil
}

var (
	_ Prompter = (*ReadlinePrompter)(nil)
	_ Prompter = (*StreamPrompter)(nil)
)
