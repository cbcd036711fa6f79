// Package help renders the command reference of the interactive shell.
//
// Commands is the single registry of shell commands: the shell's /help output
// and its tab completion are both generated from it.
//
//	renderer := help.NewRenderer(os.Stdout)
//	renderer.RenderFull()             // every category
//	renderer.RenderCommand("load")    // one command with examples
//
// Output uses ANSI colors and rounded box characters sized for 80-column
// terminals. Without color support the text stays readable.
package help

import "io"

// Box drawing characters.
const (
	BoxTopLeft     = "╭"
	BoxTopRight    = "╮"
	BoxBottomLeft  = "╰"
	BoxBottomRight = "╯"
	BoxHorizontal  = "─"
	BoxVertical    = "│"
	BoxTeeLeft     = "├"
)

// ANSI color codes for styled output.
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorGray   = "\033[90m"
)

// Renderer formats and writes help output.
type Renderer struct {
	w io.Writer
}

// NewRenderer creates a new help renderer that writes to w.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w}
}
