package help

import (
	"fmt"
	"strings"
)

const (
	// commandColumnWidth fits the longest usage, "/load <file> [sheet]".
	commandColumnWidth = 24

	indentCategory = "  "
	indentCommand  = "    "
	indentExample  = "      "

	bannerWidth = 56
)

// RenderFull renders the banner and every category.
func (r *Renderer) RenderFull() {
	box := NewBox(bannerWidth)
	r.writeln("")
	r.writeln(indentCategory + Dim(box.Top()))
	r.writeln(indentCategory + box.RowCenter(Header("Ask a question about your table")))
	r.writeln(indentCategory + Dim(box.Bottom()))
	r.writeln("")

	for _, cat := range CategoryOrder {
		r.renderCategory(cat)
	}
	r.RenderShortcuts()
}

// RenderCommand renders detailed help for one command. It reports whether
// the command exists.
func (r *Renderer) RenderCommand(name string) bool {
	cmd, found := GetCommand(name)
	if !found {
		r.writeln(fmt.Sprintf(indentCategory+"Command '%s' not found. Use /help to see all commands.", name))
		return false
	}

	r.writeln("")
	r.writeln(indentCategory + CommandWithShortcut(cmd.Name, cmd.Shortcut))
	r.writeln(indentCategory + Dim(cmd.Description))
	r.writeln("")
	r.writeln(indentCategory + Bold("Usage:") + " " + StyleExample(cmd.Usage))
	r.writeln("")

	if len(cmd.Examples) > 0 {
		r.writeln(indentCategory + Bold("Examples:"))
		for _, ex := range cmd.Examples {
			r.writeln(indentCommand + ExampleLine(ex.Command, ex.Description))
		}
		r.writeln("")
	}
	return true
}

// RenderShortcuts renders the aliases and tips section.
func (r *Renderer) RenderShortcuts() {
	r.writeln(indentCategory + StyleCategory("💡 Tips"))
	r.writeln(indentCategory + Dim(BoxTeeLeft+strings.Repeat(BoxHorizontal, commandColumnWidth+20)))

	r.writeln(indentCommand + Dim(BoxVertical+" ") + Dim("Ask:     ") +
		StyleExample("What is the total of Amount by Region?"))
	r.writeln(indentCommand + Dim(BoxVertical+" ") + Dim("Aliases: ") +
		Shortcut("/h") + Dim("→help  ") +
		Shortcut("/q") + Dim("→quit  ") +
		Shortcut("/exit") + Dim("→quit"))
	r.writeln(indentCommand + Dim(BoxVertical+" ") + Dim("Keys:    ") +
		Shortcut("Tab") + Dim(" commands and column names  ") +
		Shortcut("Ctrl+D") + Dim(" exit  ") +
		Shortcut("↑↓") + Dim(" history"))
	r.writeln("")
}

func (r *Renderer) renderCategory(cat Category) {
	commands := GetCommandsByCategory(cat)
	if len(commands) == 0 {
		return
	}

	r.writeln(indentCategory + StyleCategory(cat.Icon()+" "+cat.DisplayName()))
	r.writeln(indentCategory + Dim(BoxTeeLeft+strings.Repeat(BoxHorizontal, commandColumnWidth+20)))
	for _, cmd := range commands {
		r.renderCommandLine(cmd)
	}
	r.writeln("")
}

// renderCommandLine writes "│ usage   description" plus one inline example.
func (r *Renderer) renderCommandLine(cmd Command) {
	usage := PadRight(HighlightExampleCommand(cmd.Usage), commandColumnWidth)
	r.writeln(indentCommand + Dim(BoxVertical+" ") + usage + Dim(cmd.Description))

	if len(cmd.Examples) > 1 {
		ex := cmd.Examples[1]
		r.writeln(indentExample + Dim(BoxVertical+"   e.g. ") + HighlightExampleCommand(ex.Command))
	}
}

func (r *Renderer) writeln(s string) {
	fmt.Fprintln(r.w, s)
}
