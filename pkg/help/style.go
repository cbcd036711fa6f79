package help

import "strings"

// Header styles a section title (bold cyan).
func Header(text string) string {
	return ColorBold + ColorCyan + text + ColorReset
}

// StyleCategory styles a category label (bold green).
func StyleCategory(text string) string {
	return ColorBold + ColorGreen + text + ColorReset
}

// StyleCommand styles a command name (cyan).
func StyleCommand(text string) string {
	return ColorCyan + text + ColorReset
}

// StyleExample styles example syntax (yellow).
func StyleExample(text string) string {
	return ColorYellow + text + ColorReset
}

// Shortcut styles a key or alias (bold yellow).
func Shortcut(text string) string {
	return ColorBold + ColorYellow + text + ColorReset
}

// Dim styles secondary text (gray).
func Dim(text string) string {
	return ColorGray + text + ColorReset
}

// Bold styles emphasized text.
func Bold(text string) string {
	return ColorBold + text + ColorReset
}

// Argument styles a command argument (yellow).
func Argument(text string) string {
	return ColorYellow + text + ColorReset
}

// Arrow returns a dim " -> " separator.
func Arrow() string {
	return Dim(" -> ")
}

// CommandWithShortcut formats "/help (or /h)".
func CommandWithShortcut(cmd, shortcut string) string {
	if shortcut == "" {
		return StyleCommand(cmd)
	}
	return StyleCommand(cmd) + Dim(" (or ") + Shortcut(shortcut) + Dim(")")
}

// HighlightExampleCommand shows the command word in cyan and its arguments
// in yellow.
func HighlightExampleCommand(cmd string) string {
	if cmd == "" {
		return ""
	}
	name, args, _ := strings.Cut(cmd, " ")
	result := StyleCommand(name)
	if args = strings.TrimLeft(args, " "); args != "" {
		result += Argument(" " + args)
	}
	return result
}

// ExampleLine formats an example with its description.
func ExampleLine(cmd, desc string) string {
	return "  " + HighlightExampleCommand(cmd) + Arrow() + Dim(desc)
}
