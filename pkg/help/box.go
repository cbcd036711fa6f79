package help

import "strings"

// Box renders a bordered box with a fixed inner width.
type Box struct {
	Width int
}

// NewBox creates a new Box with the specified inner content width.
func NewBox(width int) *Box {
	return &Box{Width: width}
}

// Top returns the top border: ╭───╮
func (b *Box) Top() string {
	return BoxTopLeft + strings.Repeat(BoxHorizontal, b.Width) + BoxTopRight
}

// Bottom returns the bottom border: ╰───╯
func (b *Box) Bottom() string {
	return BoxBottomLeft + strings.Repeat(BoxHorizontal, b.Width) + BoxBottomRight
}

// Row returns left-aligned content between borders, truncated to fit.
func (b *Box) Row(content string) string {
	n := visibleLength(content)
	if n >= b.Width {
		return BoxVertical + truncateVisible(content, b.Width) + BoxVertical
	}
	return BoxVertical + content + strings.Repeat(" ", b.Width-n) + BoxVertical
}

// RowCenter returns centered content between borders.
func (b *Box) RowCenter(content string) string {
	n := visibleLength(content)
	if n >= b.Width {
		return BoxVertical + truncateVisible(content, b.Width) + BoxVertical
	}
	left := (b.Width - n) / 2
	right := b.Width - n - left
	return BoxVertical + strings.Repeat(" ", left) + content + strings.Repeat(" ", right) + BoxVertical
}

// visibleLength counts runes outside ANSI escape sequences.
func visibleLength(s string) int {
	length := 0
	inEscape := false
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if r == 'm' {
				inEscape = false
			}
			continue
		}
		length++
	}
	return length
}

// truncateVisible cuts s to width visible runes, keeping escape sequences
// and closing any style left open.
func truncateVisible(s string, width int) string {
	var result strings.Builder
	visible := 0
	inEscape := false
	open := false

	for _, r := range s {
		if r == '\033' {
			inEscape = true
			open = true
			result.WriteRune(r)
			continue
		}
		if inEscape {
			result.WriteRune(r)
			if r == 'm' {
				inEscape = false
				if strings.HasSuffix(result.String(), ColorReset) {
					open = false
				}
			}
			continue
		}
		if visible >= width {
			break
		}
		result.WriteRune(r)
		visible++
	}
	if open {
		result.WriteString(ColorReset)
	}
	return result.String()
}

// PadRight pads s with spaces to the given visible width.
func PadRight(s string, width int) string {
	n := visibleLength(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
