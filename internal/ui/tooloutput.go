package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ToolOutput is a box holding captured external tool output, shown in
// verbose mode.
type ToolOutput struct {
	Title string
	Lines []string
	Width int
	// Tail keeps only the last Tail lines; 0 keeps everything
	Tail int
}

// NewToolOutput creates an output box for content.
func NewToolOutput(title, content string) *ToolOutput {
	return &ToolOutput{
		Title: title,
		Lines: strings.Split(strings.TrimRight(content, "\n"), "\n"),
		Width: GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (o *ToolOutput) SetWidth(width int) *ToolOutput {
	o.Width = width
	return o
}

// SetTail limits the box to the last n lines.
func (o *ToolOutput) SetTail(n int) *ToolOutput {
	o.Tail = n
	return o
}

// FilterPrefix keeps only lines whose trimmed text starts with one of
// prefixes.
func (o *ToolOutput) FilterPrefix(prefixes ...string) *ToolOutput {
	var kept []string
	for _, line := range o.Lines {
		trimmed := strings.TrimSpace(line)
		for _, p := range prefixes {
			if strings.HasPrefix(trimmed, p) {
				kept = append(kept, line)
				break
			}
		}
	}
	o.Lines = kept
	return o
}

// Render returns the styled box.
func (o *ToolOutput) Render() string {
	width := clampWidth(o.Width)

	lines := o.Lines
	if o.Tail > 0 && len(lines) > o.Tail {
		skipped := len(lines) - o.Tail
		lines = append([]string{fmt.Sprintf("... (%d earlier lines)", skipped)}, lines[skipped:]...)
	}

	inner := lipgloss.JoinVertical(lipgloss.Left,
		ToolOutputTitleStyle.Render(o.Title),
		"",
		ToolOutputContentStyle.Render(strings.Join(lines, "\n")),
	)

	boxWidth := width - 4
	if boxWidth < 40 {
		boxWidth = 40
	}
	return panelStyle(boxWidth).MarginLeft(2).Render(inner)
}

// String implements fmt.Stringer
func (o *ToolOutput) String() string {
	return o.Render()
}
