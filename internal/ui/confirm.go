package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Confirm shows a warning box listing warnings and asks the user to type
// phrase. It returns true only if the typed line equals phrase, ignoring
// case and surrounding space.
func Confirm(in io.Reader, out io.Writer, title string, warnings []string, phrase string) bool {
	width := GetTerminalWidth()

	lines := []string{"", WarningTitleStyle.Render(fmt.Sprintf("   %s  WARNING  ─  %s", WarningMarker, title)), ""}
	for _, w := range warnings {
		lines = append(lines, lipgloss.NewStyle().Foreground(TextColor).Render("   • "+w))
	}
	lines = append(lines, "")

	fmt.Fprintln(out, boxStyle(WarningColor, width).Render(strings.Join(lines, "\n")))
	fmt.Fprintln(out)
	fmt.Fprint(out, WarningTitleStyle.Render(fmt.Sprintf("To proceed, type %q and press Enter: ", phrase)))

	input, err := bufio.NewReader(in).ReadString('\n')
	fmt.Fprintln(out)
	if err != nil && input == "" {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(input), phrase) {
		return true
	}

	fmt.Fprintln(out, lipgloss.NewStyle().Foreground(MutedColor).Render("  Operation cancelled."))
	fmt.Fprintln(out)
	return false
}

// ConfirmClean asks before removing build outputs from a workspace.
func ConfirmClean(in io.Reader, out io.Writer, workspace string, paths []string) bool {
	warnings := []string{"This removes the build outputs of " + workspace + ":"}
	for _, p := range paths {
		warnings = append(warnings, "  "+p)
	}
	warnings = append(warnings, "The next build starts from scratch, including BaseTools configuration")
	return Confirm(in, out, "CLEAN WORKSPACE", warnings, "yes")
}
