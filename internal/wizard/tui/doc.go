// Package tui implements the interactive configuration wizard behind
// 'fspbuild init --interactive'.
//
// The wizard is a Bubble Tea program following the Model-Update-View
// pattern. It walks through one screen per setting and returns the edited
// build configuration; nothing is written to disk here.
//
// # Screen Flow
//
//	Arch → Target → Plan set → Components → Output directory → Review
//
// Enter moves forward, shift+tab goes back and esc cancels. Choosing a
// different plan set re-lists the components that set patches, all
// enabled.
//
// # Framework Components
//
//   - bubbles/textinput: the output directory field
//   - bubbles/help and bubbles/key: key bindings and the help footer
//   - lipgloss: layout, with the styles of internal/ui
//
// # Usage Example
//
//	cat, _ := plans.Builtin()
//	cfg, err := tui.Run(config.DefaultBuildConfig(), cat, os.Stdin, os.Stdout)
//	if errors.Is(err, tui.ErrCancelled) {
//	    return nil
//	}
package tui
