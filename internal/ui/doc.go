// Package ui renders the terminal output of the fspbuild and fsppatch
// commands.
//
// Components are rendered once with Lipgloss and printed; nothing here waits
// for input except Confirm. A command prints a Header, then reports each
// pipeline stage as a Progress step, then a Result box. In verbose mode the
// captured output of the external build tools follows in a ToolOutput box.
//
// Runner ties these together:
//
//	r := ui.NewRunner(ui.RunnerConfig{
//	    Title:     "FSP Build",
//	    Command:   "fspbuild build",
//	    Params:    map[string]string{"Target": "DEBUG", "Arch": "x64"},
//	    StepNames: []string{"Preparing build environment", "Building firmware volumes"},
//	})
//
//	_, err := r.Run(ctx, func(ctx context.Context, onStep ui.StepCallback) (map[string]string, error) {
//	    onStep(1, "", ui.StepRunning, "")
//	    // ... work ...
//	    onStep(1, "", ui.StepComplete, "GCC5")
//	    return map[string]string{"Output": "BuildFsp"}, nil
//	})
//
// Logging is controlled separately through FSPBUILD_LOG_LEVEL; when it is
// unset zap is silent and only this package's output reaches the terminal.
package ui
