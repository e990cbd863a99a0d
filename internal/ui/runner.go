package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// RunnerConfig describes a command run by a Runner.
type RunnerConfig struct {
	Title     string            // e.g. "FSP Build"
	Command   string            // e.g. "fspbuild build --release"
	Params    map[string]string // shown in the header
	StepNames []string          // one per step; enables the step list
	Verbose   bool              // show captured tool output after the result
	// Troubleshooting tips printed with a failure
	Troubleshooting []string
	Output          io.Writer // default os.Stdout
}

// Operation is the work a Runner wraps. It reports progress through onStep
// and returns details for the success box.
type Operation func(ctx context.Context, onStep StepCallback) (map[string]string, error)

// Runner renders header → steps → result around an operation.
type Runner struct {
	config     RunnerConfig
	header     *Header
	progress   *Progress
	out        io.Writer
	width      int
	toolOutput string
}

// NewRunner creates a runner for a command.
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	width := GetTerminalWidth()

	r := &Runner{
		config: config,
		header: NewHeader(config.Title, config.Command, config.Params).SetWidth(width),
		out:    config.Output,
		width:  width,
	}
	if len(config.StepNames) > 0 {
		r.progress = NewProgress("", len(config.StepNames)).SetWidth(width).SetStepNames(config.StepNames)
	}
	return r
}

// SetToolOutput stores captured tool output for verbose display.
func (r *Runner) SetToolOutput(output string) {
	r.toolOutput = output
}

// SetTroubleshooting replaces the tips printed with a failure. Operations
// call it once they know what failed.
func (r *Runner) SetTroubleshooting(tips []string) {
	r.config.Troubleshooting = tips
}

// Run prints the header, runs op and prints the result box.
func (r *Runner) Run(ctx context.Context, op Operation) (map[string]string, error) {
	start := time.Now()

	fmt.Fprintln(r.out, r.header.Render())
	fmt.Fprintln(r.out)

	details, err := op(ctx, r.onStep)
	duration := time.Since(start).Round(time.Millisecond)

	fmt.Fprintln(r.out)
	var result *Result
	if err != nil {
		result = NewFailureResult(r.config.Title+" failed", err, r.config.Troubleshooting)
	} else {
		if details == nil {
			details = make(map[string]string)
		}
		details["Duration"] = duration.String()
		result = NewSuccessResult(r.config.Title+" complete", details)
	}
	fmt.Fprintln(r.out, result.SetWidth(r.width).Render())

	if r.config.Verbose && r.toolOutput != "" {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, NewToolOutput("Tool Output", r.toolOutput).SetWidth(r.width).SetTail(200).Render())
	}
	return details, err
}

func (r *Runner) onStep(stepNumber int, name string, status StepStatus, message string) {
	if r.progress == nil || stepNumber < 1 || stepNumber > len(r.progress.Steps) {
		return
	}
	if name != "" {
		r.progress.Steps[stepNumber-1].Name = name
	}
	r.progress.UpdateStep(stepNumber, status, message)

	line := r.progress.RenderStep(r.progress.Steps[stepNumber-1])
	switch status {
	case StepRunning:
		// overwritten when the step finishes
		fmt.Fprint(r.out, line+"\r")
	case StepComplete, StepFailed, StepSkipped:
		fmt.Fprintln(r.out, line)
	}
}

// PrintCommandHeader prints a styled command header to stdout.
func PrintCommandHeader(title, command string, params map[string]string) {
	fmt.Println(NewHeader(title, command, params).Render())
	fmt.Println()
}

// PrintSuccess prints a styled success result to stdout.
func PrintSuccess(title string, details map[string]string) {
	fmt.Println()
	fmt.Println(NewSuccessResult(title, details).Render())
}

// PrintFailure prints a styled failure result to stdout.
func PrintFailure(title string, err error, troubleshooting []string) {
	fmt.Println()
	fmt.Println(NewFailureResult(title, err, troubleshooting).Render())
}

// PrintWarning prints a styled warning result to stdout.
func PrintWarning(title string, details map[string]string) {
	fmt.Println()
	fmt.Println(NewWarningResult(title, details).Render())
}
