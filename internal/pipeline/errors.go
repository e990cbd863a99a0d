package pipeline

import (
	"fmt"
	"strings"
)

// ToolError represents an external build tool that could not be started or
// exited with a non-zero status.
type ToolError struct {
	// Tool is the program that was run
	Tool string
	// Args are the arguments it was run with
	Args []string
	// ExitCode is the process exit code, -1 if it never ran to completion
	ExitCode int
	// Stderr is the captured standard error output
	Stderr string
	// Underlying error if any
	Err error
}

func (e *ToolError) Error() string {
	cmd := strings.TrimSpace(e.Tool + " " + strings.Join(e.Args, " "))
	msg := fmt.Sprintf("%s failed (exit code %d)", cmd, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if stderr := lastLines(e.Stderr, 5); stderr != "" {
		msg += "\nstderr: " + stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// StageError names the pipeline stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// PrerequisiteError represents a required build tool that is missing or too
// old.
type PrerequisiteError struct {
	// Prerequisite is the name of the missing tool
	Prerequisite string
	// Details is a hint on how to install or locate it
	Details string
}

func (e *PrerequisiteError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("missing prerequisite: %s", e.Prerequisite)
	}
	return fmt.Sprintf("missing prerequisite: %s\n%s", e.Prerequisite, e.Details)
}

// lastLines returns at most n trailing non-empty lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
