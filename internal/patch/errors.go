package patch

import (
	"errors"
	"fmt"
	"strings"
)

// UnresolvedSymbolError is returned when an expression references a
// module:symbol, GUID:offset or base marker that the tables do not define.
type UnresolvedSymbolError struct {
	// Ref is the reference as written, e.g. "FspSecCoreT:_TempRamInitApi"
	Ref string
	// Kind is "symbol", "section" or "base"
	Kind string
}

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("unresolved %s %q", e.Kind, e.Ref)
}

// OutOfRangeError is returned when a dereference or a write falls outside the
// image buffer.
type OutOfRangeError struct {
	// Access is "read" or "write"
	Access string
	// Offset is the image offset of the access
	Offset uint64
	// Width is the access width in bytes
	Width int
	// Size is the image size in bytes
	Size int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%d-byte %s at offset 0x%X is outside the 0x%X-byte image",
		e.Width, e.Access, e.Offset, e.Size)
}

// MalformedExpressionError is returned when a plan line does not parse.
type MalformedExpressionError struct {
	// Input is the text being parsed
	Input string
	// Pos is the byte position of the problem within Input
	Pos int
	// Reason describes what was expected
	Reason string
}

func (e *MalformedExpressionError) Error() string {
	pos := e.Pos
	if pos > len(e.Input) {
		pos = len(e.Input)
	}
	return fmt.Sprintf("malformed expression: %s at position %d\n  %s\n  %s^",
		e.Reason, e.Pos, e.Input, strings.Repeat(" ", pos))
}

// PatchError wraps the first failure of a plan application with the
// operation that caused it. The image it was applied to has been rolled
// back and must not be saved.
type PatchError struct {
	// Plan is the name of the plan, e.g. "FSP-T"
	Plan string
	// Index is the zero-based index of the failing operation
	Index int
	// Line is the operation's source text
	Line string
	// Comment is the operation's comment
	Comment string
	// Err is the underlying resolution or bounds error
	Err error
}

func (e *PatchError) Error() string {
	what := e.Line
	if what == "" {
		what = e.Comment
	}
	return fmt.Sprintf("plan %s, operation %d (%s): %v", e.Plan, e.Index+1, what, e.Err)
}

func (e *PatchError) Unwrap() error {
	return e.Err
}

// ErrImageAborted is returned by Image.Save when the last plan applied to the
// image failed.
var ErrImageAborted = errors.New("image was left unpublished by a failed patch plan")
