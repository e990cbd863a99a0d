package patch

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultWidth is the write width used when a line does not declare one.
// Every FSP header field patched by the stock plans is written as 4 bytes.
const DefaultWidth = 4

// RestoreKeyword in the value position marks a restore operation.
const RestoreKeyword = "RESTORE"

// Operation is one deferred write: an address expression, a value
// expression, and a width.
type Operation struct {
	Address *Expr
	// Value is nil for restore operations that were written with the
	// RESTORE keyword.
	Value *Expr
	// Restore re-writes the bytes that were at Address before this plan
	// first touched them.
	Restore bool
	Width   int
	Comment string
	// Line is the source text the operation was parsed from.
	Line string
}

// String renders the operation in plan-line syntax.
func (op Operation) String() string {
	value := RestoreKeyword
	if !op.Restore && op.Value != nil {
		value = op.Value.String()
	}
	var b strings.Builder
	b.WriteString(op.Address.String())
	b.WriteString(", ")
	b.WriteString(value)
	if op.Width != 0 && op.Width != DefaultWidth {
		fmt.Fprintf(&b, ", %d", op.Width)
	}
	if op.Comment != "" {
		b.WriteString(", @")
		b.WriteString(op.Comment)
	}
	return b.String()
}

// Plan is the ordered list of writes for one firmware component.
type Plan struct {
	// Name identifies the component, e.g. "FSP-T"
	Name       string
	Operations []Operation
}

// Len returns the number of operations.
func (p *Plan) Len() int {
	return len(p.Operations)
}

// ParseLine parses one plan line:
//
//	address-expression, value-expression[, width], @comment
//
// The comment is optional. A value of RESTORE, or a comment starting with
// "Restore", makes the line a restore operation.
func ParseLine(line string) (Operation, error) {
	body, comment, _ := strings.Cut(line, "@")
	comment = strings.TrimSpace(comment)

	fields := strings.Split(body, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	for len(fields) > 0 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	if len(fields) < 2 || len(fields) > 3 {
		return Operation{}, &MalformedExpressionError{
			Input:  line,
			Reason: fmt.Sprintf("expected \"address, value[, width], @comment\", found %d field(s)", len(fields)),
		}
	}

	op := Operation{Width: DefaultWidth, Comment: comment, Line: strings.TrimSpace(line)}

	addr, err := ParseExpr(fields[0])
	if err != nil {
		return Operation{}, err
	}
	op.Address = addr

	if strings.EqualFold(fields[1], RestoreKeyword) {
		op.Restore = true
	} else {
		value, err := ParseExpr(fields[1])
		if err != nil {
			return Operation{}, err
		}
		op.Value = value
		op.Restore = isRestoreComment(comment)
	}

	if len(fields) == 3 {
		w, err := strconv.Atoi(fields[2])
		if err != nil || checkWidth(w) != nil {
			return Operation{}, &MalformedExpressionError{
				Input:  line,
				Pos:    strings.Index(line, fields[2]),
				Reason: fmt.Sprintf("invalid width %q (must be 1, 2 or 4)", fields[2]),
			}
		}
		op.Width = w
	}

	return op, nil
}

func isRestoreComment(comment string) bool {
	return len(comment) >= 7 && strings.EqualFold(comment[:7], "restore")
}

// ParsePlan parses every line of a plan. Blank lines and lines starting with
// '#' are skipped.
func ParsePlan(name string, lines []string) (*Plan, error) {
	plan := &Plan{Name: name}
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		op, err := ParseLine(trimmed)
		if err != nil {
			return nil, fmt.Errorf("plan %s, line %d: %w", name, i+1, err)
		}
		plan.Operations = append(plan.Operations, op)
	}
	return plan, nil
}
