package vm

import "fmt"

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// Two disjoint families: CompileError is internal to the JIT and always
// recovered by falling back to the interpreter; RuntimeError is a
// language-level failure surfaced to the running program. Both tiers
// raise the same RuntimeError kind for the same program behavior.

// CompileErrorKind classifies a translation failure.
type CompileErrorKind uint8

const (
	ErrUnsupportedOpcode CompileErrorKind = iota
	ErrStackUnderflow
	ErrInternalInvariant
)

func (k CompileErrorKind) String() string {
	switch k {
	case ErrUnsupportedOpcode:
		return "unsupported opcode"
	case ErrStackUnderflow:
		return "stack underflow"
	case ErrInternalInvariant:
		return "internal invariant violation"
	}
	return "unknown"
}

// CompileError reports why translation of a chunk or loop body was
// abandoned, with the bytecode offset of the offending instruction.
type CompileError struct {
	Kind   CompileErrorKind
	Offset int
	Op     Opcode
	Detail string
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("compile: %s at offset %d", e.Kind, e.Offset)
	if e.Op != OpNop {
		msg += " (" + e.Op.Name() + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// RuntimeErrorKind classifies a language-level failure.
type RuntimeErrorKind uint8

const (
	ErrTypeMismatch RuntimeErrorKind = iota
	ErrUndefinedVariable
	ErrDivisionByZero
	ErrIndexOutOfRange
	ErrRecursionLimit
)

func (k RuntimeErrorKind) String() string {
	switch k {
	case ErrTypeMismatch:
		return "type mismatch"
	case ErrUndefinedVariable:
		return "undefined variable"
	case ErrDivisionByZero:
		return "division by zero"
	case ErrIndexOutOfRange:
		return "index out of range"
	case ErrRecursionLimit:
		return "recursion limit exceeded"
	}
	return "unknown"
}

// RuntimeError is the language-level failure type. Op names the failing
// operation; Line/Col are filled from the chunk's source map when the
// error crosses a frame boundary and a location is known.
type RuntimeError struct {
	Kind   RuntimeErrorKind
	Op     string
	Detail string
	Line   int
	Col    int
}

func (e *RuntimeError) Error() string {
	msg := "runtime: " + e.Kind.String()
	if e.Op != "" {
		msg += " in '" + e.Op + "'"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Line > 0 {
		msg += fmt.Sprintf(" at %d:%d", e.Line, e.Col)
	}
	return msg
}

func typeMismatch(op string, a, b Value) *RuntimeError {
	return &RuntimeError{
		Kind:   ErrTypeMismatch,
		Op:     op,
		Detail: fmt.Sprintf("cannot apply to %s and %s", a.Kind(), b.Kind()),
	}
}

func indexOutOfRange(i int64, n int) *RuntimeError {
	return &RuntimeError{
		Kind:   ErrIndexOutOfRange,
		Op:     "index",
		Detail: fmt.Sprintf("index %d out of range for length %d", i, n),
	}
}

func undefinedVariable(name string) *RuntimeError {
	return &RuntimeError{Kind: ErrUndefinedVariable, Op: "load", Detail: name}
}

func undefinedFunction(name string) *RuntimeError {
	return &RuntimeError{Kind: ErrUndefinedVariable, Op: "call", Detail: "no such function: " + name}
}
