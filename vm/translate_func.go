package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Whole-function translation
// ---------------------------------------------------------------------------

// Function compilation is two-phase: checkCompilable scans every
// instruction and rejects the chunk outright on the first opcode the
// translator cannot lower; translateFunction then runs only if the
// check passed. The split keeps the reject decision cheap and means a
// failed candidate never allocates translation state.

// functionOps is the opcode subset the function translator lowers.
// CallNative is deliberately absent: builtins are host functions the
// translator does not emit call sequences for, so their presence makes
// a function non-compilable. Container opcodes stay interpreted too.
var functionOps = map[Opcode]bool{
	OpNop: true, OpPop: true, OpDup: true,
	OpLoadNone: true, OpLoadTrue: true, OpLoadFalse: true,
	OpLoadSmallInt: true, OpLoadConst: true,
	OpLoadLocal: true, OpStoreLocal: true,
	OpLoadGlobal: true, OpStoreGlobal: true,
	OpAdd: true, OpSub: true, OpMul: true, OpDiv: true, OpMod: true,
	OpNeg: true, OpNot: true,
	OpEq: true, OpNe: true, OpLt: true, OpGt: true, OpLe: true, OpGe: true,
	OpJump: true, OpJumpIfTrue: true, OpJumpIfFalse: true, OpJumpBack: true,
	OpCall: true, OpReturn: true, OpReturnNone: true,
}

// checkCompilable is the compilability scan. It walks the full chunk,
// failing with the offending offset on the first unsupported opcode,
// and requires at least one terminal instruction.
func checkCompilable(c *Chunk) error {
	code := c.Code
	ip := 0
	sawTerminal := false
	for ip < len(code) {
		offset := ip
		op := Opcode(code[ip])
		ip++
		if !functionOps[op] {
			return &CompileError{Kind: ErrUnsupportedOpcode, Offset: offset, Op: op}
		}
		n := op.OperandBytes()
		if ip+n > len(code) {
			return &CompileError{Kind: ErrInternalInvariant, Offset: offset, Op: op,
				Detail: "truncated operand"}
		}
		switch op {
		case OpLoadConst:
			idx := binary.LittleEndian.Uint16(code[ip:])
			if int(idx) >= len(c.Consts) {
				return &CompileError{Kind: ErrInternalInvariant, Offset: offset, Op: op,
					Detail: fmt.Sprintf("constant %d out of range", idx)}
			}
		case OpLoadGlobal, OpStoreGlobal, OpCall:
			// These resolve their operand to a name during translation, so
			// the constant must exist and must be a string.
			idx := binary.LittleEndian.Uint16(code[ip:])
			if int(idx) >= len(c.Consts) {
				return &CompileError{Kind: ErrInternalInvariant, Offset: offset, Op: op,
					Detail: fmt.Sprintf("name constant %d out of range", idx)}
			}
			if !c.Consts[idx].IsString() {
				return &CompileError{Kind: ErrInternalInvariant, Offset: offset, Op: op,
					Detail: fmt.Sprintf("name constant %d is %s, not a string",
						idx, c.Consts[idx].Kind())}
			}
		}
		ip += n
		if op == OpReturn || op == OpReturnNone {
			sawTerminal = true
		}
	}
	if !sawTerminal {
		return &CompileError{Kind: ErrUnsupportedOpcode, Offset: len(code),
			Detail: "no terminal instruction"}
	}
	return nil
}

// translateFunction compiles a whole chunk to a native entry point.
// Arguments arrive on the caller's evaluation stack in declared order;
// the entry copies them into a fresh local-slot base before running the
// body. Every Return/ReturnNone site stores its value through the same
// tagged encoding and the same control path.
func translateFunction(c *Chunk) (*CompiledEntry, error) {
	if err := checkCompilable(c); err != nil {
		return nil, err
	}
	t := newTranslator(c, 0, len(c.Code), false)
	if err := t.translate(); err != nil {
		return nil, err
	}

	steps := t.steps
	maxDepth := t.maxDepth
	numLocals := c.NumLocals

	entry := &CompiledEntry{Name: c.Name, Arity: c.Arity(), NumLocals: numLocals}
	entry.fn = func(ctx *Context, args []Value) (Value, error) {
		tk := task{
			ctx:    ctx,
			locals: make([]Value, numLocals), // zero Value is None
			stack:  make([]Value, maxDepth),
		}
		for i, a := range args {
			tk.locals[i] = shareValue(a)
		}
		for !tk.done {
			if tk.pc >= len(steps) {
				// Fell off the end, same as the interpreter.
				return None, nil
			}
			if err := steps[tk.pc](&tk); err != nil {
				return None, err
			}
		}
		return tk.result, nil
	}
	return entry, nil
}
