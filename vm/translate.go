package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Bytecode-to-native translation
// ---------------------------------------------------------------------------

// Translation lowers a bytecode range to a flat sequence of step
// closures: one instruction becomes one closure with its operands
// resolved at compile time (constants fetched, slots bound, jump
// offsets mapped to step indices, callee entries memoized). The result
// runs under a bare program-counter loop with no decode and no
// interpreter dispatch, against the same Execution State the
// interpreter uses.

// task is the live activation of a compiled body.
type task struct {
	ctx    *Context
	locals []Value
	stack  []Value // scratch operand stack, sized at compile time
	sp     int
	pc     int // step index
	result Value
	done   bool
	exit   int // bytecode offset to resume at (loop bodies only)
}

func (tk *task) push(v Value) {
	tk.stack[tk.sp] = v
	tk.sp++
}

func (tk *task) pop() Value {
	tk.sp--
	return tk.stack[tk.sp]
}

func (tk *task) top() Value {
	return tk.stack[tk.sp-1]
}

// step is one lowered instruction. Each step leaves tk.pc pointing at
// the next step to run.
type step func(tk *task) error

// translator performs one translation pass over a bytecode range,
// maintaining the simulated operand-stack depth that mirrors the
// interpreter's stack discipline. Any instruction that would pop from
// an empty simulated stack aborts translation with the offending
// offset. Depth is verified per offset, not just linearly: every
// instruction records its entry depth, every branch records the depth
// it carries to its target, and a mismatch between the two aborts
// translation, so the depth bound holds on every executable path and
// maxDepth sizes the scratch stack correctly for branching and
// looping code.
type translator struct {
	chunk      *Chunk
	start, end int // byte range, end exclusive
	loop       bool

	steps     []step
	index     map[int]int // bytecode offset -> step index
	jumps     []jumpRef
	exitSteps map[int]int // synthesized exit step per outside target

	depth    int // -1 after an unconditional transfer, until flow() reseeds it
	depthAt  map[int]int
	maxDepth int
}

// jumpRef is a jump awaiting target resolution. The emitted closure
// reads *dest, which resolve() fills in once all offsets are indexed.
type jumpRef struct {
	at     int // offset of the jump instruction, for diagnostics
	target int // bytecode offset it branches to
	dest   *int
}

func newTranslator(c *Chunk, start, end int, loop bool) *translator {
	return &translator{
		chunk:     c,
		start:     start,
		end:       end,
		loop:      loop,
		index:     make(map[int]int),
		exitSteps: make(map[int]int),
		depthAt:   make(map[int]int),
	}
}

// emit appends a plain step; the wrapper advances the program counter.
func (t *translator) emit(fn func(tk *task) error) {
	t.steps = append(t.steps, func(tk *task) error {
		if err := fn(tk); err != nil {
			return err
		}
		tk.pc++
		return nil
	})
}

// emitCtl appends a control step that sets tk.pc itself.
func (t *translator) emitCtl(fn step) {
	t.steps = append(t.steps, fn)
}

// flow reconciles the simulated depth at an instruction boundary. A
// recorded depth comes from an earlier branch to this offset; it must
// agree with the fall-through depth when both exist. After an
// unconditional transfer the fall-through depth is unknown (-1) and the
// recorded depth, or zero for unreachable code, takes over.
func (t *translator) flow(offset int) error {
	if d, ok := t.depthAt[offset]; ok {
		if t.depth >= 0 && t.depth != d {
			return &CompileError{Kind: ErrInternalInvariant, Offset: offset,
				Detail: fmt.Sprintf("stack depth %d from fall-through, %d from branch", t.depth, d)}
		}
		t.depth = d
		return nil
	}
	if t.depth < 0 {
		t.depth = 0
	}
	t.depthAt[offset] = t.depth
	return nil
}

// branch records the depth a jump carries to its target. A target seen
// at a different depth means the paths disagree, which would let an
// executed path pop below its entry or outgrow the scratch stack.
// Loop-exit targets are exempt: the exit step flushes whatever is
// pending.
func (t *translator) branch(at, target int) error {
	if t.loop && (target < t.start || target >= t.end) {
		return nil
	}
	if d, ok := t.depthAt[target]; ok {
		if d != t.depth {
			return &CompileError{Kind: ErrInternalInvariant, Offset: at,
				Detail: fmt.Sprintf("branch target %d expects stack depth %d, carries %d", target, d, t.depth)}
		}
		return nil
	}
	t.depthAt[target] = t.depth
	return nil
}

// need checks the simulated depth before an instruction pops, then
// applies its net effect.
func (t *translator) need(offset int, op Opcode, pops, pushes int) error {
	if t.depth < pops {
		return &CompileError{Kind: ErrStackUnderflow, Offset: offset, Op: op,
			Detail: fmt.Sprintf("needs %d operands, stack has %d", pops, t.depth)}
	}
	t.depth += pushes - pops
	if t.depth > t.maxDepth {
		t.maxDepth = t.depth
	}
	return nil
}

func (t *translator) unsupported(offset int, op Opcode, detail string) error {
	return &CompileError{Kind: ErrUnsupportedOpcode, Offset: offset, Op: op, Detail: detail}
}

// translate scans the range, emitting one step per instruction.
func (t *translator) translate() error {
	code := t.chunk.Code
	ip := t.start

	for ip < t.end {
		offset := ip
		t.index[offset] = len(t.steps)
		if err := t.flow(offset); err != nil {
			return err
		}
		op := Opcode(code[ip])
		ip++
		if ip+op.OperandBytes() > t.end {
			return &CompileError{Kind: ErrInternalInvariant, Offset: offset, Op: op,
				Detail: "truncated operand"}
		}

		switch op {
		case OpNop:
			if err := t.need(offset, op, 0, 0); err != nil {
				return err
			}
			t.emit(func(tk *task) error { return nil })

		case OpPop:
			if err := t.need(offset, op, 1, 0); err != nil {
				return err
			}
			t.emit(func(tk *task) error { tk.sp--; return nil })

		case OpDup:
			if err := t.need(offset, op, 1, 2); err != nil {
				return err
			}
			t.emit(func(tk *task) error { tk.push(shareValue(tk.top())); return nil })

		case OpLoadNone:
			if err := t.need(offset, op, 0, 1); err != nil {
				return err
			}
			t.emit(func(tk *task) error { tk.push(None); return nil })

		case OpLoadTrue:
			if err := t.need(offset, op, 0, 1); err != nil {
				return err
			}
			t.emit(func(tk *task) error { tk.push(True); return nil })

		case OpLoadFalse:
			if err := t.need(offset, op, 0, 1); err != nil {
				return err
			}
			t.emit(func(tk *task) error { tk.push(False); return nil })

		case OpLoadSmallInt:
			v := FromInt(int64(int8(code[ip])))
			ip++
			if err := t.need(offset, op, 0, 1); err != nil {
				return err
			}
			t.emit(func(tk *task) error { tk.push(v); return nil })

		case OpLoadConst:
			idx := binary.LittleEndian.Uint16(code[ip:])
			ip += 2
			if int(idx) >= len(t.chunk.Consts) {
				return &CompileError{Kind: ErrInternalInvariant, Offset: offset, Op: op,
					Detail: fmt.Sprintf("constant %d out of range", idx)}
			}
			v := t.chunk.Consts[idx]
			if t.loop {
				// Loop bodies carry only exactly-representable scalars.
				switch v.Kind() {
				case KindInt, KindFloat, KindBool, KindNone:
				default:
					return t.unsupported(offset, op, "constant kind "+v.Kind().String())
				}
			}
			if err := t.need(offset, op, 0, 1); err != nil {
				return err
			}
			t.emit(func(tk *task) error { tk.push(shareValue(v)); return nil })

		case OpLoadLocal:
			slot := int(code[ip])
			ip++
			if slot >= t.chunk.NumLocals {
				return &CompileError{Kind: ErrInternalInvariant, Offset: offset, Op: op,
					Detail: fmt.Sprintf("slot %d out of range", slot)}
			}
			if err := t.need(offset, op, 0, 1); err != nil {
				return err
			}
			t.emit(func(tk *task) error { tk.push(shareValue(tk.locals[slot])); return nil })

		case OpStoreLocal:
			// Peek, not pop, exactly as the interpreter stores.
			slot := int(code[ip])
			ip++
			if slot >= t.chunk.NumLocals {
				return &CompileError{Kind: ErrInternalInvariant, Offset: offset, Op: op,
					Detail: fmt.Sprintf("slot %d out of range", slot)}
			}
			if err := t.need(offset, op, 1, 1); err != nil {
				return err
			}
			t.emit(func(tk *task) error { tk.locals[slot] = shareValue(tk.top()); return nil })

		case OpLoadGlobal:
			idx := binary.LittleEndian.Uint16(code[ip:])
			ip += 2
			if t.loop {
				return t.unsupported(offset, op, "globals in loop body")
			}
			name := t.chunk.Consts[idx].Str()
			if err := t.need(offset, op, 0, 1); err != nil {
				return err
			}
			t.emit(func(tk *task) error {
				v, ok := tk.ctx.m.globals[name]
				if !ok {
					return undefinedVariable(name)
				}
				tk.push(shareValue(v))
				return nil
			})

		case OpStoreGlobal:
			idx := binary.LittleEndian.Uint16(code[ip:])
			ip += 2
			if t.loop {
				return t.unsupported(offset, op, "globals in loop body")
			}
			name := t.chunk.Consts[idx].Str()
			if err := t.need(offset, op, 1, 1); err != nil {
				return err
			}
			t.emit(func(tk *task) error {
				tk.ctx.m.globals[name] = shareValue(tk.top())
				return nil
			})

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpEq, OpNe, OpLt, OpGt, OpLe, OpGe:
			binOp := op
			if err := t.need(offset, op, 2, 1); err != nil {
				return err
			}
			t.emit(func(tk *task) error {
				b := tk.pop()
				a := tk.pop()
				r, err := applyBinary(binOp, a, b)
				if err != nil {
					return err
				}
				tk.push(r)
				return nil
			})

		case OpNeg:
			if err := t.need(offset, op, 1, 1); err != nil {
				return err
			}
			t.emit(func(tk *task) error {
				r, err := opNegValue(tk.pop())
				if err != nil {
					return err
				}
				tk.push(r)
				return nil
			})

		case OpNot:
			if err := t.need(offset, op, 1, 1); err != nil {
				return err
			}
			t.emit(func(tk *task) error { tk.push(opNotValue(tk.pop())); return nil })

		case OpJump:
			rel := int(int16(binary.LittleEndian.Uint16(code[ip:])))
			ip += 2
			target := ip + rel
			if err := t.need(offset, op, 0, 0); err != nil {
				return err
			}
			if err := t.branch(offset, target); err != nil {
				return err
			}
			t.depth = -1
			dest := new(int)
			t.jumps = append(t.jumps, jumpRef{at: offset, target: target, dest: dest})
			t.emitCtl(func(tk *task) error { tk.pc = *dest; return nil })

		case OpJumpIfTrue:
			rel := int(int16(binary.LittleEndian.Uint16(code[ip:])))
			ip += 2
			target := ip + rel
			if err := t.need(offset, op, 1, 0); err != nil {
				return err
			}
			if err := t.branch(offset, target); err != nil {
				return err
			}
			dest := new(int)
			t.jumps = append(t.jumps, jumpRef{at: offset, target: target, dest: dest})
			t.emitCtl(func(tk *task) error {
				if tk.pop().Truthy() {
					tk.pc = *dest
				} else {
					tk.pc++
				}
				return nil
			})

		case OpJumpIfFalse:
			rel := int(int16(binary.LittleEndian.Uint16(code[ip:])))
			ip += 2
			target := ip + rel
			if err := t.need(offset, op, 1, 0); err != nil {
				return err
			}
			if err := t.branch(offset, target); err != nil {
				return err
			}
			dest := new(int)
			t.jumps = append(t.jumps, jumpRef{at: offset, target: target, dest: dest})
			t.emitCtl(func(tk *task) error {
				if !tk.pop().Truthy() {
					tk.pc = *dest
				} else {
					tk.pc++
				}
				return nil
			})

		case OpJumpBack:
			target := int(binary.LittleEndian.Uint16(code[ip:]))
			ip += 2
			if err := t.need(offset, op, 0, 0); err != nil {
				return err
			}
			if err := t.branch(offset, target); err != nil {
				return err
			}
			t.depth = -1
			dest := new(int)
			t.jumps = append(t.jumps, jumpRef{at: offset, target: target, dest: dest})
			t.emitCtl(func(tk *task) error { tk.pc = *dest; return nil })

		case OpCall:
			if t.loop {
				return t.unsupported(offset, op, "call in loop body")
			}
			nameIdx := binary.LittleEndian.Uint16(code[ip:])
			argc := int(code[ip+2])
			ip += 3
			name := t.chunk.Consts[nameIdx].Str()
			if err := t.need(offset, op, argc, 1); err != nil {
				return err
			}
			// The callee entry is resolved through the cache on first
			// execution and memoized; once both sides are compiled the
			// call bypasses interpreter dispatch entirely. Entries are
			// never invalidated, so the memo is sound.
			var entry *CompiledEntry
			t.emit(func(tk *task) error {
				args := make([]Value, argc)
				copy(args, tk.stack[tk.sp-argc:tk.sp])
				tk.sp -= argc
				m := tk.ctx.m
				if entry == nil {
					entry = m.jit.cache.Get(name)
				}
				var result Value
				var err error
				if entry != nil {
					result, err = m.enterCompiled(entry, args)
				} else {
					result, err = m.callFunction(name, args)
				}
				if err != nil {
					return err
				}
				tk.push(result)
				return nil
			})

		case OpReturn:
			if t.loop {
				return t.unsupported(offset, op, "return in loop body")
			}
			if err := t.need(offset, op, 1, 0); err != nil {
				return err
			}
			t.emitCtl(func(tk *task) error {
				tk.result = tk.pop()
				tk.done = true
				return nil
			})
			t.depth = -1

		case OpReturnNone:
			if t.loop {
				return t.unsupported(offset, op, "return in loop body")
			}
			if err := t.need(offset, op, 0, 0); err != nil {
				return err
			}
			t.emitCtl(func(tk *task) error {
				tk.result = None
				tk.done = true
				return nil
			})
			t.depth = -1

		default:
			// CallNative, container opcodes, anything unknown.
			return t.unsupported(offset, op, "")
		}
	}
	return t.resolve()
}

// resolve maps every recorded jump target to its step index. In loop
// mode a target outside the compiled range is a loop exit: it becomes a
// synthesized step that flushes the scratch stack to the machine stack
// and hands the resume offset back to the interpreter.
func (t *translator) resolve() error {
	for _, j := range t.jumps {
		if idx, ok := t.index[j.target]; ok {
			*j.dest = idx
			continue
		}
		if t.loop && (j.target < t.start || j.target >= t.end) {
			*j.dest = t.exitStep(j.target)
			continue
		}
		return &CompileError{Kind: ErrInternalInvariant, Offset: j.at,
			Detail: fmt.Sprintf("jump target %d not at an instruction boundary", j.target)}
	}
	return nil
}

func (t *translator) exitStep(target int) int {
	if idx, ok := t.exitSteps[target]; ok {
		return idx
	}
	idx := len(t.steps)
	t.exitSteps[target] = idx
	t.steps = append(t.steps, func(tk *task) error {
		for i := 0; i < tk.sp; i++ {
			tk.ctx.m.push(tk.stack[i])
		}
		tk.sp = 0
		tk.exit = target
		tk.done = true
		return nil
	})
	return idx
}

// ---------------------------------------------------------------------------
// Compiled loops
// ---------------------------------------------------------------------------

// CompiledLoop is a translated loop body. Entry is the loop HEADER
// offset; run returns the bytecode offset at which the interpreter
// resumes after the loop exits.
type CompiledLoop struct {
	chunk    *Chunk
	header   int
	steps    []step
	maxDepth int
}

// run executes the loop against the live locals window of the current
// frame. The loop body's transient operands live on a scratch stack;
// translation guarantees the body never reaches below its own entry
// depth, and any values still pending at an exit are flushed to the
// machine stack, so observable state matches interpretation exactly.
func (cl *CompiledLoop) run(ctx *Context, locals []Value) (int, error) {
	tk := task{
		ctx:    ctx,
		locals: locals,
		stack:  make([]Value, cl.maxDepth),
	}
	for !tk.done {
		if err := cl.steps[tk.pc](&tk); err != nil {
			return 0, err
		}
	}
	return tk.exit, nil
}

// translateLoop compiles the range from a loop header to its backward
// branch. branchOffset is the offset of the JUMP_BACK instruction; the
// compiled range includes it, so the lowered body iterates natively
// until an exit branch fires.
func translateLoop(c *Chunk, header, branchOffset int) (*CompiledLoop, error) {
	end := branchOffset + 1 + OpJumpBack.OperandBytes()
	if header < 0 || header >= branchOffset || end > len(c.Code) {
		return nil, &CompileError{Kind: ErrInternalInvariant, Offset: branchOffset,
			Detail: fmt.Sprintf("bad loop range %d..%d", header, end)}
	}
	t := newTranslator(c, header, end, true)
	if err := t.translate(); err != nil {
		return nil, err
	}
	return &CompiledLoop{
		chunk:    c,
		header:   header,
		steps:    t.steps,
		maxDepth: t.maxDepth,
	}, nil
}
