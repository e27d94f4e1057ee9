package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// runFrame executes the current frame's chunk to its terminal. Calls
// recurse through callFunction, which pushes a fresh frame (or enters
// compiled code) and returns the callee's result.
//
// The instruction pointer lives in a local; the frame record only
// carries the chunk and locals base, which stay stable across nested
// calls even when the frames slice reallocates.
func (m *Machine) runFrame() (Value, error) {
	f := m.frames[m.fp-1]
	chunk := f.chunk
	code := chunk.Code
	base := f.base
	ip := 0

	for ip < len(code) {
		opOffset := ip
		op := Opcode(code[ip])
		ip++

		switch op {
		case OpNop:

		case OpPop:
			m.sp--

		case OpDup:
			m.push(shareValue(m.top()))

		case OpLoadNone:
			m.push(None)

		case OpLoadTrue:
			m.push(True)

		case OpLoadFalse:
			m.push(False)

		case OpLoadSmallInt:
			m.push(FromInt(int64(int8(code[ip]))))
			ip++

		case OpLoadConst:
			idx := binary.LittleEndian.Uint16(code[ip:])
			ip += 2
			m.push(shareValue(chunk.Consts[idx]))

		case OpLoadLocal:
			slot := int(code[ip])
			ip++
			m.push(shareValue(m.locals[base+slot]))

		case OpStoreLocal:
			// Peek, not pop: the stored value stays on the stack.
			slot := int(code[ip])
			ip++
			m.locals[base+slot] = shareValue(m.top())

		case OpLoadGlobal:
			idx := binary.LittleEndian.Uint16(code[ip:])
			ip += 2
			name := chunk.Consts[idx].Str()
			v, ok := m.globals[name]
			if !ok {
				return None, m.located(undefinedVariable(name), chunk, opOffset)
			}
			m.push(shareValue(v))

		case OpStoreGlobal:
			// Peek, not pop.
			idx := binary.LittleEndian.Uint16(code[ip:])
			ip += 2
			m.globals[chunk.Consts[idx].Str()] = shareValue(m.top())

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpEq, OpNe, OpLt, OpGt, OpLe, OpGe:
			b := m.pop()
			a := m.pop()
			r, err := applyBinary(op, a, b)
			if err != nil {
				return None, m.located(err, chunk, opOffset)
			}
			m.push(r)

		case OpNeg:
			a := m.pop()
			r, err := opNegValue(a)
			if err != nil {
				return None, m.located(err, chunk, opOffset)
			}
			m.push(r)

		case OpNot:
			m.push(opNotValue(m.pop()))

		case OpJump:
			offset := int(int16(binary.LittleEndian.Uint16(code[ip:])))
			ip += 2
			ip += offset

		case OpJumpIfTrue:
			offset := int(int16(binary.LittleEndian.Uint16(code[ip:])))
			ip += 2
			if m.pop().Truthy() {
				ip += offset
			}

		case OpJumpIfFalse:
			offset := int(int16(binary.LittleEndian.Uint16(code[ip:])))
			ip += 2
			if !m.pop().Truthy() {
				ip += offset
			}

		case OpJumpBack:
			// Backward branch to the loop header. This is the loop
			// trigger: the profiler counts visits to the HEADER offset,
			// and a compiled body is entered from the header, never
			// from here.
			target := int(binary.LittleEndian.Uint16(code[ip:]))
			ip += 2
			if m.jit.Enabled() {
				if cl := m.jit.LoopFor(chunk, target); cl != nil {
					exit, err := cl.run(m.ctx, m.locals[base:base+chunk.NumLocals])
					if err != nil {
						return None, m.located(err, chunk, opOffset)
					}
					ip = exit
					continue
				}
				if !m.jit.LoopBlocked(chunk, target) && m.profiler.RecordLoopVisit(chunk.Name, target) {
					if cl, err := m.jit.CompileLoop(chunk, target, opOffset); err == nil {
						exit, err := cl.run(m.ctx, m.locals[base:base+chunk.NumLocals])
						if err != nil {
							return None, m.located(err, chunk, opOffset)
						}
						ip = exit
						continue
					}
				}
			}
			ip = target

		case OpCall:
			nameIdx := binary.LittleEndian.Uint16(code[ip:])
			argc := int(code[ip+2])
			ip += 3
			name := chunk.Consts[nameIdx].Str()
			args := m.popN(argc)
			result, err := m.callFunction(name, args)
			if err != nil {
				return None, m.located(err, chunk, opOffset)
			}
			m.push(result)

		case OpCallNative:
			nameIdx := binary.LittleEndian.Uint16(code[ip:])
			argc := int(code[ip+2])
			ip += 3
			name := chunk.Consts[nameIdx].Str()
			args := m.popN(argc)
			result, err := m.callNative(name, args)
			if err != nil {
				return None, m.located(err, chunk, opOffset)
			}
			m.push(result)

		case OpReturn:
			return m.pop(), nil

		case OpReturnNone:
			return None, nil

		case OpMakeArray:
			n := int(binary.LittleEndian.Uint16(code[ip:]))
			ip += 2
			m.push(FromArray(NewArrayWith(m.popN(n))))

		case OpMakeDict:
			n := int(binary.LittleEndian.Uint16(code[ip:]))
			ip += 2
			pairs := m.popN(n * 2)
			d := NewDict()
			for i := 0; i < n; i++ {
				key, err := coerceKey(pairs[i*2])
				if err != nil {
					return None, m.located(err, chunk, opOffset)
				}
				d.Set(key, pairs[i*2+1])
			}
			m.push(FromDict(d))

		case OpIndexGet:
			idx := m.pop()
			obj := m.pop()
			v, err := containerGet(obj, idx)
			if err != nil {
				return None, m.located(err, chunk, opOffset)
			}
			m.push(v)

		case OpIndexSet:
			val := m.pop()
			idx := m.pop()
			obj := m.pop()
			updated, err := containerSet(obj, idx, val)
			if err != nil {
				return None, m.located(err, chunk, opOffset)
			}
			m.push(updated)

		case OpIndexGetInPlace:
			// The slot is read directly, without the aliasing mark a
			// whole-variable load would apply.
			slot := int(code[ip])
			ip++
			idx := m.pop()
			v, err := containerGet(m.locals[base+slot], idx)
			if err != nil {
				return None, m.located(err, chunk, opOffset)
			}
			m.push(v)

		case OpIndexSetInPlace:
			slot := int(code[ip])
			ip++
			val := m.pop()
			idx := m.pop()
			updated, err := containerSet(m.locals[base+slot], idx, val)
			if err != nil {
				return None, m.located(err, chunk, opOffset)
			}
			m.locals[base+slot] = updated

		case OpAddInPlace:
			slot := int(code[ip])
			ip++
			rhs := m.pop()
			r, err := opAddValues(m.locals[base+slot], rhs)
			if err != nil {
				return None, m.located(err, chunk, opOffset)
			}
			m.locals[base+slot] = r
			m.push(r)

		default:
			return None, fmt.Errorf("invalid opcode 0x%02X at offset %d in %q", byte(op), opOffset, chunk.Name)
		}
	}
	return None, nil
}

// applyBinary dispatches a binary arithmetic or comparison opcode to the
// operator helpers shared with compiled code.
func applyBinary(op Opcode, a, b Value) (Value, error) {
	switch op {
	case OpAdd:
		return opAddValues(a, b)
	case OpSub:
		return opSubValues(a, b)
	case OpMul:
		return opMulValues(a, b)
	case OpDiv:
		return opDivValues(a, b)
	case OpMod:
		return opModValues(a, b)
	case OpEq:
		return FromBool(Equal(a, b)), nil
	case OpNe:
		return FromBool(!Equal(a, b)), nil
	case OpLt:
		return opLtValues(a, b)
	case OpLe:
		return opLeValues(a, b)
	case OpGt:
		return opGtValues(a, b)
	case OpGe:
		return opGeValues(a, b)
	}
	return None, fmt.Errorf("not a binary opcode: %s", op)
}

// located fills in the source position of a runtime error from the
// chunk's source map, once, at the innermost frame that knows it.
func (m *Machine) located(err error, c *Chunk, offset int) error {
	var rerr *RuntimeError
	if errors.As(err, &rerr) && rerr.Line == 0 {
		if loc := c.Pos(offset); loc.Line > 0 {
			rerr.Line, rerr.Col = loc.Line, loc.Col
		}
	}
	return err
}
