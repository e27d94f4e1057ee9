package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack Operations
const (
	OpNop Opcode = 0x00 // no operation
	OpPop Opcode = 0x01 // discard top of stack
	OpDup Opcode = 0x02 // duplicate top of stack
)

// Push Constants
const (
	OpLoadNone     Opcode = 0x10 // push none
	OpLoadTrue     Opcode = 0x11 // push true
	OpLoadFalse    Opcode = 0x12 // push false
	OpLoadSmallInt Opcode = 0x13 // push 8-bit signed integer
	OpLoadConst    Opcode = 0x14 // push constant from pool (16-bit index)
)

// Variable Operations
const (
	OpLoadLocal   Opcode = 0x20 // push local slot (8-bit slot)
	OpStoreLocal  Opcode = 0x21 // peek top of stack into local slot (8-bit slot)
	OpLoadGlobal  Opcode = 0x22 // push global (16-bit name constant)
	OpStoreGlobal Opcode = 0x23 // peek top of stack into global (16-bit name constant)
)

// Arithmetic
const (
	OpAdd Opcode = 0x30 // pop b, a; push a + b
	OpSub Opcode = 0x31 // pop b, a; push a - b
	OpMul Opcode = 0x32 // pop b, a; push a * b
	OpDiv Opcode = 0x33 // pop b, a; push a / b
	OpMod Opcode = 0x34 // pop b, a; push a % b
	OpNeg Opcode = 0x35 // pop a; push -a
	OpNot Opcode = 0x36 // pop a; push !truthy(a)
)

// Comparison
const (
	OpEq Opcode = 0x40 // pop b, a; push a == b
	OpNe Opcode = 0x41 // pop b, a; push a != b
	OpLt Opcode = 0x42 // pop b, a; push a < b
	OpGt Opcode = 0x43 // pop b, a; push a > b
	OpLe Opcode = 0x44 // pop b, a; push a <= b
	OpGe Opcode = 0x45 // pop b, a; push a >= b
)

// Control Flow
const (
	OpJump        Opcode = 0x50 // unconditional jump (16-bit signed offset)
	OpJumpIfTrue  Opcode = 0x51 // pop, jump if truthy (16-bit signed offset)
	OpJumpIfFalse Opcode = 0x52 // pop, jump if falsy (16-bit signed offset)
	OpJumpBack    Opcode = 0x53 // jump to loop header (16-bit absolute offset)
)

// Calls and Returns
const (
	OpCall       Opcode = 0x60 // call function (16-bit name constant, 8-bit argc)
	OpCallNative Opcode = 0x61 // call builtin (16-bit name constant, 8-bit argc)
	OpReturn     Opcode = 0x62 // return top of stack
	OpReturnNone Opcode = 0x63 // return none
)

// Containers
const (
	OpMakeArray       Opcode = 0x70 // pop N elements, push array (16-bit count)
	OpMakeDict        Opcode = 0x71 // pop N key/value pairs, push dict (16-bit pair count)
	OpIndexGet        Opcode = 0x72 // pop index, container; push element
	OpIndexSet        Opcode = 0x73 // pop value, index, container; push updated container
	OpIndexGetInPlace Opcode = 0x74 // pop index; push element of local slot (8-bit slot)
	OpIndexSetInPlace Opcode = 0x75 // pop value, index; mutate local slot (8-bit slot)
	OpAddInPlace      Opcode = 0x76 // pop rhs; push slot + rhs, accumulate form (8-bit slot)
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes
	StackEffect  int    // net effect on stack (-99 = variable)
}

const variableEffect = -99

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop: {"NOP", 0, 0},
	OpPop: {"POP", 0, -1},
	OpDup: {"DUP", 0, 1},

	OpLoadNone:     {"LOAD_NONE", 0, 1},
	OpLoadTrue:     {"LOAD_TRUE", 0, 1},
	OpLoadFalse:    {"LOAD_FALSE", 0, 1},
	OpLoadSmallInt: {"LOAD_SMALL_INT", 1, 1},
	OpLoadConst:    {"LOAD_CONST", 2, 1},

	OpLoadLocal:   {"LOAD_LOCAL", 1, 1},
	OpStoreLocal:  {"STORE_LOCAL", 1, 0}, // peeks, does not pop
	OpLoadGlobal:  {"LOAD_GLOBAL", 2, 1},
	OpStoreGlobal: {"STORE_GLOBAL", 2, 0}, // peeks, does not pop

	OpAdd: {"ADD", 0, -1},
	OpSub: {"SUB", 0, -1},
	OpMul: {"MUL", 0, -1},
	OpDiv: {"DIV", 0, -1},
	OpMod: {"MOD", 0, -1},
	OpNeg: {"NEG", 0, 0},
	OpNot: {"NOT", 0, 0},

	OpEq: {"EQ", 0, -1},
	OpNe: {"NE", 0, -1},
	OpLt: {"LT", 0, -1},
	OpGt: {"GT", 0, -1},
	OpLe: {"LE", 0, -1},
	OpGe: {"GE", 0, -1},

	OpJump:        {"JUMP", 2, 0},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", 2, -1},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 2, -1},
	OpJumpBack:    {"JUMP_BACK", 2, 0},

	OpCall:       {"CALL", 3, variableEffect}, // pops argc, pushes result
	OpCallNative: {"CALL_NATIVE", 3, variableEffect},
	OpReturn:     {"RETURN", 0, -1},
	OpReturnNone: {"RETURN_NONE", 0, 0},

	OpMakeArray:       {"MAKE_ARRAY", 2, variableEffect},
	OpMakeDict:        {"MAKE_DICT", 2, variableEffect},
	OpIndexGet:        {"INDEX_GET", 0, -1},
	OpIndexSet:        {"INDEX_SET", 0, -2},
	OpIndexGetInPlace: {"INDEX_GET_IN_PLACE", 1, 0},
	OpIndexSetInPlace: {"INDEX_SET_IN_PLACE", 1, -2},
	OpAddInPlace:      {"ADD_IN_PLACE", 1, 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitByte appends an opcode with a single byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitInt8 appends an opcode with a signed 8-bit operand.
func (b *BytecodeBuilder) EmitInt8(op Opcode, operand int8) {
	b.bytes = append(b.bytes, byte(op), byte(operand))
}

// EmitUint16 appends an opcode with a 16-bit operand (little-endian).
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// EmitCall appends a CALL or CALL_NATIVE instruction.
func (b *BytecodeBuilder) EmitCall(op Opcode, nameIndex uint16, argc uint8) {
	b.bytes = append(b.bytes, byte(op), byte(nameIndex), byte(nameIndex>>8), argc)
}

// EmitJumpBack appends a JUMP_BACK to an absolute loop-header offset.
func (b *BytecodeBuilder) EmitJumpBack(target int) {
	b.bytes = append(b.bytes, byte(OpJumpBack), byte(target), byte(target>>8))
}

// ---------------------------------------------------------------------------
// Label management for forward jumps
// ---------------------------------------------------------------------------

// Label represents a forward reference in bytecode.
type Label struct {
	resolved bool
	position int   // target position once resolved
	refs     []int // operand positions awaiting patching
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position and patches all
// forward references to it.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		offset := label.position - (ref + 2) // relative to after the operand
		b.bytes[ref] = byte(offset)
		b.bytes[ref+1] = byte(offset >> 8)
	}
	label.refs = nil
}

// EmitJump emits a relative jump instruction targeting a label.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		offset := label.position - (len(b.bytes) + 2)
		b.bytes = append(b.bytes, byte(offset), byte(offset>>8))
	} else {
		label.refs = append(label.refs, len(b.bytes))
		b.bytes = append(b.bytes, 0, 0) // placeholder
	}
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for interpretation or disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	op := Opcode(r.bytes[r.pos])
	r.pos++
	return op
}

// ReadByte reads a single byte operand.
func (r *BytecodeReader) ReadByte() byte {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadInt8 reads a signed 8-bit operand.
func (r *BytecodeReader) ReadInt8() int8 {
	return int8(r.ReadByte())
}

// ReadUint16 reads a 16-bit operand (little-endian).
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadInt16 reads a signed 16-bit operand (little-endian).
func (r *BytecodeReader) ReadInt16() int16 {
	return int16(r.ReadUint16())
}

// Skip advances the position by n bytes.
func (r *BytecodeReader) Skip(n int) {
	r.pos += n
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles a single instruction at the reader's
// position. Returns the string representation and advances the reader.
func DisassembleInstruction(r *BytecodeReader) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()

	switch op {
	case OpNop, OpPop, OpDup, OpLoadNone, OpLoadTrue, OpLoadFalse,
		OpAdd, OpSub, OpMul, OpDiv, OpMod, OpNeg, OpNot,
		OpEq, OpNe, OpLt, OpGt, OpLe, OpGe,
		OpReturn, OpReturnNone, OpIndexGet, OpIndexSet:
		return fmt.Sprintf("%04d  %s", pos, info.Name)

	case OpLoadSmallInt:
		v := r.ReadInt8()
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, v)

	case OpLoadLocal, OpStoreLocal, OpIndexGetInPlace, OpIndexSetInPlace, OpAddInPlace:
		slot := r.ReadByte()
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, slot)

	case OpLoadConst, OpLoadGlobal, OpStoreGlobal:
		idx := r.ReadUint16()
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, idx)

	case OpJump, OpJumpIfTrue, OpJumpIfFalse:
		offset := r.ReadInt16()
		target := r.Position() + int(offset)
		return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, info.Name, offset, target)

	case OpJumpBack:
		target := r.ReadUint16()
		return fmt.Sprintf("%04d  %s (-> %04d)", pos, info.Name, target)

	case OpMakeArray, OpMakeDict:
		n := r.ReadUint16()
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, n)

	case OpCall, OpCallNative:
		nameIdx := r.ReadUint16()
		argc := r.ReadByte()
		return fmt.Sprintf("%04d  %s name=%d argc=%d", pos, info.Name, nameIdx, argc)

	default:
		r.Skip(info.OperandBytes)
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte) string {
	r := NewBytecodeReader(bc)
	var result string
	for r.HasMore() {
		if result != "" {
			result += "\n"
		}
		result += DisassembleInstruction(r)
	}
	return result
}
