package vm

import (
	"strings"
	"testing"
)

func TestBuilderEmitAndRead(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitInt8(OpLoadSmallInt, -7)
	b.EmitByte(OpStoreLocal, 3)
	b.EmitUint16(OpLoadConst, 300)
	b.EmitCall(OpCall, 2, 1)
	b.Emit(OpReturn)

	r := NewBytecodeReader(b.Bytes())
	if op := r.ReadOpcode(); op != OpLoadSmallInt {
		t.Fatalf("expected LOAD_SMALL_INT, got %s", op)
	}
	if v := r.ReadInt8(); v != -7 {
		t.Errorf("expected -7, got %d", v)
	}
	if op := r.ReadOpcode(); op != OpStoreLocal {
		t.Fatalf("expected STORE_LOCAL, got %s", op)
	}
	if slot := r.ReadByte(); slot != 3 {
		t.Errorf("expected slot 3, got %d", slot)
	}
	if op := r.ReadOpcode(); op != OpLoadConst {
		t.Fatalf("expected LOAD_CONST, got %s", op)
	}
	if idx := r.ReadUint16(); idx != 300 {
		t.Errorf("expected index 300, got %d", idx)
	}
	if op := r.ReadOpcode(); op != OpCall {
		t.Fatalf("expected CALL, got %s", op)
	}
	if idx := r.ReadUint16(); idx != 2 {
		t.Errorf("expected name index 2, got %d", idx)
	}
	if argc := r.ReadByte(); argc != 1 {
		t.Errorf("expected argc 1, got %d", argc)
	}
	if op := r.ReadOpcode(); op != OpReturn {
		t.Fatalf("expected RETURN, got %s", op)
	}
	if r.HasMore() {
		t.Error("reader should be exhausted")
	}
}

func TestForwardJumpPatching(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpLoadTrue)
	skip := b.NewLabel()
	b.EmitJump(OpJumpIfFalse, skip)
	b.EmitInt8(OpLoadSmallInt, 1)
	b.Mark(skip)
	b.Emit(OpReturn)

	// The conditional jump's operand must land on the Mark position.
	r := NewBytecodeReader(b.Bytes())
	r.Seek(1)
	if op := r.ReadOpcode(); op != OpJumpIfFalse {
		t.Fatalf("expected JUMP_IF_FALSE, got %s", op)
	}
	offset := r.ReadInt16()
	target := r.Position() + int(offset)
	if target != 6 {
		t.Errorf("jump should target offset 6, got %d", target)
	}
}

func TestJumpBackEncodesAbsoluteTarget(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpNop)
	header := b.Len()
	b.EmitInt8(OpLoadSmallInt, 1)
	b.Emit(OpPop)
	b.EmitJumpBack(header)

	r := NewBytecodeReader(b.Bytes())
	r.Seek(4)
	if op := r.ReadOpcode(); op != OpJumpBack {
		t.Fatalf("expected JUMP_BACK, got %s", op)
	}
	if got := int(r.ReadUint16()); got != header {
		t.Errorf("expected absolute target %d, got %d", header, got)
	}
}

func TestDisassemble(t *testing.T) {
	b := NewChunkBuilder("demo", "x")
	b.EmitByte(OpLoadLocal, 0)
	b.EmitConst(FromInt(1000))
	b.Emit(OpAdd)
	b.Emit(OpReturn)
	c := b.Build()

	listing := c.Disassemble()
	t.Logf("listing:\n%s", listing)

	for _, want := range []string{"LOAD_LOCAL 0", "LOAD_CONST 0", "ADD", "RETURN"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q", want)
		}
	}
}

func TestOpcodeInfo(t *testing.T) {
	if OpStoreLocal.OperandBytes() != 1 {
		t.Errorf("STORE_LOCAL should carry one operand byte")
	}
	if OpCall.OperandBytes() != 3 {
		t.Errorf("CALL should carry three operand bytes")
	}
	if got := Opcode(0xEE).Name(); got != "UNKNOWN_EE" {
		t.Errorf("unknown opcode name: %s", got)
	}
}

func TestChunkConstInterning(t *testing.T) {
	b := NewChunkBuilder("consts")
	a := b.AddConst(FromString("hello"))
	c := b.AddConst(FromString("hello"))
	if a != c {
		t.Errorf("equal string constants should intern to one index: %d vs %d", a, c)
	}
	d := b.AddConst(FromInt(5))
	e := b.AddConst(FromFloat(5))
	if d == e {
		t.Error("int and float constants must stay distinct pool entries")
	}
}

func TestSourceMapLookup(t *testing.T) {
	b := NewChunkBuilder("located")
	b.MarkLine(10, 1)
	b.EmitInt8(OpLoadSmallInt, 1)
	b.MarkLine(11, 5)
	b.EmitInt8(OpLoadSmallInt, 2)
	b.Emit(OpAdd)
	b.Emit(OpReturn)
	c := b.Build()

	if loc := c.Pos(0); loc.Line != 10 {
		t.Errorf("offset 0 should map to line 10, got %d", loc.Line)
	}
	if loc := c.Pos(4); loc.Line != 11 {
		t.Errorf("offset 4 should map to line 11, got %d", loc.Line)
	}
}
