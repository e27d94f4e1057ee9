package vm

import "testing"

// Shared program builders used across the interpreter and JIT tests.

// buildFib builds: fib(n) = n < 2 ? n : fib(n-1) + fib(n-2)
func buildFib() *Chunk {
	b := NewChunkBuilder("fib", "n")
	recurse := b.NewLabel()
	b.EmitByte(OpLoadLocal, 0)
	b.EmitInt8(OpLoadSmallInt, 2)
	b.Emit(OpLt)
	b.EmitJump(OpJumpIfFalse, recurse)
	b.EmitByte(OpLoadLocal, 0)
	b.Emit(OpReturn)
	b.Mark(recurse)
	fib := b.AddConst(FromString("fib"))
	b.EmitByte(OpLoadLocal, 0)
	b.EmitInt8(OpLoadSmallInt, 1)
	b.Emit(OpSub)
	b.EmitCall(OpCall, fib, 1)
	b.EmitByte(OpLoadLocal, 0)
	b.EmitInt8(OpLoadSmallInt, 2)
	b.Emit(OpSub)
	b.EmitCall(OpCall, fib, 1)
	b.Emit(OpAdd)
	b.Emit(OpReturn)
	return b.Build()
}

// buildSum builds: sum(n) = 0 + 1 + ... + (n-1), as a counting loop.
// Slots: 0 = n, 1 = total, 2 = i.
func buildSum() *Chunk {
	b := NewChunkBuilder("sum", "n")
	b.SetNumLocals(3)
	b.EmitInt8(OpLoadSmallInt, 0)
	b.EmitByte(OpStoreLocal, 1)
	b.Emit(OpPop)
	b.EmitInt8(OpLoadSmallInt, 0)
	b.EmitByte(OpStoreLocal, 2)
	b.Emit(OpPop)
	header := b.Len()
	exit := b.NewLabel()
	b.EmitByte(OpLoadLocal, 2)
	b.EmitByte(OpLoadLocal, 0)
	b.Emit(OpLt)
	b.EmitJump(OpJumpIfFalse, exit)
	b.EmitByte(OpLoadLocal, 1)
	b.EmitByte(OpLoadLocal, 2)
	b.Emit(OpAdd)
	b.EmitByte(OpStoreLocal, 1)
	b.Emit(OpPop)
	b.EmitByte(OpLoadLocal, 2)
	b.EmitInt8(OpLoadSmallInt, 1)
	b.Emit(OpAdd)
	b.EmitByte(OpStoreLocal, 2)
	b.Emit(OpPop)
	b.EmitJumpBack(header)
	b.Mark(exit)
	b.EmitByte(OpLoadLocal, 1)
	b.Emit(OpReturn)
	return b.Build()
}

// sumHeader returns the loop-header offset of buildSum's loop, for
// profiler and blacklist assertions.
func sumHeader() int {
	// Three two-byte instructions and two POP/STORE pairs precede the
	// header; compute it the robust way instead.
	b := NewChunkBuilder("probe")
	b.SetNumLocals(3)
	b.EmitInt8(OpLoadSmallInt, 0)
	b.EmitByte(OpStoreLocal, 1)
	b.Emit(OpPop)
	b.EmitInt8(OpLoadSmallInt, 0)
	b.EmitByte(OpStoreLocal, 2)
	b.Emit(OpPop)
	return b.Len()
}

func mustRegister(t *testing.T, m *Machine, chunks ...*Chunk) {
	t.Helper()
	for _, c := range chunks {
		if err := m.RegisterChunk(c); err != nil {
			t.Fatalf("registering %q: %v", c.Name, err)
		}
	}
}

func mustCallInt(t *testing.T, m *Machine, name string, want int64, args ...Value) {
	t.Helper()
	result, err := m.Call(name, args...)
	if err != nil {
		t.Fatalf("calling %s: %v", name, err)
	}
	if !result.IsInt() || result.Int() != want {
		t.Fatalf("%s: expected %d, got %s", name, want, result)
	}
}

// interpOnly returns a machine with adaptive compilation off.
func interpOnly() *Machine {
	opts := DefaultOptions()
	opts.JIT = false
	opts.Trace = false
	return NewMachine(opts)
}
