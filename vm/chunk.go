package vm

// ---------------------------------------------------------------------------
// Bytecode chunks
// ---------------------------------------------------------------------------

// SourceLoc maps a bytecode offset to its source position.
type SourceLoc struct {
	Offset int
	Line   int
	Col    int
}

// Chunk is the compiled bytecode unit for one function: code, constant
// pool, declared local-slot count and the name used as the cache key.
// Chunks are produced once by the front end and never mutated, which is
// why compiled code derived from them stays valid for the process
// lifetime.
type Chunk struct {
	Name      string
	Params    []string
	NumLocals int // slot count including parameters
	Code      []byte
	Consts    []Value
	SourceMap []SourceLoc
}

// Arity returns the declared parameter count.
func (c *Chunk) Arity() int {
	return len(c.Params)
}

// Pos returns the source location covering a bytecode offset, or a zero
// location when the chunk carries no source map for it.
func (c *Chunk) Pos(offset int) SourceLoc {
	var loc SourceLoc
	for _, l := range c.SourceMap {
		if l.Offset > offset {
			break
		}
		loc = l
	}
	return loc
}

// Disassemble returns a listing of the chunk's code.
func (c *Chunk) Disassemble() string {
	return Disassemble(c.Code)
}

// ---------------------------------------------------------------------------
// ChunkBuilder
// ---------------------------------------------------------------------------

// ChunkBuilder assembles a Chunk: bytecode through the embedded
// BytecodeBuilder, plus constant-pool interning and source locations.
type ChunkBuilder struct {
	*BytecodeBuilder
	name      string
	params    []string
	numLocals int
	consts    []Value
	locs      []SourceLoc
}

// NewChunkBuilder starts a chunk for the named function. Parameters
// occupy the first local slots in declared order.
func NewChunkBuilder(name string, params ...string) *ChunkBuilder {
	return &ChunkBuilder{
		BytecodeBuilder: NewBytecodeBuilder(),
		name:            name,
		params:          params,
		numLocals:       len(params),
	}
}

// SetNumLocals declares the total local-slot count. Must be at least the
// parameter count.
func (b *ChunkBuilder) SetNumLocals(n int) {
	if n < len(b.params) {
		panic("local count below parameter count")
	}
	b.numLocals = n
}

// AddConst interns a value into the constant pool and returns its index.
// Scalars and strings are deduplicated; containers are appended as-is.
func (b *ChunkBuilder) AddConst(v Value) uint16 {
	if v.Kind() != KindArray && v.Kind() != KindDict {
		for i, c := range b.consts {
			if c.Kind() == v.Kind() && Equal(c, v) {
				return uint16(i)
			}
		}
	}
	b.consts = append(b.consts, v)
	return uint16(len(b.consts) - 1)
}

// EmitConst appends a LOAD_CONST for the value, interning it.
func (b *ChunkBuilder) EmitConst(v Value) {
	b.EmitUint16(OpLoadConst, b.AddConst(v))
}

// MarkLine records that code emitted from here on originates at the
// given source position.
func (b *ChunkBuilder) MarkLine(line, col int) {
	b.locs = append(b.locs, SourceLoc{Offset: b.Len(), Line: line, Col: col})
}

// Build finalizes the chunk.
func (b *ChunkBuilder) Build() *Chunk {
	return &Chunk{
		Name:      b.name,
		Params:    b.params,
		NumLocals: b.numLocals,
		Code:      b.Bytes(),
		Consts:    b.consts,
		SourceMap: b.locs,
	}
}
