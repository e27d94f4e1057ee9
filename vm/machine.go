package vm

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger("kiln.vm")

// ---------------------------------------------------------------------------
// Machine: the owning VM instance
// ---------------------------------------------------------------------------

// Options configures a Machine. All hotness and safety knobs live here
// so multiple machines can coexist with independent policies.
type Options struct {
	JIT            bool   // master switch for adaptive compilation
	CallThreshold  uint64 // function invocations before a compile attempt
	LoopThreshold  uint64 // loop-header visits before a compile attempt
	RecursionLimit int    // max call depth, 0 = unlimited
	Trace          bool   // emit jit diagnostics on the kiln.jit logger
}

// DefaultCallThreshold and DefaultLoopThreshold are the documented
// hotness thresholds.
const (
	DefaultCallThreshold  = 100
	DefaultLoopThreshold  = 100
	DefaultRecursionLimit = 10000
)

// DefaultOptions returns the standard configuration. The KILN_JIT_TRACE
// environment variable switches the diagnostic stream on.
func DefaultOptions() Options {
	return Options{
		JIT:            true,
		CallThreshold:  DefaultCallThreshold,
		LoopThreshold:  DefaultLoopThreshold,
		RecursionLimit: DefaultRecursionLimit,
		Trace:          os.Getenv("KILN_JIT_TRACE") != "",
	}
}

// NativeFn is the signature of a builtin function.
type NativeFn func(m *Machine, args []Value) (Value, error)

// frame is the per-call record: owning chunk, saved instruction pointer
// and the base offset of the call's local slots.
type frame struct {
	chunk *Chunk
	ip    int
	base  int
}

// Machine owns one complete Execution State: operand stack, locals
// region, frames, globals, recursion counter, plus the profiler, the
// adaptive compiler and the compiled-function cache. Machines are
// single-threaded; to run bytecode in parallel, create one Machine per
// goroutine and communicate by message passing, never by sharing a
// Machine.
type Machine struct {
	ID string

	stack  []Value
	sp     int
	locals []Value
	lp     int // top of the locals region
	frames []frame
	fp     int // active frame count; frames[fp-1] is current

	globals map[string]Value
	chunks  map[string]*Chunk
	natives map[string]NativeFn

	profiler *Profiler
	jit      *JIT
	ctx      *Context

	depth    int // recursion counter, symmetric across tiers
	maxDepth int
	limit    int
}

// NewMachine creates a machine with the given options.
func NewMachine(opts Options) *Machine {
	m := &Machine{
		ID:      uuid.NewString(),
		stack:   make([]Value, 0, 256),
		locals:  make([]Value, 0, 256),
		frames:  make([]frame, 0, 64),
		globals: make(map[string]Value),
		chunks:  make(map[string]*Chunk),
		natives: make(map[string]NativeFn),
		limit:   opts.RecursionLimit,
	}
	m.profiler = NewProfiler(opts.CallThreshold, opts.LoopThreshold)
	m.jit = newJIT(m, opts.JIT, opts.Trace)
	m.ctx = &Context{m: m}
	registerBuiltins(m)
	vmLog.Debugf("machine %s created (jit=%v call=%d loop=%d limit=%d)",
		m.ID, opts.JIT, opts.CallThreshold, opts.LoopThreshold, opts.RecursionLimit)
	return m
}

// RegisterChunk makes a function chunk callable by name.
func (m *Machine) RegisterChunk(c *Chunk) error {
	if c.Name == "" {
		return fmt.Errorf("chunk has no name")
	}
	if _, exists := m.chunks[c.Name]; exists {
		return fmt.Errorf("duplicate chunk %q", c.Name)
	}
	m.chunks[c.Name] = c
	return nil
}

// RegisterNative installs a builtin function.
func (m *Machine) RegisterNative(name string, fn NativeFn) {
	m.natives[name] = fn
}

// Chunk returns a registered chunk by name.
func (m *Machine) Chunk(name string) *Chunk {
	return m.chunks[name]
}

// Global reads a global binding.
func (m *Machine) Global(name string) (Value, bool) {
	v, ok := m.globals[name]
	return v, ok
}

// SetGlobal writes a global binding.
func (m *Machine) SetGlobal(name string, v Value) {
	m.globals[name] = v
}

// Depth returns the current recursion counter.
func (m *Machine) Depth() int { return m.depth }

// MaxDepth returns the high-water mark of the recursion counter.
func (m *Machine) MaxDepth() int { return m.maxDepth }

// Profiler returns the machine's hot-path profiler.
func (m *Machine) Profiler() *Profiler { return m.profiler }

// JIT returns the machine's adaptive compiler.
func (m *Machine) JIT() *JIT { return m.jit }

// Run executes a top-level chunk (typically unnamed script code) and
// returns its result.
func (m *Machine) Run(c *Chunk) (Value, error) {
	return m.enterInterpreted(c, nil)
}

// Call invokes a registered function by name, dispatching through the
// compiled-function cache exactly like a call opcode would.
func (m *Machine) Call(name string, args ...Value) (Value, error) {
	return m.callFunction(name, args)
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

func (m *Machine) push(v Value) {
	if m.sp < len(m.stack) {
		m.stack[m.sp] = v
	} else {
		m.stack = append(m.stack, v)
	}
	m.sp++
}

func (m *Machine) pop() Value {
	m.sp--
	return m.stack[m.sp]
}

func (m *Machine) top() Value {
	return m.stack[m.sp-1]
}

// popN pops n values preserving push order.
func (m *Machine) popN(n int) []Value {
	vals := make([]Value, n)
	copy(vals, m.stack[m.sp-n:m.sp])
	m.sp -= n
	return vals
}

// StackDepth reports the operand-stack depth, for tests of the
// peek-not-pop store convention.
func (m *Machine) StackDepth() int { return m.sp }

// ---------------------------------------------------------------------------
// Frames and locals
// ---------------------------------------------------------------------------

func (m *Machine) pushFrame(c *Chunk, args []Value) {
	base := m.lp
	need := base + c.NumLocals
	for len(m.locals) < need {
		m.locals = append(m.locals, None)
	}
	window := m.locals[base:need]
	for i := range window {
		window[i] = None
	}
	// Argument copy is a fresh binding: mark containers aliased so the
	// caller's copy keeps copy semantics.
	for i, a := range args {
		window[i] = shareValue(a)
	}
	m.lp = need
	if m.fp < len(m.frames) {
		m.frames[m.fp] = frame{chunk: c, base: base}
	} else {
		m.frames = append(m.frames, frame{chunk: c, base: base})
	}
	m.fp++
}

func (m *Machine) popFrame() {
	f := &m.frames[m.fp-1]
	m.lp = f.base
	m.fp--
}

// ---------------------------------------------------------------------------
// Call dispatch
// ---------------------------------------------------------------------------

// callFunction is the single entry for every call, from the interpreter,
// from compiled code's slow path, and from the host API. The cache is
// consulted first; only interpreter-dispatched calls feed the profiler.
func (m *Machine) callFunction(name string, args []Value) (Value, error) {
	if entry := m.jit.cache.Get(name); entry != nil {
		return m.enterCompiled(entry, args)
	}
	chunk := m.chunks[name]
	if chunk == nil {
		return None, undefinedFunction(name)
	}
	if len(args) != chunk.Arity() {
		return None, &RuntimeError{
			Kind:   ErrTypeMismatch,
			Op:     "call",
			Detail: fmt.Sprintf("%s expects %d arguments, got %d", name, chunk.Arity(), len(args)),
		}
	}
	if m.jit.Enabled() && !m.jit.FunctionBlocked(name) && m.profiler.RecordCall(name) {
		if entry, err := m.jit.CompileFunction(chunk); err == nil {
			return m.enterCompiled(entry, args)
		}
		// Failure is logged, blacklisted and otherwise invisible.
	}
	return m.enterInterpreted(chunk, args)
}

// enter bumps the recursion counter, enforcing the limit. Every call
// path, interpreted or compiled, goes through enter/leave exactly once.
func (m *Machine) enter() error {
	m.depth++
	if m.depth > m.maxDepth {
		m.maxDepth = m.depth
	}
	if m.limit > 0 && m.depth > m.limit {
		m.depth--
		return &RuntimeError{
			Kind:   ErrRecursionLimit,
			Op:     "call",
			Detail: fmt.Sprintf("limit %d", m.limit),
		}
	}
	return nil
}

func (m *Machine) leave() {
	m.depth--
}

func (m *Machine) enterCompiled(entry *CompiledEntry, args []Value) (Value, error) {
	if len(args) != entry.Arity {
		return None, &RuntimeError{
			Kind:   ErrTypeMismatch,
			Op:     "call",
			Detail: fmt.Sprintf("%s expects %d arguments, got %d", entry.Name, entry.Arity, len(args)),
		}
	}
	if err := m.enter(); err != nil {
		return None, err
	}
	m.jit.noteCompiledCall(entry.Name)
	result, err := entry.fn(m.ctx, args)
	m.leave()
	return result, err
}

func (m *Machine) enterInterpreted(c *Chunk, args []Value) (Value, error) {
	if err := m.enter(); err != nil {
		return None, err
	}
	m.pushFrame(c, args)
	result, err := m.runFrame()
	m.popFrame()
	m.leave()
	return result, err
}

// callNative dispatches a builtin.
func (m *Machine) callNative(name string, args []Value) (Value, error) {
	fn := m.natives[name]
	if fn == nil {
		return None, undefinedFunction(name)
	}
	return fn(m, args)
}
