package vm

import (
	"github.com/tliron/commonlog"
)

// jitLog is the diagnostic stream for adaptive compilation. It is
// silent unless the host configures a commonlog backend and the
// machine's trace flag (or KILN_JIT_TRACE) is set.
var jitLog = commonlog.GetLogger("kiln.jit")

// ---------------------------------------------------------------------------
// Adaptive compiler
// ---------------------------------------------------------------------------

// JIT connects the profiler's hotness decisions to the translators and
// owns the compiled-code registries. Compilation is synchronous: the
// call or iteration that crosses a threshold blocks for the attempt and
// then proceeds, through native code on success or the interpreter on
// failure.
//
// Failure policy is retry-never: a function or loop that fails
// translation is blacklisted for the process lifetime. Counters are
// monotonic so a threshold cannot re-fire anyway; the blacklist makes
// the policy explicit and keeps failed candidates out of later host
// compile requests.
type JIT struct {
	m     *Machine
	cache *CodeCache
	loops map[loopRef]*CompiledLoop

	blockedFunctions map[string]bool
	blockedLoops     map[loopRef]bool

	enabled bool
	trace   bool
	stats   JITStats
}

// loopRef identifies a loop by chunk identity, not name. Chunks run via
// Machine.Run are not registered and may share a name (or have none);
// name-keyed caching would dispatch one chunk's compiled body inside
// another.
type loopRef struct {
	chunk  *Chunk
	header int
}

// JITStats holds adaptive-compilation statistics.
type JITStats struct {
	FunctionAttempts  uint64
	FunctionsCompiled uint64
	FunctionFailures  uint64
	LoopAttempts      uint64
	LoopsCompiled     uint64
	LoopFailures      uint64
	CompiledCalls     uint64 // dispatches through a native entry point
}

func newJIT(m *Machine, enabled, trace bool) *JIT {
	return &JIT{
		m:                m,
		cache:            NewCodeCache(),
		loops:            make(map[loopRef]*CompiledLoop),
		blockedFunctions: make(map[string]bool),
		blockedLoops:     make(map[loopRef]bool),
		enabled:          enabled,
		trace:            trace,
	}
}

// Enabled reports whether adaptive compilation is on.
func (j *JIT) Enabled() bool { return j.enabled }

// SetEnabled toggles adaptive compilation. Already-compiled entries
// remain in the cache and keep being dispatched.
func (j *JIT) SetEnabled(on bool) { j.enabled = on }

// Cache returns the compiled-function cache.
func (j *JIT) Cache() *CodeCache { return j.cache }

// Stats returns a snapshot of compilation statistics.
func (j *JIT) Stats() JITStats { return j.stats }

// FunctionBlocked reports whether a function is blacklisted.
func (j *JIT) FunctionBlocked(name string) bool {
	return j.blockedFunctions[name]
}

// LoopBlocked reports whether a loop header is blacklisted.
func (j *JIT) LoopBlocked(c *Chunk, header int) bool {
	return j.blockedLoops[loopRef{c, header}]
}

// LoopFor returns the compiled body for a loop header, or nil.
func (j *JIT) LoopFor(c *Chunk, header int) *CompiledLoop {
	return j.loops[loopRef{c, header}]
}

// loopCompiled reports whether any compiled loop lives at the given
// name and header. Profiling and persistence are name-keyed; this is
// the bridge back from those records to the identity-keyed registry.
func (j *JIT) loopCompiled(name string, header int) bool {
	for ref := range j.loops {
		if ref.header == header && ref.chunk.Name == name {
			return true
		}
	}
	return false
}

// CompileFunction attempts whole-function translation of a hot chunk.
// On success the entry is cached and returned; on failure the function
// is blacklisted, the failure is logged with its offset, and the error
// never reaches the running program.
func (j *JIT) CompileFunction(c *Chunk) (*CompiledEntry, error) {
	j.stats.FunctionAttempts++
	if j.trace {
		jitLog.Infof("hot function %q (calls=%d) machine=%s",
			c.Name, j.m.profiler.CallCount(c.Name), j.m.ID)
	}
	entry, err := translateFunction(c)
	if err != nil {
		j.stats.FunctionFailures++
		j.blockedFunctions[c.Name] = true
		if j.trace {
			jitLog.Infof("compile failed for %q: %v machine=%s", c.Name, err, j.m.ID)
		}
		return nil, err
	}
	j.cache.Put(entry)
	j.stats.FunctionsCompiled++
	if j.trace {
		jitLog.Infof("compiled function %q arity=%d machine=%s", c.Name, entry.Arity, j.m.ID)
	}
	return entry, nil
}

// CompileLoop attempts loop-body translation from a header to its
// backward branch. Same fallback contract as CompileFunction.
func (j *JIT) CompileLoop(c *Chunk, header, branchOffset int) (*CompiledLoop, error) {
	j.stats.LoopAttempts++
	ref := loopRef{c, header}
	if j.trace {
		jitLog.Infof("hot loop %q@%d (visits=%d) machine=%s",
			c.Name, header, j.m.profiler.LoopVisits(c.Name, header), j.m.ID)
	}
	cl, err := translateLoop(c, header, branchOffset)
	if err != nil {
		j.stats.LoopFailures++
		j.blockedLoops[ref] = true
		if j.trace {
			jitLog.Infof("loop compile failed for %q@%d: %v machine=%s", c.Name, header, err, j.m.ID)
		}
		return nil, err
	}
	j.loops[ref] = cl
	j.stats.LoopsCompiled++
	if j.trace {
		jitLog.Infof("compiled loop %q@%d span=%d machine=%s",
			c.Name, header, branchOffset-header, j.m.ID)
	}
	return cl, nil
}

// noteCompiledCall counts a dispatch through a native entry point.
func (j *JIT) noteCompiledCall(name string) {
	j.stats.CompiledCalls++
	if j.trace {
		jitLog.Debugf("native dispatch %q machine=%s", name, j.m.ID)
	}
}
