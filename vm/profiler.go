package vm

// ---------------------------------------------------------------------------
// Hot-path profiler
// ---------------------------------------------------------------------------

// loopKey identifies a loop by its owning chunk name and header offset.
type loopKey struct {
	chunk  string
	header int
}

// Profiler maintains the per-function call counters and per-loop-header
// visit counters that drive adaptive compilation. Counters are monotonic
// for the run and never reset, so a threshold is crossed at most once
// per function or loop.
type Profiler struct {
	callThreshold uint64
	loopThreshold uint64

	calls map[string]uint64
	loops map[loopKey]uint64

	hotFunctions uint64
	hotLoops     uint64
}

// NewProfiler creates a profiler with the given hotness thresholds.
// A zero threshold disables the corresponding trigger.
func NewProfiler(callThreshold, loopThreshold uint64) *Profiler {
	return &Profiler{
		callThreshold: callThreshold,
		loopThreshold: loopThreshold,
		calls:         make(map[string]uint64),
		loops:         make(map[loopKey]uint64),
	}
}

// RecordCall counts one interpreter-dispatched invocation. It returns
// true exactly when the count reaches the threshold, so each function
// produces at most one compile attempt.
func (p *Profiler) RecordCall(name string) bool {
	if p.callThreshold == 0 {
		return false
	}
	p.calls[name]++
	if p.calls[name] == p.callThreshold {
		p.hotFunctions++
		return true
	}
	return false
}

// RecordLoopVisit counts one backward branch to a loop header. Returns
// true exactly when the visit count reaches the threshold.
func (p *Profiler) RecordLoopVisit(chunk string, header int) bool {
	if p.loopThreshold == 0 {
		return false
	}
	key := loopKey{chunk, header}
	p.loops[key]++
	if p.loops[key] == p.loopThreshold {
		p.hotLoops++
		return true
	}
	return false
}

// CallCount returns the invocation count for a function.
func (p *Profiler) CallCount(name string) uint64 {
	return p.calls[name]
}

// LoopVisits returns the visit count for a loop header.
func (p *Profiler) LoopVisits(chunk string, header int) uint64 {
	return p.loops[loopKey{chunk, header}]
}

// ProfilerStats is a snapshot of profiling activity.
type ProfilerStats struct {
	TrackedFunctions int
	TrackedLoops     int
	HotFunctions     uint64
	HotLoops         uint64
}

// Stats returns a snapshot of the profiler's counters.
func (p *Profiler) Stats() ProfilerStats {
	return ProfilerStats{
		TrackedFunctions: len(p.calls),
		TrackedLoops:     len(p.loops),
		HotFunctions:     p.hotFunctions,
		HotLoops:         p.hotLoops,
	}
}

// snapshot hands the profile store a stable copy of all counters.
func (p *Profiler) snapshot() (map[string]uint64, map[loopKey]uint64) {
	calls := make(map[string]uint64, len(p.calls))
	for k, v := range p.calls {
		calls[k] = v
	}
	loops := make(map[loopKey]uint64, len(p.loops))
	for k, v := range p.loops {
		loops[k] = v
	}
	return calls, loops
}
