package vm

// ---------------------------------------------------------------------------
// Compiled-function cache
// ---------------------------------------------------------------------------

// CompiledFn is the fixed signature of compiled code: it takes the
// shared-state handle and the argument values, and returns the result
// in the full tagged Value encoding, so any tag survives the boundary.
type CompiledFn func(ctx *Context, args []Value) (Value, error)

// CompiledEntry is a cache entry: the native entry point plus the
// calling-convention metadata dispatch needs.
type CompiledEntry struct {
	Name      string
	Arity     int
	NumLocals int
	fn        CompiledFn
}

// Invoke runs the compiled body directly. Callers handle the recursion
// counter; this is the raw entry point.
func (e *CompiledEntry) Invoke(ctx *Context, args []Value) (Value, error) {
	return e.fn(ctx, args)
}

// CodeCache maps function names to compiled entry points. Entries are
// created only by successful compilation and never invalidated within a
// run; chunks are immutable, so a correct compiled body stays correct.
type CodeCache struct {
	entries map[string]*CompiledEntry
}

// NewCodeCache creates an empty cache.
func NewCodeCache() *CodeCache {
	return &CodeCache{entries: make(map[string]*CompiledEntry)}
}

// Get returns the entry for a function, or nil.
func (c *CodeCache) Get(name string) *CompiledEntry {
	return c.entries[name]
}

// Put registers a successful compilation.
func (c *CodeCache) Put(entry *CompiledEntry) {
	c.entries[entry.Name] = entry
}

// Contains reports whether a function is compiled.
func (c *CodeCache) Contains(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// Len returns the number of compiled functions.
func (c *CodeCache) Len() int {
	return len(c.entries)
}

// Names returns the names of all compiled functions.
func (c *CodeCache) Names() []string {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	return names
}
