package vm

// Context is the handle through which compiled code reaches the shared
// Execution State. The slice headers returned here are live views of the
// machine's operand stack and locals region (base pointer, length,
// capacity), so compiled bodies observe and mutate exactly the state the
// interpreter does.
type Context struct {
	m *Machine
}

// Machine returns the owning machine, for cache lookups and the
// recursion counter.
func (c *Context) Machine() *Machine {
	return c.m
}

// Stack returns the live operand stack.
func (c *Context) Stack() []Value {
	return c.m.stack[:c.m.sp]
}

// Push pushes onto the shared operand stack.
func (c *Context) Push(v Value) {
	c.m.push(v)
}

// Pop pops from the shared operand stack.
func (c *Context) Pop() Value {
	return c.m.pop()
}

// Locals returns the live local-slot window of the current frame.
func (c *Context) Locals() []Value {
	f := &c.m.frames[c.m.fp-1]
	return c.m.locals[f.base : f.base+f.chunk.NumLocals]
}

// Global reads a global binding.
func (c *Context) Global(name string) (Value, bool) {
	v, ok := c.m.globals[name]
	return v, ok
}

// SetGlobal writes a global binding.
func (c *Context) SetGlobal(name string, v Value) {
	c.m.globals[name] = v
}
