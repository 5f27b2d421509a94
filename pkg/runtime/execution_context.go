package runtime

import "maps"

// ExecutionContext is one frame of temporary variable bindings. Frames link
// outward and form a strict stack per Scope.
type ExecutionContext struct {
	symbol Symbol
	locals map[string]any
	outer  *ExecutionContext
	depth  int
}

// NewExecutionContext creates a root frame.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{}
}

// CreateChild creates a frame nested in c and attached to symbol.
func (c *ExecutionContext) CreateChild(symbol Symbol) *ExecutionContext {
	return &ExecutionContext{symbol: symbol, outer: c, depth: c.depth + 1}
}

// Outer returns the enclosing frame, nil for the root.
func (c *ExecutionContext) Outer() *ExecutionContext {
	return c.outer
}

// Depth returns the number of frames between c and the root.
func (c *ExecutionContext) Depth() int {
	return c.depth
}

// Symbol returns the symbol attached to this frame.
func (c *ExecutionContext) Symbol() Symbol {
	return c.symbol
}

// SetSymbol attaches symbol to this frame.
func (c *ExecutionContext) SetSymbol(symbol Symbol) {
	c.symbol = symbol
}

// TempVar looks name up from this frame outward.
func (c *ExecutionContext) TempVar(name string) (any, bool) {
	for f := c; f != nil; f = f.outer {
		if v, ok := f.locals[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// SetTempVar assigns name in the nearest frame that binds it, or binds it in
// this frame when no frame does.
func (c *ExecutionContext) SetTempVar(name string, value any) {
	for f := c; f != nil; f = f.outer {
		if _, ok := f.locals[name]; ok {
			f.locals[name] = value
			return
		}
	}
	c.PutLocal(name, value)
}

// PutLocal binds name in this frame, shadowing outer bindings.
func (c *ExecutionContext) PutLocal(name string, value any) {
	if c.locals == nil {
		c.locals = make(map[string]any)
	}
	c.locals[name] = value
}

// Local returns the binding of name in this frame only.
func (c *ExecutionContext) Local(name string) (any, bool) {
	v, ok := c.locals[name]
	return v, ok
}

// HasLocal reports whether this frame binds name.
func (c *ExecutionContext) HasLocal(name string) bool {
	_, ok := c.locals[name]
	return ok
}

// RemoveLocal unbinds name from this frame.
func (c *ExecutionContext) RemoveLocal(name string) {
	delete(c.locals, name)
}

// Locals returns a copy of this frame's bindings.
func (c *ExecutionContext) Locals() map[string]any {
	if len(c.locals) == 0 {
		return map[string]any{}
	}
	return maps.Clone(c.locals)
}

// ClearLocals drops every binding of this frame.
func (c *ExecutionContext) ClearLocals() {
	clear(c.locals)
}

// CreateCopy copies the chain from c outward. Values are shared; maps are not.
func (c *ExecutionContext) CreateCopy() *ExecutionContext {
	if c == nil {
		return nil
	}
	cp := &ExecutionContext{symbol: c.symbol, depth: c.depth, outer: c.outer.CreateCopy()}
	if len(c.locals) > 0 {
		cp.locals = maps.Clone(c.locals)
	}
	return cp
}

// Dispose releases the frame's bindings. The frame must not be used after.
func (c *ExecutionContext) Dispose() {
	c.locals = nil
	c.symbol = nil
	c.outer = nil
}
