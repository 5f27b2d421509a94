package runtime

// Argument is one named argument of a call.
type Argument struct {
	Name string
	Expr Expression
}

// Arguments is an ordered list of named arguments evaluated in the context of
// their caller.
type Arguments struct {
	Caller Agent
	list   []Argument
}

// NewArguments creates an empty argument list.
func NewArguments(caller Agent) *Arguments {
	return &Arguments{Caller: caller}
}

// Add appends a named argument and returns the list for chaining.
func (a *Arguments) Add(name string, expr Expression) *Arguments {
	a.list = append(a.list, Argument{Name: name, Expr: expr})
	return a
}

// Len returns the number of arguments.
func (a *Arguments) Len() int {
	if a == nil {
		return 0
	}
	return len(a.list)
}

// All returns the arguments in declaration order.
func (a *Arguments) All() []Argument {
	if a == nil {
		return nil
	}
	return append([]Argument(nil), a.list...)
}

// withCaller returns a copy of a bound to caller.
func (a *Arguments) withCaller(caller Agent) *Arguments {
	return &Arguments{Caller: caller, list: a.list}
}

// Value is an Expression returning a constant.
type Value struct {
	V any
}

// Value returns the constant.
func (c Value) Value(s *Scope) (any, error) {
	return c.V, nil
}

// ExpressionFunc adapts a function to Expression.
type ExpressionFunc func(s *Scope) (any, error)

// Value calls f.
func (f ExpressionFunc) Value(s *Scope) (any, error) {
	return f(s)
}

// ExecutableFunc adapts a function to Executable.
type ExecutableFunc func(s *Scope) (any, error)

// ExecuteOn calls f.
func (f ExecutableFunc) ExecuteOn(s *Scope) (any, error) {
	return f(s)
}
