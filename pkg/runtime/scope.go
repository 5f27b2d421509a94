package runtime

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Scope is the execution facade used by agents and statements. It owns one
// chain of variable frames and one chain of agent frames.
type Scope struct {
	name string
	root TopLevelAgent

	mu     sync.Mutex // guards agents
	agents *AgentContext

	execution *ExecutionContext
	flow      Flow

	trace          bool
	errorsDisabled bool
	tryMode        bool

	data *additionalData

	logger    *zap.Logger
	benchmark Benchmark
	policy    ErrorPolicy
	fatal     FatalHandler
}

// ScopeOption configures a Scope.
type ScopeOption func(*Scope)

// WithLogger sets the logger used for tracing and diagnostics.
func WithLogger(logger *zap.Logger) ScopeOption {
	return func(s *Scope) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBenchmark sets the benchmark hook wrapped around Init and Step.
func WithBenchmark(b Benchmark) ScopeOption {
	return func(s *Scope) {
		if b != nil {
			s.benchmark = b
		}
	}
}

// WithPolicy sets the error policy.
func WithPolicy(p ErrorPolicy) ScopeOption {
	return func(s *Scope) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithFatalHandler sets the handler of resource exhaustion failures.
func WithFatalHandler(h FatalHandler) ScopeOption {
	return func(s *Scope) {
		if h != nil {
			s.fatal = h
		}
	}
}

// WithGUI sets the GUI collaborator.
func WithGUI(g GUI) ScopeOption {
	return func(s *Scope) {
		if g != nil {
			s.data.gui = g
		}
	}
}

// WithTrace enables execution tracing.
func WithTrace(enabled bool) ScopeOption {
	return func(s *Scope) {
		s.trace = enabled
	}
}

// NewScope creates a scope. A non-nil root anchors the agent chain.
func NewScope(root TopLevelAgent, name string, opts ...ScopeOption) *Scope {
	s := &Scope{
		name:      name,
		root:      root,
		execution: NewExecutionContext(),
		data:      &additionalData{gui: NullGUI{}},
		logger:    zap.NewNop(),
		benchmark: NoOpBenchmark{},
		policy:    LoggingPolicy{},
		fatal:     logFatal,
	}
	if root != nil {
		s.agents = newAgentContext(root, nil)
		if name == "" {
			s.name = root.Name()
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func logFatal(s *Scope, err error) {
	s.Logger().Error("Fatal failure",
		zap.String("scope", s.Name()),
		zap.String("code", ErrorCode(err)),
		zap.Error(err))
}

// Name returns the scope name.
func (s *Scope) Name() string { return s.name }

// Root returns the top-level agent owning the scope.
func (s *Scope) Root() TopLevelAgent { return s.root }

// Logger returns the scope logger.
func (s *Scope) Logger() *zap.Logger { return s.logger }

// Agent returns the current agent, nil when the chain is empty.
func (s *Scope) Agent() Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agents.Agent()
}

// AgentDepth returns the number of agent frames.
func (s *Scope) AgentDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agents == nil {
		return 0
	}
	return s.agents.Depth() + 1
}

func (s *Scope) agentName() string {
	if a := s.Agent(); a != nil {
		return a.Name()
	}
	return ""
}

// Err returns ErrScopeDisposed once the scope is cleared, nil before.
func (s *Scope) Err() error {
	if s.flow.Disposed() {
		return ErrScopeDisposed
	}
	return nil
}

// disposed logs op against a cleared scope and returns ErrScopeDisposed.
func (s *Scope) disposed(op string) error {
	s.logger.Warn("Operation on disposed scope",
		zap.String("scope", s.name),
		zap.String("operation", op),
		zap.String("code", ErrorCode(ErrScopeDisposed)))
	return ErrScopeDisposed
}

// Push makes agent current. It reports false, creating no frame, when agent
// is nil, already current, or the scope is disposed; Err tells the last case
// apart. When the chain is empty the agent anchors it and, if top-level,
// becomes the root.
func (s *Scope) Push(agent Agent) bool {
	if agent == nil {
		return false
	}
	if s.flow.Disposed() {
		_ = s.disposed("push")
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agents == nil {
		s.agents = newAgentContext(agent, nil)
		if top, ok := agent.(TopLevelAgent); ok {
			s.root = top
		}
		return true
	}
	if s.agents.agent == agent {
		return false
	}
	s.agents = newAgentContext(agent, s.agents)
	return true
}

// Pop removes the most recent agent frame and consumes a pending Die.
func (s *Scope) Pop(agent Agent) error {
	if s.flow.Disposed() {
		return s.disposed("pop")
	}
	s.mu.Lock()
	top := s.agents
	if top == nil {
		s.mu.Unlock()
		s.logger.Debug("Pop on empty agent chain", zap.String("scope", s.name))
		return nil
	}
	s.agents = top.outer
	top.Dispose()
	s.mu.Unlock()
	s.flow.TakeIf(Die)
	return nil
}

// ExecutionContext returns the current variable frame, nil once disposed.
func (s *Scope) ExecutionContext() *ExecutionContext { return s.execution }

// TempVar looks a temporary variable up from the current frame outward. A
// disposed scope binds nothing; the lookup is logged and Err reports it.
func (s *Scope) TempVar(name string) (any, bool) {
	if s.execution == nil || s.flow.Disposed() {
		_ = s.disposed("temp_var")
		return nil, false
	}
	return s.execution.TempVar(name)
}

// SetTempVar assigns a temporary variable where it is bound, or in the
// current frame.
func (s *Scope) SetTempVar(name string, value any) error {
	if s.execution == nil || s.flow.Disposed() {
		return s.disposed("set_temp_var")
	}
	s.execution.SetTempVar(name, value)
	return nil
}

// PutLocal binds a variable in the current frame.
func (s *Scope) PutLocal(name string, value any) error {
	if s.execution == nil || s.flow.Disposed() {
		return s.disposed("put_local")
	}
	s.execution.PutLocal(name, value)
	return nil
}

// Local returns a binding of the current frame.
func (s *Scope) Local(name string) (any, bool) {
	if s.execution == nil || s.flow.Disposed() {
		_ = s.disposed("local")
		return nil, false
	}
	return s.execution.Local(name)
}

// RemoveLocal unbinds a variable of the current frame.
func (s *Scope) RemoveLocal(name string) error {
	if s.execution == nil || s.flow.Disposed() {
		return s.disposed("remove_local")
	}
	s.execution.RemoveLocal(name)
	return nil
}

// Locals returns a copy of the current frame bindings.
func (s *Scope) Locals() map[string]any {
	if s.execution == nil || s.flow.Disposed() {
		return map[string]any{}
	}
	return s.execution.Locals()
}

// ClearLocals drops the current frame bindings.
func (s *Scope) ClearLocals() error {
	if s.execution == nil || s.flow.Disposed() {
		return s.disposed("clear_locals")
	}
	s.execution.ClearLocals()
	return nil
}

// CurrentSymbol returns the symbol of the current frame.
func (s *Scope) CurrentSymbol() Symbol {
	if s.execution == nil || s.flow.Disposed() {
		return nil
	}
	return s.execution.Symbol()
}

// SetCurrentSymbol attaches symbol to the current frame and, when tracing,
// logs it indented by the frame depth.
func (s *Scope) SetCurrentSymbol(symbol Symbol) error {
	if s.execution == nil || s.flow.Disposed() {
		return s.disposed("set_current_symbol")
	}
	if s.trace && symbol != nil {
		depth := s.execution.Depth()
		s.logger.Info(strings.Repeat("  ", depth)+symbol.Trace(s),
			zap.String("scope", s.name),
			zap.Int("depth", depth))
	}
	s.execution.SetSymbol(symbol)
	return nil
}

// PushSymbol opens a child frame for symbol.
func (s *Scope) PushSymbol(symbol Symbol) error {
	if s.execution == nil || s.flow.Disposed() {
		return s.disposed("push_symbol")
	}
	s.execution = s.execution.CreateChild(nil)
	return s.SetCurrentSymbol(symbol)
}

// PopSymbol closes the current frame. The root frame is never closed.
func (s *Scope) PopSymbol(symbol Symbol) error {
	if s.execution == nil || s.flow.Disposed() {
		return s.disposed("pop_symbol")
	}
	if s.execution.Outer() == nil {
		s.logger.Debug("Pop on root execution frame", zap.String("scope", s.name))
		return nil
	}
	closed := s.execution
	s.execution = closed.Outer()
	closed.Dispose()
	return nil
}

// FlowStatus returns the pending control-flow status.
func (s *Scope) FlowStatus() FlowStatus { return s.flow.Status() }

// Interrupted reports whether any control-flow status is pending.
func (s *Scope) Interrupted() bool { return s.flow.Interrupted() }

// Disposed reports whether the scope was cleared.
func (s *Scope) Disposed() bool { return s.flow.Disposed() }

// SetBreakStatus leaves the enclosing loop or behavior sequence.
func (s *Scope) SetBreakStatus() { s.flow.Set(Break) }

// SetReturnStatus leaves the enclosing statement block.
func (s *Scope) SetReturnStatus() { s.flow.Set(Return) }

// SetContinueStatus skips to the next iteration.
func (s *Scope) SetContinueStatus() { s.flow.Set(Continue) }

// SetDeathStatus marks the current agent as dying. Popping the agent
// consumes it.
func (s *Scope) SetDeathStatus() { s.flow.Set(Die) }

// SetDisposeStatus disposes the scope's flow for good; nothing clears it.
func (s *Scope) SetDisposeStatus() { s.flow.Set(Dispose) }

// GetAndClearBreakStatus returns the pending status, clearing it if it is Break.
func (s *Scope) GetAndClearBreakStatus() FlowStatus { return s.flow.TakeIf(Break) }

// GetAndClearReturnStatus returns the pending status, clearing it if it is Return.
func (s *Scope) GetAndClearReturnStatus() FlowStatus { return s.flow.TakeIf(Return) }

// GetAndClearContinueStatus returns the pending status, clearing it if it is Continue.
func (s *Scope) GetAndClearContinueStatus() FlowStatus { return s.flow.TakeIf(Continue) }

// GetAndClearDeathStatus returns the pending status, clearing it if it is Die.
func (s *Scope) GetAndClearDeathStatus() FlowStatus { return s.flow.TakeIf(Die) }

// EnableTrace logs every symbol set on the scope, indented by frame depth.
func (s *Scope) EnableTrace() { s.trace = true }

// DisableTrace stops symbol tracing.
func (s *Scope) DisableTrace() { s.trace = false }

// IsTracing reports whether symbols are traced.
func (s *Scope) IsTracing() bool {
	return s.trace
}

// DisableErrorReporting stops errors from being surfaced to the GUI. File
// errors are still returned to callers.
func (s *Scope) DisableErrorReporting() { s.errorsDisabled = true }

// EnableErrorReporting surfaces errors to the GUI again.
func (s *Scope) EnableErrorReporting() { s.errorsDisabled = false }

// ReportsErrors reports whether errors are surfaced.
func (s *Scope) ReportsErrors() bool { return !s.errorsDisabled }

// EnableTryMode makes Init and Step return runtime errors to the caller
// without consulting the policy.
func (s *Scope) EnableTryMode() { s.tryMode = true }

// DisableTryMode hands runtime errors back to the policy.
func (s *Scope) DisableTryMode() { s.tryMode = false }

// IsInTryMode reports whether try mode is on.
func (s *Scope) IsInTryMode() bool {
	return s.tryMode
}

// GUI returns the GUI collaborator.
func (s *Scope) GUI() GUI { return s.data.gui }

// SetGUI replaces the GUI collaborator.
func (s *Scope) SetGUI(g GUI) {
	if g == nil {
		g = NullGUI{}
	}
	s.data.gui = g
}

// Topology, SetTopology, Types and SetTypes hold model data shared by every
// copy of the scope.
func (s *Scope) Topology() any            { return s.data.topology }
func (s *Scope) SetTopology(topology any) { s.data.topology = topology }
func (s *Scope) Types() any               { return s.data.types }
func (s *Scope) SetTypes(types any)       { s.data.types = types }

// Graphics returns the renderer handle of a scope made by CopyForGraphics.
func (s *Scope) Graphics() any { return s.data.graphics }

// LastError returns the most recent runtime error handled by this scope.
func (s *Scope) LastError() *RuntimeError { return s.data.lastError }

// Data returns a free-form value stored on the scope.
func (s *Scope) Data(key string) (any, bool) {
	v, ok := s.data.values[key]
	return v, ok
}

// SetData stores a free-form value on the scope.
func (s *Scope) SetData(key string, value any) {
	if s.data.values == nil {
		s.data.values = make(map[string]any)
	}
	s.data.values[key] = value
}

// Benchmark returns the benchmark hook.
func (s *Scope) Benchmark() Benchmark { return s.benchmark }

// SetBenchmark replaces the benchmark hook; nil disables measuring.
func (s *Scope) SetBenchmark(b Benchmark) {
	if b == nil {
		b = NoOpBenchmark{}
	}
	s.benchmark = b
}

// Policy returns the error policy.
func (s *Scope) Policy() ErrorPolicy { return s.policy }

// SetPolicy replaces the error policy.
func (s *Scope) SetPolicy(p ErrorPolicy) {
	if p == nil {
		p = LoggingPolicy{}
	}
	s.policy = p
}

// Copy returns an independent scope for a parallel branch. Both chains are
// copied, the root and collaborators are shared, the trace and error
// reporting flags are inherited, try mode and the flow status are not.
func (s *Scope) Copy(name string) *Scope {
	s.mu.Lock()
	agents := s.agents.CreateCopy()
	s.mu.Unlock()

	execution := s.execution.CreateCopy()
	if execution == nil {
		execution = NewExecutionContext()
	}

	copyName := s.name
	if name != "" {
		copyName = s.name + "/" + name
	}

	cp := &Scope{
		name:           copyName,
		root:           s.root,
		agents:         agents,
		execution:      execution,
		trace:          s.trace,
		errorsDisabled: s.errorsDisabled,
		data:           s.data.copy(),
		logger:         s.logger,
		benchmark:      s.benchmark,
		policy:         s.policy,
		fatal:          s.fatal,
	}
	if s.Disposed() {
		cp.flow.Set(Dispose)
	}
	return cp
}

// CopyForGraphics returns a copy carrying a renderer handle.
func (s *Scope) CopyForGraphics(graphics any) *Scope {
	cp := s.Copy("graphics")
	cp.data.graphics = graphics
	return cp
}

// Clear releases both chains and disposes the scope. Every operation fails
// with ErrScopeDisposed afterwards.
func (s *Scope) Clear() {
	s.flow.Set(Dispose)

	s.mu.Lock()
	for f := s.agents; f != nil; {
		outer := f.Outer()
		f.Dispose()
		f = outer
	}
	s.agents = nil
	s.mu.Unlock()

	for f := s.execution; f != nil; {
		outer := f.Outer()
		f.Dispose()
		f = outer
	}
	s.execution = nil
	s.data.clear()
}
