package runtime

import "go.uber.org/zap"

// Stepable is anything the runtime can initialize and step: an agent, a
// population, a behavior.
type Stepable interface {
	Init(s *Scope) (any, error)
	Step(s *Scope) (any, error)
}

// Agent is a simulated entity as seen by the runtime.
type Agent interface {
	Stepable

	// Name identifies the agent in diagnostics.
	Name() string

	// Dead reports whether the agent has died or been disposed.
	Dead() bool

	// Attribute returns the value of an attribute.
	Attribute(name string) (any, bool)

	// SetAttribute assigns an attribute.
	SetAttribute(name string, value any)

	// Population returns the agent's owning population (opaque to the runtime).
	Population() any

	// Topology returns the agent's topology (opaque to the runtime).
	Topology() any

	// Scope returns the agent's own scope, or nil when it has none.
	Scope() *Scope
}

// TopLevelAgent roots a scope: the platform, an experiment or a simulation.
// Top-level agents own a clock.
type TopLevelAgent interface {
	Agent

	// Cycle returns the number of steps completed by this agent.
	Cycle() int
}

// Executable is a compiled statement.
type Executable interface {
	ExecuteOn(s *Scope) (any, error)
}

// Expression is a compiled pure computation.
type Expression interface {
	Value(s *Scope) (any, error)
}

// ArgumentsReceiver is implemented by executables that bind call arguments
// themselves, inside their own frame.
type ArgumentsReceiver interface {
	SetRuntimeArgs(s *Scope, args *Arguments)
}

// Symbol is a statement or expression attached to an execution frame.
type Symbol interface {
	// Name identifies the symbol in diagnostics.
	Name() string

	// Trace returns the line written when execution tracing is enabled.
	Trace(s *Scope) string
}

// Stopwatch records the elapsed time of one unit of work when stopped.
type Stopwatch interface {
	Stop()
}

// Benchmark measures named units of work run on a scope.
type Benchmark interface {
	Start(s *Scope, unit any) Stopwatch
}

// GUI surfaces status and errors to a user.
type GUI interface {
	// RuntimeError shows a runtime error.
	RuntimeError(s *Scope, err *RuntimeError)

	// Status shows a status message.
	Status(s *Scope, message string)

	// Confirm asks the user to approve an action.
	Confirm(title, message string) bool
}

// ErrorPolicy decides what happens to a runtime error. A non-nil return must
// be propagated to the caller; nil means execution may continue.
type ErrorPolicy interface {
	ReportAndThrowIfNeeded(s *Scope, err *RuntimeError, shouldStop bool) error
}

// FatalHandler receives failures caused by resource exhaustion.
type FatalHandler func(s *Scope, err error)

// NoOpBenchmark measures nothing.
type NoOpBenchmark struct{}

type noOpStopwatch struct{}

func (noOpStopwatch) Stop() {}

func (NoOpBenchmark) Start(s *Scope, unit any) Stopwatch { return noOpStopwatch{} }

// NullGUI shows nothing and approves everything.
type NullGUI struct{}

func (NullGUI) RuntimeError(s *Scope, err *RuntimeError) {}
func (NullGUI) Status(s *Scope, message string)          {}
func (NullGUI) Confirm(title, message string) bool       { return true }

// LoggingPolicy logs runtime errors and never asks callers to stop.
type LoggingPolicy struct{}

// ReportAndThrowIfNeeded logs err on the scope logger.
func (LoggingPolicy) ReportAndThrowIfNeeded(s *Scope, err *RuntimeError, shouldStop bool) error {
	if err.Reported() {
		return nil
	}
	if s.ReportsErrors() {
		s.GUI().RuntimeError(s, err)
	}
	err.MarkReported()
	s.Logger().Warn("Runtime error",
		zap.String("scope", s.Name()),
		zap.String("agent", err.AgentName),
		zap.String("code", ErrorCode(err)),
		zap.Error(err))
	return nil
}

var (
	_ Benchmark   = NoOpBenchmark{}
	_ GUI         = NullGUI{}
	_ ErrorPolicy = LoggingPolicy{}
)
