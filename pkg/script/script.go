// Package script runs JavaScript statements and expressions as agent
// behaviors.
//
// Scripts are compiled once by an Engine and run on pooled goja runtimes.
// A Script is both a runtime.Executable and a runtime.Expression: as a
// statement its value is the one passed to ret(), or the completion value of
// the last expression; as an expression its value is the completion value.
// While a script runs it sees the scope it was called on through a small
// global API (temp, setTemp, local, attr, setAttr, self, brk, cont, ret,
// die).
package script

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/runtime"
)

// Engine compiles scripts and owns the runtime pool they run on.
type Engine struct {
	config Config
	pool   *VMPool
	logger *zap.Logger
}

// NewEngine creates an engine.
func NewEngine(config Config, logger *zap.Logger) (*Engine, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := NewVMPool(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create VM pool: %w", err)
	}
	return &Engine{config: config, pool: pool, logger: logger}, nil
}

// Compile parses source once. name identifies the script in traces and
// errors.
func (e *Engine) Compile(name, source string) (*Script, error) {
	program, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, newSyntaxError(name, err)
	}
	return &Script{engine: e, name: name, source: source, program: program}, nil
}

// MustCompile is like Compile but panics on syntax errors.
func (e *Engine) MustCompile(name, source string) *Script {
	s, err := e.Compile(name, source)
	if err != nil {
		panic(err)
	}
	return s
}

// Stats returns pool statistics.
func (e *Engine) Stats() PoolStats {
	return e.pool.Stats()
}

// Close releases the pooled runtimes.
func (e *Engine) Close() error {
	return e.pool.Close()
}

// Script is a compiled script.
type Script struct {
	engine  *Engine
	name    string
	source  string
	program *goja.Program
}

// Name returns the name given at compile time.
func (sc *Script) Name() string   { return sc.name }
func (sc *Script) Source() string { return sc.source }

// Trace describes the script in execution traces.
func (sc *Script) Trace(s *runtime.Scope) string {
	return "script " + sc.name
}

// ExecuteOn runs the script as a statement of s.
func (sc *Script) ExecuteOn(s *runtime.Scope) (any, error) {
	if err := s.SetCurrentSymbol(sc); err != nil {
		return nil, err
	}
	return sc.run(s)
}

// Value evaluates the script as an expression on s.
func (sc *Script) Value(s *runtime.Scope) (any, error) {
	return sc.run(s)
}

func (sc *Script) run(s *runtime.Scope) (result any, err error) {
	if s == nil {
		return nil, errNoScope
	}
	if s.Disposed() {
		return nil, runtime.ErrScopeDisposed
	}

	timeout := sc.engine.config.Timeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	vm, err := sc.engine.pool.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire VM: %w", err)
	}
	defer sc.engine.pool.release(vm)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			vm.vm.Interrupt("execution timeout")
		case <-done:
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &Error{Type: ErrorTypeInternal, Script: sc.name, Message: fmt.Sprintf("panic during execution: %v", r)}
		}
	}()

	vm.api.bind(s)
	start := time.Now()
	value, runErr := vm.vm.RunProgram(sc.program)
	elapsed := time.Since(start)

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, newTimeoutError(sc.name, ctx.Err())
		}
		return nil, wrapRunError(sc.name, runErr)
	}

	if elapsed > timeout/2 {
		sc.engine.logger.Debug("Slow script",
			zap.String("script", sc.name),
			zap.Duration("elapsed", elapsed),
			zap.Duration("timeout", timeout))
	}

	if vm.api.returned {
		return vm.api.value, nil
	}
	return export(value), nil
}

var (
	_ runtime.Executable = (*Script)(nil)
	_ runtime.Expression = (*Script)(nil)
	_ runtime.Symbol     = (*Script)(nil)
)
