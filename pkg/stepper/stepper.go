// Package stepper steps the agents of one simulation cycle.
//
// In parallel mode each agent runs on its own copy of the caller's scope, so
// flow statuses and temporaries never leak between agents, and a Gate bounds
// how many steps run at once. Results come back in the order of the agents.
// Sequential mode steps the agents one after another on the caller's scope.
package stepper

import (
	"context"
	"errors"
	goruntime "runtime"

	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/concurrency"
	"github.com/wehubfusion/Talos/pkg/runtime"
)

// Stepper steps batches of agents.
type Stepper struct {
	config Config
	gate   *concurrency.Gate
	logger *zap.Logger
}

// New creates a stepper. gate may be nil.
func New(config Config, gate *concurrency.Gate, logger *zap.Logger) *Stepper {
	config.Validate()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stepper{config: config, gate: gate, logger: logger}
}

// Config returns the stepping configuration.
func (s *Stepper) Config() Config {
	return s.config
}

// Step steps agents on behalf of scope and returns one result per agent, in
// order. The returned error is the first step error in agent order; with
// StopOnFirstError the agents not yet started are skipped with
// context.Canceled.
func (s *Stepper) Step(ctx context.Context, scope *runtime.Scope, agents []runtime.Agent) ([]Result, error) {
	if scope == nil {
		return nil, errors.New("scope cannot be nil")
	}
	if scope.Disposed() {
		return nil, runtime.ErrScopeDisposed
	}
	if len(agents) == 0 {
		return nil, nil
	}

	if s.config.Mode == concurrency.StepModeSequential || len(agents) == 1 {
		return s.stepSequential(ctx, scope, agents)
	}
	return s.stepParallel(ctx, scope, agents)
}

func (s *Stepper) stepSequential(ctx context.Context, scope *runtime.Scope, agents []runtime.Agent) ([]Result, error) {
	results := make([]Result, len(agents))
	var firstErr error
	for i, agent := range agents {
		results[i] = Result{Index: i, Result: runtime.Failed}
		if err := ctx.Err(); err != nil {
			results[i].Error = err
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if firstErr != nil && s.config.StopOnFirstError {
			results[i].Error = context.Canceled
			continue
		}

		res, err := scope.Step(agent)
		results[i] = Result{Index: i, Result: res, Error: err}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}

func (s *Stepper) stepParallel(ctx context.Context, scope *runtime.Scope, agents []runtime.Agent) ([]Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	items := make([]Item, len(agents))
	for i, agent := range agents {
		items[i] = Item{Index: i, Agent: agent}
	}

	config := s.config
	if config.Workers <= 0 {
		config.Workers = goruntime.NumCPU()
	}
	config.Workers = min(config.Workers, len(items))

	pool := NewPool(config, scope, s.gate, s.logger)
	pool.Start(ctx)
	go pool.SubmitAll(ctx, items)

	var stop context.CancelFunc
	if s.config.StopOnFirstError {
		stop = cancel
	}
	results, err := Collect(pool.Results(), len(items), stop)
	pool.Wait()

	processed, failed := pool.Stats()
	s.logger.Debug("Stepped agents",
		zap.String("scope", scope.Name()),
		zap.Int64("processed", processed),
		zap.Int64("failed", failed))
	return results, err
}
