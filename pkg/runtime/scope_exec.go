package runtime

import (
	talosErrors "github.com/wehubfusion/Talos/pkg/errors"
	"go.uber.org/zap"
)

const (
	phaseInit     = "init"
	phaseStep     = "step"
	phaseExecute  = "execute"
	phaseEvaluate = "evaluate"
)

// Init initializes st. When st is an agent it becomes current for the call.
func (s *Scope) Init(st Stepable) (ExecutionResult, error) {
	return s.run(phaseInit, st, st.Init)
}

// Step steps st. When st is an agent it becomes current for the call.
func (s *Scope) Step(st Stepable) (ExecutionResult, error) {
	return s.run(phaseStep, st, st.Step)
}

// run is the failure boundary shared by Init and Step: it measures the call,
// recovers panics and routes every failure to the fatal handler or the
// error policy.
func (s *Scope) run(phase string, st Stepable, call func(*Scope) (any, error)) (result ExecutionResult, err error) {
	if s.Disposed() {
		return Failed, ErrScopeDisposed
	}
	if st == nil {
		return Failed, nil
	}
	agent, isAgent := st.(Agent)
	if !isAgent {
		agent = s.Agent()
	}
	if agent == nil || agent.Dead() || s.Interrupted() {
		return Failed, nil
	}

	if s.Push(agent) {
		defer s.Pop(agent)
	}

	watch := s.benchmark.Start(s, st)
	defer watch.Stop()

	defer func() {
		if r := recover(); r != nil {
			result, err = Failed, s.fail(phase, panicError(r))
		}
	}()

	value, callErr := call(s)
	if callErr != nil {
		return Failed, s.fail(phase, callErr)
	}
	return Pass(value), nil
}

// fail handles a failure raised inside Init or Step. The returned error is
// what the caller must propagate.
func (s *Scope) fail(phase string, cause error) error {
	if talosErrors.IsFatal(cause) {
		s.fatal(s, cause)
		return nil
	}
	rerr := AsRuntimeError(cause, s.agentName(), phase)
	return s.handle(rerr, true)
}

// handle applies try mode, the file error rule and the policy to rerr.
func (s *Scope) handle(rerr *RuntimeError, shouldStop bool) error {
	s.data.lastError = rerr
	if s.tryMode {
		return rerr
	}
	policyErr := s.policy.ReportAndThrowIfNeeded(s, rerr, shouldStop)
	if policyErr == nil && rerr.Kind == KindFile && !s.ReportsErrors() {
		return rerr
	}
	return policyErr
}

// ReportError hands an error raised outside Init and Step to the policy.
func (s *Scope) ReportError(err error, shouldStop bool) error {
	if err == nil {
		return nil
	}
	return s.handle(AsRuntimeError(err, s.agentName(), ""), shouldStop)
}

// Execute runs exec on behalf of target. When args is not nil the arguments
// are evaluated in the context of their caller (the current agent unless
// args names one) and bound in a frame around the call. With useTargetScope
// the executable runs on the target's own scope.
//
// Failures are normalized into *RuntimeError and returned; the enclosing
// Init or Step reports them.
func (s *Scope) Execute(exec Executable, target Agent, useTargetScope bool, args *Arguments) (ExecutionResult, error) {
	if s.Disposed() {
		return Failed, ErrScopeDisposed
	}
	if exec == nil || target == nil || target.Dead() || s.Interrupted() {
		return Failed, nil
	}

	caller := s.Agent()
	if s.Push(target) {
		defer s.Pop(target)
	}

	useScope := s
	if useTargetScope {
		if own := target.Scope(); own != nil && !own.Disposed() {
			useScope = own
		}
	}

	if args != nil && args.Caller == nil {
		args = args.withCaller(caller)
	}

	var (
		value any
		err   error
	)
	switch {
	case args == nil:
		value, err = exec.ExecuteOn(useScope)
	case isReceiver(exec):
		exec.(ArgumentsReceiver).SetRuntimeArgs(useScope, args)
		value, err = exec.ExecuteOn(useScope)
	default:
		value, err = useScope.executeWithFrame(exec, args)
	}
	if err != nil {
		return Failed, s.normalize(err, phaseExecute)
	}
	return Pass(value), nil
}

// executeWithFrame binds args in a child frame around exec. The frame is
// popped even when exec or an argument panics.
func (s *Scope) executeWithFrame(exec Executable, args *Arguments) (any, error) {
	s.PushSymbol(nil)
	defer s.PopSymbol(nil)
	if err := s.StackArguments(args); err != nil {
		return nil, err
	}
	return exec.ExecuteOn(s)
}

func isReceiver(exec Executable) bool {
	_, ok := exec.(ArgumentsReceiver)
	return ok
}

// Evaluate computes expr on behalf of agent.
func (s *Scope) Evaluate(expr Expression, agent Agent) (ExecutionResult, error) {
	if s.Disposed() {
		return Failed, ErrScopeDisposed
	}
	if expr == nil || agent == nil || agent.Dead() || s.Interrupted() {
		return Failed, nil
	}

	if s.Push(agent) {
		defer s.Pop(agent)
	}

	value, err := expr.Value(s)
	if err != nil {
		return Failed, s.normalize(err, phaseEvaluate)
	}
	return Pass(value), nil
}

func (s *Scope) normalize(err error, phase string) error {
	if talosErrors.IsDisposed(err) {
		return err
	}
	return AsRuntimeError(err, s.agentName(), phase)
}

// StackArguments evaluates each argument in order, with the declared caller
// current, and binds the values in the current frame.
func (s *Scope) StackArguments(args *Arguments) error {
	if args == nil {
		return nil
	}
	if s.Disposed() {
		return ErrScopeDisposed
	}
	if args.Caller != nil && s.Push(args.Caller) {
		defer s.Pop(args.Caller)
	}
	for _, arg := range args.list {
		if arg.Expr == nil {
			if err := s.PutLocal(arg.Name, nil); err != nil {
				return err
			}
			continue
		}
		value, err := arg.Expr.Value(s)
		if err != nil {
			s.logger.Debug("Argument evaluation failed",
				zap.String("scope", s.name),
				zap.String("argument", arg.Name),
				zap.Error(err))
			return err
		}
		if err := s.PutLocal(arg.Name, value); err != nil {
			return err
		}
	}
	return nil
}
