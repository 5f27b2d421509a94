package runtime

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	talosErrors "github.com/wehubfusion/Talos/pkg/errors"
)

func TestStepShortCircuitsDeadAgent(t *testing.T) {
	s := NewScope(nil, "test")
	a := newTestAgent("a")
	a.dead = true

	res, err := s.Step(a)
	require.NoError(t, err)
	assert.False(t, res.Passed())
	assert.Nil(t, res.Value())
	assert.Equal(t, 0, a.Steps())
	assert.Equal(t, 0, s.AgentDepth())
}

func TestStepShortCircuitsInterruptedScope(t *testing.T) {
	s := NewScope(nil, "test")
	a := newTestAgent("a")
	s.SetReturnStatus()

	res, err := s.Step(a)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status())
	assert.Equal(t, 0, a.Steps())
}

func TestStepPushesAndPopsAgent(t *testing.T) {
	s := NewScope(nil, "test")
	a := newTestAgent("a")
	a.stepFn = func(s *Scope) (any, error) {
		return s.Agent().Name(), nil
	}

	res, err := s.Step(a)
	require.NoError(t, err)
	assert.True(t, res.Passed())
	assert.Equal(t, "a", res.Value())
	assert.Equal(t, 0, s.AgentDepth())
}

func TestStepDeathUnwindsOnlyOwnFrame(t *testing.T) {
	exp := newTestTopLevel("experiment")
	s := NewScope(exp, "test")
	a := newTestAgent("a")
	a.stepFn = func(s *Scope) (any, error) {
		s.SetDeathStatus()
		return nil, nil
	}

	_, err := s.Step(a)
	require.NoError(t, err)
	assert.False(t, s.Interrupted())
	assert.Same(t, exp, s.Agent())
}

func TestStepReportsErrorsToPolicy(t *testing.T) {
	policy := &recordingPolicy{}
	s := NewScope(nil, "test", WithPolicy(policy))
	a := newTestAgent("wolf")
	a.stepFn = func(s *Scope) (any, error) {
		return nil, fmt.Errorf("division by zero")
	}

	res, err := s.Step(a)
	require.NoError(t, err, "policy decided not to stop")
	assert.False(t, res.Passed())

	errs := policy.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "wolf", errs[0].AgentName)
	assert.Equal(t, "step", errs[0].Phase)
	assert.True(t, errs[0].Reported())
	assert.Same(t, errs[0], s.LastError())
}

func TestStepReturnsPolicyError(t *testing.T) {
	stop := errors.New("stop")
	s := NewScope(nil, "test", WithPolicy(&recordingPolicy{result: stop}))
	a := newTestAgent("a")
	a.stepFn = func(s *Scope) (any, error) { return nil, errors.New("boom") }

	_, err := s.Step(a)
	assert.ErrorIs(t, err, stop)
}

func TestStepRecoversPanics(t *testing.T) {
	policy := &recordingPolicy{}
	bench := &countingBenchmark{}
	s := NewScope(nil, "test", WithPolicy(policy), WithBenchmark(bench))
	a := newTestAgent("a")
	a.stepFn = func(s *Scope) (any, error) { panic("nil index") }

	res, err := s.Step(a)
	require.NoError(t, err)
	assert.False(t, res.Passed())
	require.Len(t, policy.Errors(), 1)
	assert.Contains(t, policy.Errors()[0].Error(), "nil index")
	assert.Equal(t, 0, s.AgentDepth(), "panicking agent must be popped")
	assert.Equal(t, 1, bench.started)
	assert.Equal(t, 1, bench.stopped)
}

func TestStepRoutesResourceExhaustionToFatalHandler(t *testing.T) {
	policy := &recordingPolicy{}
	var fatal []error
	s := NewScope(nil, "test", WithPolicy(policy), WithFatalHandler(func(s *Scope, err error) {
		fatal = append(fatal, err)
	}))

	returned := newTestAgent("returned")
	returned.stepFn = func(s *Scope) (any, error) {
		return nil, fmt.Errorf("allocating grid: %w", talosErrors.ErrResourceExhausted)
	}
	panicked := newTestAgent("panicked")
	panicked.initFn = func(s *Scope) (any, error) { panic(talosErrors.ErrResourceExhausted) }

	res, err := s.Step(returned)
	require.NoError(t, err)
	assert.False(t, res.Passed())

	res, err = s.Init(panicked)
	require.NoError(t, err)
	assert.False(t, res.Passed())

	assert.Len(t, fatal, 2)
	assert.Empty(t, policy.Errors())
}

func TestTryModeBypassesPolicy(t *testing.T) {
	policy := &recordingPolicy{}
	s := NewScope(nil, "test", WithPolicy(policy))
	s.EnableTryMode()
	a := newTestAgent("a")
	a.stepFn = func(s *Scope) (any, error) { return nil, errors.New("boom") }

	_, err := s.Step(a)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "a", rerr.AgentName)
	assert.Empty(t, policy.Errors())
}

func TestFileErrorsReturnedWhenReportingDisabled(t *testing.T) {
	s := NewScope(nil, "test")
	s.DisableErrorReporting()
	a := newTestAgent("reader")
	a.stepFn = func(s *Scope) (any, error) {
		return nil, &fs.PathError{Op: "open", Path: "grid.asc", Err: fs.ErrNotExist}
	}

	_, err := s.Step(a)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindFile, rerr.Kind)

	b := newTestAgent("plain")
	b.stepFn = func(s *Scope) (any, error) { return nil, errors.New("plain") }
	_, err = s.Step(b)
	assert.NoError(t, err)
}

func TestStepNonAgentUsesCurrentAgent(t *testing.T) {
	s := NewScope(nil, "test")
	behavior := behaviorFunc(func(s *Scope) (any, error) { return "ran", nil })

	res, err := s.Step(behavior)
	require.NoError(t, err)
	assert.False(t, res.Passed(), "no agent to act on")

	s.Push(newTestAgent("host"))
	res, err = s.Step(behavior)
	require.NoError(t, err)
	assert.Equal(t, "ran", res.Value())
}

// behaviorFunc is a behavior with no agent of its own.
type behaviorFunc func(s *Scope) (any, error)

func (f behaviorFunc) Init(s *Scope) (any, error) { return nil, nil }
func (f behaviorFunc) Step(s *Scope) (any, error) { return f(s) }

func TestExecuteBindsArgumentsInCallerContext(t *testing.T) {
	s := NewScope(nil, "test")
	caller := newTestAgent("caller")
	caller.attrs["energy"] = 7
	target := newTestAgent("target")
	s.Push(caller)

	energy := ExpressionFunc(func(s *Scope) (any, error) {
		v, _ := s.Agent().Attribute("energy")
		return v, nil
	})
	args := NewArguments(nil).Add("amount", energy).Add("label", Value{V: "gift"})

	exec := ExecutableFunc(func(s *Scope) (any, error) {
		amount, _ := s.TempVar("amount")
		label, _ := s.TempVar("label")
		return fmt.Sprintf("%s:%s:%v", s.Agent().Name(), label, amount), nil
	})

	res, err := s.Execute(exec, target, false, args)
	require.NoError(t, err)
	assert.Equal(t, "target:gift:7", res.Value())

	_, ok := s.TempVar("amount")
	assert.False(t, ok, "arguments must not leak into the caller frame")
	assert.Same(t, caller, s.Agent())
	assert.Nil(t, args.Caller, "argument list must not be mutated")
}

type receivingExec struct {
	args *Arguments
}

func (r *receivingExec) SetRuntimeArgs(s *Scope, args *Arguments) { r.args = args }
func (r *receivingExec) ExecuteOn(s *Scope) (any, error)           { return r.args.Len(), nil }

func TestExecuteHandsArgumentsToReceiver(t *testing.T) {
	s := NewScope(nil, "test")
	caller := newTestAgent("caller")
	s.Push(caller)
	exec := &receivingExec{}

	res, err := s.Execute(exec, newTestAgent("target"), false, NewArguments(nil).Add("x", Value{V: 1}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Value())
	assert.Same(t, caller, exec.args.Caller)
}

func TestExecuteOnTargetScope(t *testing.T) {
	s := NewScope(nil, "caller scope")
	target := newTestTopLevel("sim")
	target.scope = NewScope(target, "sim scope")

	exec := ExecutableFunc(func(s *Scope) (any, error) { return s.Name(), nil })

	res, err := s.Execute(exec, target, true, nil)
	require.NoError(t, err)
	assert.Equal(t, "sim scope", res.Value())

	res, err = s.Execute(exec, target, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "caller scope", res.Value())
}

func TestExecuteNormalizesErrors(t *testing.T) {
	policy := &recordingPolicy{}
	s := NewScope(nil, "test", WithPolicy(policy))
	target := newTestAgent("target")

	_, err := s.Execute(ExecutableFunc(func(s *Scope) (any, error) {
		return nil, errors.New("bad")
	}), target, false, nil)

	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "target", rerr.AgentName)
	assert.Equal(t, "execute", rerr.Phase)
	assert.Empty(t, policy.Errors(), "the enclosing step reports")
}

func TestExecuteErrorReportedOnceByEnclosingStep(t *testing.T) {
	policy := &recordingPolicy{}
	s := NewScope(nil, "test", WithPolicy(policy))
	target := newTestAgent("target")
	outer := newTestAgent("outer")
	outer.stepFn = func(s *Scope) (any, error) {
		_, err := s.Execute(ExecutableFunc(func(s *Scope) (any, error) {
			return nil, errors.New("inner failure")
		}), target, false, nil)
		return nil, err
	}

	_, err := s.Step(outer)
	require.NoError(t, err)
	errs := policy.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "target", errs[0].AgentName, "attribution stays with the failing agent")
}

func TestEvaluate(t *testing.T) {
	s := NewScope(nil, "test")
	a := newTestAgent("a")
	a.attrs["size"] = 3

	res, err := s.Evaluate(ExpressionFunc(func(s *Scope) (any, error) {
		v, _ := s.Agent().Attribute("size")
		return v, nil
	}), a)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Value())

	a.dead = true
	res, err = s.Evaluate(Value{V: 1}, a)
	require.NoError(t, err)
	assert.False(t, res.Passed())
}

func TestStackArgumentsStopsAtFirstFailure(t *testing.T) {
	s := NewScope(nil, "test")
	failure := errors.New("unbound")
	args := NewArguments(newTestAgent("caller")).
		Add("a", Value{V: 1}).
		Add("b", ExpressionFunc(func(s *Scope) (any, error) { return nil, failure })).
		Add("c", Value{V: 3})

	err := s.StackArguments(args)
	assert.ErrorIs(t, err, failure)
	_, okA := s.Local("a")
	_, okC := s.Local("c")
	assert.True(t, okA)
	assert.False(t, okC)
	assert.Nil(t, s.Agent(), "caller must be popped")
}

func TestReportError(t *testing.T) {
	policy := &recordingPolicy{}
	s := NewScope(nil, "test", WithPolicy(policy))
	s.Push(newTestAgent("a"))

	assert.NoError(t, s.ReportError(nil, true))
	assert.NoError(t, s.ReportError(NewWarning("slow %s", "step"), false))
	require.Len(t, policy.Errors(), 1)
	assert.True(t, policy.Errors()[0].Warning)
	assert.Equal(t, "a", policy.Errors()[0].AgentName)
}

func TestExecutePanicUnwindsArgumentFrame(t *testing.T) {
	s := NewScope(nil, "test")
	other := newTestAgent("other")
	a := newTestAgent("a")
	before := s.ExecutionContext().Depth()
	a.stepFn = func(sc *Scope) (any, error) {
		return sc.Execute(ExecutableFunc(func(*Scope) (any, error) {
			panic(errors.New("boom"))
		}), other, false, NewArguments(nil).Add("x", Value{V: 1}))
	}

	res, _ := s.Step(a)
	assert.False(t, res.Passed())
	assert.Equal(t, before, s.ExecutionContext().Depth())
	_, ok := s.TempVar("x")
	assert.False(t, ok, "arguments are unbound after the call unwinds")
	assert.Equal(t, 0, s.AgentDepth())
}
