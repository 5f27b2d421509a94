package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/wehubfusion/Talos/pkg/benchmark"
	talosErrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/runtime"
	"github.com/wehubfusion/Talos/pkg/storage"
)

func TestNewFocusesPlatform(t *testing.T) {
	reg := New(Options{Logger: zaptest.NewLogger(t)})

	assert.Same(t, reg.Platform(), reg.CurrentTopLevelAgent())
	assert.Same(t, reg.Platform().Scope(), reg.RuntimeScope())
	assert.Nil(t, reg.FrontmostController())
	assert.Nil(t, reg.Experiment())
	assert.NotEmpty(t, reg.RunID())
}

func TestFrontmostOperationsWithoutController(t *testing.T) {
	reg := New(Options{})
	ctx := context.Background()

	for name, op := range map[string]func(context.Context) error{
		"open":   reg.OpenFrontmostExperiment,
		"pause":  reg.PauseFrontmostExperiment,
		"resume": reg.ResumeFrontmostExperiment,
		"step":   reg.StepFrontmostExperiment,
		"reload": reg.ReloadFrontmostExperiment,
	} {
		assert.ErrorIs(t, op(ctx), talosErrors.ErrNoController, name)
	}
	assert.ErrorIs(t, reg.CloseExperiment(ctx, nil), talosErrors.ErrNoController)
}

func TestFrontmostOperationsDelegate(t *testing.T) {
	f := newPolicyFixture(t, nil)
	ctx := context.Background()
	model := newTestModel(f.reg, "main")

	_, err := f.reg.AddHeadlessExperiment(ctx, model, "main", nil, 0)
	require.NoError(t, err)

	require.NoError(t, f.reg.ResumeFrontmostExperiment(ctx))
	require.NoError(t, f.reg.PauseFrontmostExperiment(ctx))
	require.NoError(t, f.reg.StepFrontmostExperiment(ctx))
	require.NoError(t, f.reg.ReloadFrontmostExperiment(ctx))
	require.NoError(t, f.reg.OpenFrontmostExperiment(ctx))

	assert.Equal(t, []string{"open", "resume", "pause", "step", "reload", "open"}, f.factory.Last().Calls())
}

func TestCurrentTopLevelAgentRecomputes(t *testing.T) {
	reg := New(Options{Logger: zaptest.NewLogger(t)})
	ctx := context.Background()
	listener := &agentRecorder{}
	reg.AddTopLevelAgentListener(listener)

	model := newTestModel(reg, "main")
	exp := model.experiments["main"]

	ctrl, err := reg.AddHeadlessExperiment(ctx, model, "main", nil, 0)
	require.NoError(t, err)
	assert.Same(t, exp, ctrl.Experiment())

	// Opening created the simulation, which takes the focus.
	assert.Same(t, exp.Simulation(), reg.CurrentTopLevelAgent())
	assert.Same(t, exp.sim.Scope(), reg.RuntimeScope())

	// A dead simulation hands the focus back to its experiment.
	exp.sim.kill()
	assert.Same(t, exp, reg.CurrentTopLevelAgent())

	require.NoError(t, reg.CloseExperiment(ctx, ctrl))
	assert.Same(t, reg.Platform(), reg.CurrentTopLevelAgent())
	assert.Empty(t, reg.Controllers())

	assert.Equal(t, []string{"main_model", "main", "platform"}, listener.Agents())
}

func TestCurrentTopLevelAgentDisposedScope(t *testing.T) {
	reg := New(Options{})
	model := newTestModel(reg, "main")
	exp := model.experiments["main"]
	_, err := reg.AddHeadlessExperiment(context.Background(), model, "main", nil, 0)
	require.NoError(t, err)

	exp.sim.Scope().Clear()
	assert.Same(t, exp, reg.CurrentTopLevelAgent())
}

func TestChangeCurrentTopLevelAgentNotifiesOnChangeOrForce(t *testing.T) {
	reg := New(Options{})
	listener := &agentRecorder{}
	reg.AddTopLevelAgentListener(listener)

	reg.ChangeCurrentTopLevelAgent(reg.Platform(), false)
	assert.Empty(t, listener.Agents())

	reg.ChangeCurrentTopLevelAgent(reg.Platform(), true)
	assert.Equal(t, []string{"platform"}, listener.Agents())

	reg.RemoveTopLevelAgentListener(listener)
	reg.ChangeCurrentTopLevelAgent(reg.Platform(), true)
	assert.Len(t, listener.Agents(), 1)
}

func TestRunGUIExperimentReplacesFrontmost(t *testing.T) {
	f := newPolicyFixture(t, nil)
	ctx := context.Background()
	lifecycle := &lifecycleRecorder{}
	f.reg.AddExperimentListener(lifecycle)
	model := newTestModel(f.reg, "first", "second")

	first, err := f.reg.RunGUIExperiment(ctx, "first", model)
	require.NoError(t, err)
	assert.Equal(t, 0, f.gui.asked, "nothing to confirm without a running experiment")
	assert.False(t, model.experiments["first"].headless)

	second, err := f.reg.RunGUIExperiment(ctx, "second", model)
	require.NoError(t, err)
	assert.Equal(t, 1, f.gui.asked)

	assert.Equal(t, []string{"open", "pause", "close"}, first.(*stubController).Calls())
	assert.Equal(t, []Controller{second}, f.reg.Controllers())
	assert.Same(t, model.experiments["second"], f.reg.Experiment())
	assert.Equal(t, []string{"opened:first", "closed:first", "opened:second"}, lifecycle.Events())
}

func TestRunGUIExperimentCancelled(t *testing.T) {
	f := newPolicyFixture(t, nil)
	ctx := context.Background()
	model := newTestModel(f.reg, "first", "second")

	first, err := f.reg.RunGUIExperiment(ctx, "first", model)
	require.NoError(t, err)

	f.gui.answer = false
	_, err = f.reg.RunGUIExperiment(ctx, "second", model)
	assert.ErrorIs(t, err, talosErrors.ErrCancelledByUser)
	assert.Equal(t, []Controller{first}, f.reg.Controllers())
	assert.Equal(t, []string{"open", "pause"}, first.(*stubController).Calls())
}

func TestRunGUIExperimentUnknownID(t *testing.T) {
	f := newPolicyFixture(t, nil)
	_, err := f.reg.RunGUIExperiment(context.Background(), "missing", newTestModel(f.reg))
	assert.ErrorIs(t, err, talosErrors.ErrExperimentNotFound)
}

func TestAddHeadlessExperimentAssignsParameters(t *testing.T) {
	f := newPolicyFixture(t, nil)
	ctx := context.Background()
	model := newTestModel(f.reg, "a", "b")

	_, err := f.reg.AddHeadlessExperiment(ctx, model, "a", map[string]any{"wolves": 10, "sheep": 100, "grass": true}, 42)
	require.NoError(t, err)
	_, err = f.reg.AddHeadlessExperiment(ctx, model, "b", nil, 7)
	require.NoError(t, err)

	exp := model.experiments["a"]
	assert.True(t, exp.headless)
	assert.Equal(t, []string{"grass", "sheep", "wolves"}, exp.order)
	assert.Equal(t, 42.0, exp.seed)
	assert.Len(t, f.reg.Controllers(), 2, "headless experiments run side by side")
	assert.Same(t, exp, f.reg.Experiment())
}

func TestAddHeadlessExperimentFailures(t *testing.T) {
	f := newPolicyFixture(t, nil)
	ctx := context.Background()
	model := newTestModel(f.reg, "a")

	_, err := f.reg.AddHeadlessExperiment(ctx, model, "a", map[string]any{"invalid": 1}, 0)
	assert.ErrorContains(t, err, "invalid")

	f.factory.fails = errors.New("no capacity")
	_, err = f.reg.AddHeadlessExperiment(ctx, model, "a", nil, 0)
	assert.ErrorContains(t, err, "no capacity")
	assert.Empty(t, f.reg.Controllers())
}

func TestOpenFailureClosesController(t *testing.T) {
	openErr := errors.New("init failed")
	factory := &stubFactory{}
	reg := New(Options{ControllerFactory: func(exp Experiment, logger *zap.Logger) (Controller, error) {
		c, err := factory.New(exp, logger)
		if err == nil {
			c.(*stubController).openErr = openErr
		}
		return c, err
	}})

	_, err := reg.AddHeadlessExperiment(context.Background(), newTestModel(reg, "a"), "a", nil, 0)
	assert.ErrorIs(t, err, openErr)
	assert.Empty(t, reg.Controllers())
	assert.Equal(t, []string{"open", "close"}, factory.Last().Calls())
}

func TestSynchronize(t *testing.T) {
	f := newPolicyFixture(t, nil)
	ctx := context.Background()
	model := newTestModel(f.reg, "a")
	ctrl, err := f.reg.AddHeadlessExperiment(ctx, model, "a", nil, 0)
	require.NoError(t, err)

	assert.False(t, f.reg.IsSynchronized())
	f.reg.Synchronize()
	assert.True(t, f.reg.IsSynchronized())

	require.NoError(t, f.reg.CloseExperiment(ctx, ctrl))
	assert.False(t, f.reg.IsSynchronized(), "closing an experiment desynchronizes outputs")
}

func TestBenchmarkLifecycle(t *testing.T) {
	store := storage.NewMemoryStore()
	reg := New(Options{
		Logger:    zaptest.NewLogger(t),
		Benchmark: true,
		Archive:   storage.NewArchiveClient(store, nil),
		RunID:     "run-1",
	})
	ctx := context.Background()
	model := newTestModel(reg, "main")

	ctrl, err := reg.AddHeadlessExperiment(ctx, model, "main", nil, 0)
	require.NoError(t, err)
	_, isRecorder := model.experiments["main"].Scope().Benchmark().(*benchmark.Recorder)
	assert.True(t, isRecorder)

	require.NoError(t, ctrl.Step(ctx))
	require.NoError(t, ctrl.Step(ctx))

	report, ok := reg.StopBenchmark(ctx, ctrl)
	require.True(t, ok)
	assert.Equal(t, "main", report.Name)
	require.NotEmpty(t, report.Units)
	assert.Equal(t, "main", report.Units[0].Unit)
	assert.Equal(t, 3, report.Units[0].Count, "one init and two steps")

	_, ok = reg.StopBenchmark(ctx, ctrl)
	assert.False(t, ok, "a benchmark stops once")

	archive, err := storage.NewArchiveClient(store, nil).Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Contains(t, archive, ctrl.ID())

	require.NoError(t, reg.Close(ctx))
	assert.True(t, reg.Platform().Dead())
}

func TestBenchmarkHooksAreCombined(t *testing.T) {
	hook := &countingHook{}
	reg := New(Options{Benchmark: true, BenchmarkHooks: []runtime.Benchmark{hook}})
	ctx := context.Background()
	model := newTestModel(reg, "main")

	ctrl, err := reg.AddHeadlessExperiment(ctx, model, "main", nil, 0)
	require.NoError(t, err)
	require.NoError(t, ctrl.Step(ctx))
	assert.Equal(t, 2, hook.Started())

	_, isMulti := model.experiments["main"].Scope().Benchmark().(benchmark.Multi)
	assert.True(t, isMulti)
}

type countingHook struct {
	mu      sync.Mutex
	started int
}

func (h *countingHook) Start(s *runtime.Scope, unit any) runtime.Stopwatch {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started++
	return runtime.NoOpBenchmark{}.Start(s, unit)
}

func (h *countingHook) Started() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}
