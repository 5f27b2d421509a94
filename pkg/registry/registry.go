// Package registry tracks the experiments running in a process and the
// top-level agent currently in focus.
//
// A Registry is an explicit context object owned by the process driver (a
// CLI, a GUI or a server). It keeps the ordered list of experiment
// controllers, the first one being frontmost, resolves "the" current
// top-level agent and its scope, owns the error-reporting policy shared by
// every scope it creates, and wraps each experiment's lifetime in a
// benchmark session when benchmarking is enabled.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/benchmark"
	talosErrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/runtime"
)

// Registry is the process-wide state of running experiments.
type Registry struct {
	opts     Options
	logger   *zap.Logger
	factory  ControllerFactory
	policy   *Policy
	platform *PlatformAgent

	mu                  sync.Mutex
	controllers         []Controller
	current             runtime.TopLevelAgent
	synchronized        bool
	recorders           map[string]*benchmark.Recorder
	agentListeners      []TopLevelAgentListener
	experimentListeners []ExperimentListener
}

// New creates a registry focused on its platform agent.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.GUI == nil {
		opts.GUI = runtime.NullGUI{}
	}
	if opts.RunID == "" {
		opts.RunID = DefaultOptions().RunID
	}
	factory := opts.ControllerFactory
	if factory == nil {
		factory = NewLocalController
	}

	r := &Registry{
		opts:      opts,
		logger:    opts.Logger,
		factory:   factory,
		recorders: make(map[string]*benchmark.Recorder),
	}
	r.policy = &Policy{registry: r}
	r.platform = newPlatformAgent(r)
	r.current = r.platform

	r.logger.Debug("Registry created", zap.String("options", opts.String()))
	return r
}

// NewScope creates a scope wired to the registry's logger, policy, GUI and
// fatal handler.
func (r *Registry) NewScope(root runtime.TopLevelAgent, name string) *runtime.Scope {
	return runtime.NewScope(root, name,
		runtime.WithLogger(r.logger),
		runtime.WithPolicy(r.policy),
		runtime.WithGUI(r.opts.GUI),
		runtime.WithTrace(r.opts.Trace),
		runtime.WithFatalHandler(r.handleFatal),
	)
}

func (r *Registry) handleFatal(s *runtime.Scope, err error) {
	r.logger.Error("Fatal failure, pausing experiment",
		zap.String("scope", s.Name()),
		zap.String("code", runtime.ErrorCode(err)),
		zap.Error(err))
	_ = r.PauseFrontmostExperiment(context.Background())
}

// Options returns the registry options.
func (r *Registry) Options() Options { return r.opts }

// RunID identifies this run in archives and events.
func (r *Registry) RunID() string { return r.opts.RunID }

// Policy returns the error-reporting policy.
func (r *Registry) Policy() *Policy { return r.policy }

// Platform returns the platform agent.
func (r *Registry) Platform() *PlatformAgent { return r.platform }

// Controllers returns the controllers, frontmost first.
func (r *Registry) Controllers() []Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.controllers)
}

// FrontmostController returns the first controller, or nil.
func (r *Registry) FrontmostController() Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.controllers) == 0 {
		return nil
	}
	return r.controllers[0]
}

// Experiment returns the experiment of the frontmost controller, or nil.
func (r *Registry) Experiment() Experiment {
	if c := r.FrontmostController(); c != nil {
		return c.Experiment()
	}
	return nil
}

func (r *Registry) addController(c Controller) {
	r.mu.Lock()
	r.controllers = append(r.controllers, c)
	r.mu.Unlock()
}

func (r *Registry) removeController(c Controller) {
	r.mu.Lock()
	r.controllers = slices.DeleteFunc(r.controllers, func(x Controller) bool { return x == c })
	r.mu.Unlock()
}

// RunGUIExperiment opens experiment id of model interactively. An existing
// experiment is paused and, once the GUI confirms, closed first.
func (r *Registry) RunGUIExperiment(ctx context.Context, id string, model Model) (Controller, error) {
	exp, err := model.Experiment(id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve experiment %s of %s: %w", id, model.Name(), err)
	}

	if front := r.FrontmostController(); front != nil {
		if err := front.Pause(ctx); err != nil {
			r.logger.Warn("Failed to pause frontmost experiment", zap.Error(err))
		}
		title := "Close experiment"
		message := fmt.Sprintf("Close %s and open %s?", front.Experiment().Name(), exp.Name())
		if !r.opts.GUI.Confirm(title, message) {
			return nil, talosErrors.ErrCancelledByUser
		}
	}

	exp.SetHeadless(false)
	ctrl, err := r.factory(exp, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	if err := r.CloseAllExperiments(ctx); err != nil {
		r.logger.Warn("Failed to close previous experiments", zap.Error(err))
	}

	return r.register(ctx, ctrl)
}

// AddHeadlessExperiment opens experiment id of model without a GUI, after
// assigning params and seed. Existing experiments keep running.
func (r *Registry) AddHeadlessExperiment(ctx context.Context, model Model, id string, params map[string]any, seed float64) (Controller, error) {
	exp, err := model.Experiment(id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve experiment %s of %s: %w", id, model.Name(), err)
	}

	exp.SetHeadless(true)
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := exp.SetParameter(name, params[name]); err != nil {
			return nil, fmt.Errorf("failed to set parameter %s: %w", name, err)
		}
	}
	exp.SetSeed(seed)

	ctrl, err := r.factory(exp, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}
	return r.register(ctx, ctrl)
}

// register adds ctrl, starts its benchmark and opens it. A controller that
// fails to open is closed again.
func (r *Registry) register(ctx context.Context, ctrl Controller) (Controller, error) {
	r.addController(ctrl)
	r.StartBenchmark(ctrl)

	if err := ctrl.Open(ctx); err != nil {
		if closeErr := r.CloseExperiment(ctx, ctrl); closeErr != nil {
			r.logger.Warn("Failed to close experiment after open failure", zap.Error(closeErr))
		}
		return nil, err
	}

	r.logger.Info("Experiment registered",
		zap.String("experiment", ctrl.Experiment().Name()),
		zap.String("controller_id", ctrl.ID()))

	r.ChangeCurrentTopLevelAgent(r.computeCurrentTopLevelAgent(), false)

	for _, l := range r.experimentListenersSnapshot() {
		l.ExperimentOpened(ctrl)
	}
	return ctrl, nil
}

// CloseExperiment stops the benchmark of ctrl, desynchronizes outputs, closes
// and removes the controller, and focuses the platform agent.
func (r *Registry) CloseExperiment(ctx context.Context, ctrl Controller) error {
	if ctrl == nil {
		return talosErrors.ErrNoController
	}

	r.StopBenchmark(ctx, ctrl)
	r.Desynchronize()
	err := ctrl.Close(ctx)
	r.removeController(ctrl)
	r.ChangeCurrentTopLevelAgent(r.platform, false)

	for _, l := range r.experimentListenersSnapshot() {
		l.ExperimentClosed(ctrl)
	}

	if err != nil {
		return fmt.Errorf("failed to close experiment %s: %w", ctrl.Experiment().Name(), err)
	}
	return nil
}

// CloseAllExperiments closes every controller.
func (r *Registry) CloseAllExperiments(ctx context.Context) error {
	var errs []error
	for _, c := range r.Controllers() {
		if err := r.CloseExperiment(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenFrontmostExperiment opens the frontmost experiment.
func (r *Registry) OpenFrontmostExperiment(ctx context.Context) error {
	return r.withFrontmost(func(c Controller) error { return c.Open(ctx) })
}

// PauseFrontmostExperiment pauses the frontmost experiment.
func (r *Registry) PauseFrontmostExperiment(ctx context.Context) error {
	return r.withFrontmost(func(c Controller) error { return c.Pause(ctx) })
}

// ResumeFrontmostExperiment resumes the frontmost experiment.
func (r *Registry) ResumeFrontmostExperiment(ctx context.Context) error {
	return r.withFrontmost(func(c Controller) error { return c.Resume(ctx) })
}

// StepFrontmostExperiment runs one cycle of the frontmost experiment.
func (r *Registry) StepFrontmostExperiment(ctx context.Context) error {
	return r.withFrontmost(func(c Controller) error { return c.Step(ctx) })
}

// ReloadFrontmostExperiment reloads the frontmost experiment.
func (r *Registry) ReloadFrontmostExperiment(ctx context.Context) error {
	return r.withFrontmost(func(c Controller) error { return c.Reload(ctx) })
}

func (r *Registry) withFrontmost(fn func(Controller) error) error {
	c := r.FrontmostController()
	if c == nil {
		return talosErrors.ErrNoController
	}
	return fn(c)
}

// CurrentTopLevelAgent returns the focused top-level agent. The focus is
// recomputed when the cached agent is missing, dead, or its scope is
// closed: the simulation of the frontmost experiment if one is alive, else
// the experiment, else the platform.
func (r *Registry) CurrentTopLevelAgent() runtime.TopLevelAgent {
	r.mu.Lock()
	current := r.current
	r.mu.Unlock()

	if current != nil && !current.Dead() && !scopeClosed(current) {
		return current
	}

	next := r.computeCurrentTopLevelAgent()
	r.ChangeCurrentTopLevelAgent(next, false)
	return next
}

func (r *Registry) computeCurrentTopLevelAgent() runtime.TopLevelAgent {
	exp := r.Experiment()
	if exp == nil || exp.Dead() || scopeClosed(exp) {
		return r.platform
	}
	sim := exp.Simulation()
	if sim == nil || sim.Dead() || scopeClosed(sim) {
		return exp
	}
	return sim
}

func scopeClosed(agent runtime.Agent) bool {
	s := agent.Scope()
	return s != nil && s.Disposed()
}

// ChangeCurrentTopLevelAgent focuses agent. Listeners are notified when the
// focus actually changes, or always when force is set.
func (r *Registry) ChangeCurrentTopLevelAgent(agent runtime.TopLevelAgent, force bool) {
	r.mu.Lock()
	changed := r.current != agent
	r.current = agent
	listeners := slices.Clone(r.agentListeners)
	r.mu.Unlock()

	if !changed && !force {
		return
	}
	if agent != nil {
		r.logger.Debug("Top-level agent changed", zap.String("agent", agent.Name()))
	}
	for _, l := range listeners {
		l.TopLevelAgentChanged(agent)
	}
}

// RuntimeScope returns the scope of the focused top-level agent.
func (r *Registry) RuntimeScope() *runtime.Scope {
	if s := r.CurrentTopLevelAgent().Scope(); s != nil {
		return s
	}
	return r.platform.Scope()
}

// Synchronize requires outputs to stay lock-stepped with simulation cycles.
func (r *Registry) Synchronize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synchronized = true
}

// Desynchronize releases outputs from the simulation clock.
func (r *Registry) Desynchronize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synchronized = false
}

// IsSynchronized reports whether outputs are lock-stepped.
func (r *Registry) IsSynchronized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.synchronized
}

// AddTopLevelAgentListener registers l for focus changes.
func (r *Registry) AddTopLevelAgentListener(l TopLevelAgentListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentListeners = append(r.agentListeners, l)
}

// RemoveTopLevelAgentListener unregisters l.
func (r *Registry) RemoveTopLevelAgentListener(l TopLevelAgentListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentListeners = slices.DeleteFunc(r.agentListeners, func(x TopLevelAgentListener) bool { return x == l })
}

// AddExperimentListener registers l for experiment lifecycle events.
func (r *Registry) AddExperimentListener(l ExperimentListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.experimentListeners = append(r.experimentListeners, l)
}

func (r *Registry) experimentListenersSnapshot() []ExperimentListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.experimentListeners)
}

// Close closes every experiment and disposes the platform agent.
func (r *Registry) Close(ctx context.Context) error {
	err := r.CloseAllExperiments(ctx)
	r.platform.dispose()
	return err
}
