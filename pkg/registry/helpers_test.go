package registry

import (
	"fmt"
	"sync"

	talosErrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/runtime"
)

type testAgent struct {
	name  string
	scope *runtime.Scope

	mu    sync.Mutex
	dead  bool
	attrs map[string]any
	cycle int
}

func (a *testAgent) Init(s *runtime.Scope) (any, error) { return nil, nil }

func (a *testAgent) Step(s *runtime.Scope) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cycle++
	return a.cycle, nil
}

func (a *testAgent) Name() string { return a.name }

func (a *testAgent) Dead() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dead
}

func (a *testAgent) kill() {
	a.mu.Lock()
	a.dead = true
	a.mu.Unlock()
}

func (a *testAgent) Attribute(name string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.attrs[name]
	return v, ok
}

func (a *testAgent) SetAttribute(name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.attrs == nil {
		a.attrs = map[string]any{}
	}
	a.attrs[name] = value
}

func (a *testAgent) Population() any       { return nil }
func (a *testAgent) Topology() any         { return nil }
func (a *testAgent) Scope() *runtime.Scope { return a.scope }

func (a *testAgent) Cycle() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cycle
}

// testExperiment creates its simulation on Init and stops after maxCycles.
type testExperiment struct {
	testAgent
	reg       *Registry
	sim       *testAgent
	maxCycles int
	stepErr   error

	headless bool
	params   map[string]any
	order    []string
	seed     float64
	reloads  int
}

func newTestExperiment(reg *Registry, name string) *testExperiment {
	e := &testExperiment{reg: reg, params: map[string]any{}}
	e.name = name
	e.scope = reg.NewScope(e, name)
	return e
}

func (e *testExperiment) Init(s *runtime.Scope) (any, error) {
	e.mu.Lock()
	e.sim = &testAgent{name: e.name + "_model"}
	e.sim.scope = s.Copy("simulation")
	e.mu.Unlock()
	return nil, nil
}

func (e *testExperiment) Step(s *runtime.Scope) (any, error) {
	e.mu.Lock()
	e.cycle++
	cycle := e.cycle
	limit := e.maxCycles
	stepErr := e.stepErr
	e.mu.Unlock()

	if stepErr != nil {
		return nil, stepErr
	}
	if limit > 0 && cycle > limit {
		s.SetDeathStatus()
		return nil, nil
	}
	return cycle, nil
}

func (e *testExperiment) Simulation() runtime.TopLevelAgent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sim == nil {
		return nil
	}
	return e.sim
}

func (e *testExperiment) SetHeadless(headless bool) { e.headless = headless }

func (e *testExperiment) SetParameter(name string, value any) error {
	if name == "invalid" {
		return fmt.Errorf("unknown parameter %s", name)
	}
	e.params[name] = value
	e.order = append(e.order, name)
	return nil
}

func (e *testExperiment) SetSeed(seed float64) { e.seed = seed }

func (e *testExperiment) Reload(s *runtime.Scope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reloads++
	e.cycle = 0
	return nil
}

type testModel struct {
	name        string
	experiments map[string]*testExperiment
}

func (m *testModel) Name() string { return m.name }

func (m *testModel) Experiment(id string) (Experiment, error) {
	e, ok := m.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", talosErrors.ErrExperimentNotFound, id)
	}
	return e, nil
}

func newTestModel(reg *Registry, ids ...string) *testModel {
	m := &testModel{name: "predators", experiments: map[string]*testExperiment{}}
	for _, id := range ids {
		m.experiments[id] = newTestExperiment(reg, id)
	}
	return m
}

type confirmGUI struct {
	runtime.NullGUI
	answer bool

	mu       sync.Mutex
	asked    int
	surfaced []*runtime.RuntimeError
}

func (g *confirmGUI) Confirm(title, message string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.asked++
	return g.answer
}

func (g *confirmGUI) RuntimeError(s *runtime.Scope, err *runtime.RuntimeError) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.surfaced = append(g.surfaced, err)
}

func (g *confirmGUI) Surfaced() []*runtime.RuntimeError {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*runtime.RuntimeError(nil), g.surfaced...)
}

type agentRecorder struct {
	mu     sync.Mutex
	agents []string
}

func (r *agentRecorder) TopLevelAgentChanged(agent runtime.TopLevelAgent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := "<nil>"
	if agent != nil {
		name = agent.Name()
	}
	r.agents = append(r.agents, name)
}

func (r *agentRecorder) Agents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.agents...)
}

type lifecycleRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *lifecycleRecorder) ExperimentOpened(c Controller) { r.add("opened:" + c.Experiment().Name()) }
func (r *lifecycleRecorder) ExperimentClosed(c Controller) { r.add("closed:" + c.Experiment().Name()) }

func (r *lifecycleRecorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *lifecycleRecorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}
