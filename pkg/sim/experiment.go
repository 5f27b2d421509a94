package sim

import (
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/registry"
	"github.com/wehubfusion/Talos/pkg/runtime"
)

// Experiment runs the simulations of one experiment of a model.
type Experiment struct {
	model *Model
	id    string
	spec  ExperimentSpec
	scope *runtime.Scope

	cycle atomic.Int64
	dead  atomic.Bool

	mu       sync.Mutex
	sim      *Simulation
	runs     int
	headless bool
	seed     float64
	params   map[string]any
	attrs    map[string]any
}

func newExperiment(m *Model, id string, spec ExperimentSpec) *Experiment {
	e := &Experiment{
		model:  m,
		id:     id,
		spec:   spec,
		params: maps.Clone(spec.Parameters),
		attrs:  map[string]any{},
	}
	if e.params == nil {
		e.params = map[string]any{}
	}
	e.scope = m.registry.NewScope(e, id)
	return e
}

// Init creates the first simulation.
func (e *Experiment) Init(s *runtime.Scope) (any, error) {
	sim, err := e.createSimulation(s)
	if err != nil {
		return nil, err
	}
	return sim.Name(), nil
}

// Step runs one cycle of the simulation. The experiment dies with its
// simulation.
func (e *Experiment) Step(s *runtime.Scope) (any, error) {
	sim := e.simulation()
	if sim == nil || sim.Dead() {
		e.dead.Store(true)
		return nil, nil
	}
	if _, err := sim.Scope().Step(sim); err != nil {
		return nil, err
	}
	if sim.Dead() {
		e.dead.Store(true)
	}
	return int(e.cycle.Add(1)), nil
}

// Reload disposes the running simulation and creates a new one in focus.
func (e *Experiment) Reload(s *runtime.Scope) error {
	e.mu.Lock()
	old := e.sim
	e.sim = nil
	e.mu.Unlock()
	if old != nil {
		old.dispose()
	}

	e.cycle.Store(0)
	e.dead.Store(false)
	sim, err := e.createSimulation(s)
	if err != nil {
		return err
	}
	e.model.registry.ChangeCurrentTopLevelAgent(sim, false)
	return nil
}

// createSimulation builds and initializes a simulation on a copy of s with
// the parameters bound as temporaries.
func (e *Experiment) createSimulation(s *runtime.Scope) (*Simulation, error) {
	e.mu.Lock()
	name := fmt.Sprintf("%s_model%d", e.model.name, e.runs)
	e.runs++
	params := maps.Clone(e.params)
	seed, headless := e.seed, e.headless
	e.mu.Unlock()

	scope := s.Copy(name)
	for k, v := range params {
		if err := scope.PutLocal(k, v); err != nil {
			return nil, fmt.Errorf("failed to bind parameter %s: %w", k, err)
		}
	}
	sim := newSimulation(name, scope, e.model.stepper, e.spec, seed, headless)

	res, err := scope.Init(sim)
	if err != nil {
		sim.dispose()
		return nil, fmt.Errorf("failed to initialize simulation %s: %w", name, err)
	}
	if !res.Passed() {
		sim.dispose()
		return nil, fmt.Errorf("simulation %s did not initialize", name)
	}

	e.mu.Lock()
	e.sim = sim
	e.mu.Unlock()

	s.Logger().Info("Simulation created",
		zap.String("experiment", e.id),
		zap.String("simulation", name),
		zap.Int("agents", len(sim.Animals())))
	return sim, nil
}

func (e *Experiment) simulation() *Simulation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sim
}

// Simulation returns the running simulation, or nil before Init.
func (e *Experiment) Simulation() runtime.TopLevelAgent {
	if sim := e.simulation(); sim != nil {
		return sim
	}
	return nil
}

// Running returns the running simulation with its concrete type.
func (e *Experiment) Running() *Simulation { return e.simulation() }

// SetHeadless stops simulations from sending statuses to the GUI. It applies
// to the next simulation created.
func (e *Experiment) SetHeadless(headless bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.headless = headless
}

// SetParameter sets a declared parameter. The value applies to the next
// simulation created.
func (e *Experiment) SetParameter(name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.params[name]; !ok {
		return fmt.Errorf("unknown parameter %s in experiment %s", name, e.id)
	}
	e.params[name] = value
	return nil
}

// SetSeed seeds the RNG of the next simulation created. Simulations with the
// same seed and parameters place their animals identically.
func (e *Experiment) SetSeed(seed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seed = seed
}

// Name returns the experiment id.
func (e *Experiment) Name() string          { return e.id }
func (e *Experiment) Dead() bool            { return e.dead.Load() }
func (e *Experiment) Population() any       { return nil }
func (e *Experiment) Topology() any         { return nil }
func (e *Experiment) Scope() *runtime.Scope { return e.scope }
func (e *Experiment) Cycle() int            { return int(e.cycle.Load()) }

// Attribute returns a parameter, or an attribute set with SetAttribute.
func (e *Experiment) Attribute(name string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.params[name]; ok {
		return v, true
	}
	v, ok := e.attrs[name]
	return v, ok
}

// SetAttribute sets an attribute. Parameters are changed with SetParameter.
func (e *Experiment) SetAttribute(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attrs[name] = value
}

var _ registry.Experiment = (*Experiment)(nil)
