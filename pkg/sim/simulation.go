package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/runtime"
	"github.com/wehubfusion/Talos/pkg/stepper"
)

// Simulation is the top-level agent of one run of an experiment. It owns the
// species and steps all their members once per cycle.
type Simulation struct {
	name      string
	scope     *runtime.Scope
	stepper   *stepper.Stepper
	species   []*Species
	maxCycles int
	headless  bool
	rng       *rand.Rand

	cycle atomic.Int64
	dead  atomic.Bool

	mu    sync.RWMutex
	attrs map[string]any
}

func newSimulation(name string, scope *runtime.Scope, st *stepper.Stepper, spec ExperimentSpec, seed float64, headless bool) *Simulation {
	sim := &Simulation{
		name:      name,
		scope:     scope,
		stepper:   st,
		maxCycles: spec.MaxCycles,
		headless:  headless,
		rng:       rand.New(rand.NewPCG(uint64(seed), uint64(len(spec.Species)))),
		attrs:     map[string]any{"seed": seed},
	}
	for _, sp := range spec.Species {
		sim.species = append(sim.species, newSpecies(sp))
	}
	return sim
}

// Init spawns the initial members of every species and initializes them.
// Members get a random location drawn from the simulation seed.
func (sim *Simulation) Init(s *runtime.Scope) (any, error) {
	for i, sp := range sim.species {
		for n := 0; n < sim.initialCount(i); n++ {
			a := sp.Spawn()
			a.SetAttribute("x", sim.rng.Float64()*100)
			a.SetAttribute("y", sim.rng.Float64()*100)
			if _, err := s.Init(a); err != nil {
				return nil, err
			}
		}
	}
	sim.scope.Logger().Debug("Simulation initialized",
		zap.String("simulation", sim.name),
		zap.Int("agents", len(sim.Animals())))
	return nil, nil
}

// initialCount reads the "<species>_count" parameter, falling back to the
// species spec.
func (sim *Simulation) initialCount(i int) int {
	sp := sim.species[i]
	if v, ok := sim.scope.TempVar(sp.name + "_count"); ok {
		if n, ok := toInt(v); ok {
			return n
		}
	}
	return sp.count
}

// Step steps every live animal, drops the dead and ends the simulation when
// no animal is left or the cycle limit is reached.
func (sim *Simulation) Step(s *runtime.Scope) (any, error) {
	cycle := int(sim.cycle.Add(1))

	animals := sim.Animals()
	agents := make([]runtime.Agent, len(animals))
	for i, a := range animals {
		agents[i] = a
	}

	_, err := sim.stepper.Step(context.Background(), s, agents)
	for _, sp := range sim.species {
		sp.prune()
	}
	if err != nil {
		return nil, err
	}

	if !sim.headless {
		s.GUI().Status(s, fmt.Sprintf("%s: cycle %d, %d agents", sim.name, cycle, len(sim.Animals())))
	}

	if len(sim.Animals()) == 0 || (sim.maxCycles > 0 && cycle >= sim.maxCycles) {
		sim.dead.Store(true)
		s.Logger().Info("Simulation finished",
			zap.String("simulation", sim.name),
			zap.Int("cycle", cycle))
	}
	return cycle, nil
}

// Animals returns the live members of every species.
func (sim *Simulation) Animals() []*Animal {
	var out []*Animal
	for _, sp := range sim.species {
		out = append(out, sp.Members()...)
	}
	return out
}

// Species returns the species named name, or nil.
func (sim *Simulation) Species(name string) *Species {
	for _, sp := range sim.species {
		if sp.name == name {
			return sp
		}
	}
	return nil
}

// Name returns "<model>_model<n>", n counting the simulations of the
// experiment.
func (sim *Simulation) Name() string          { return sim.name }
func (sim *Simulation) Dead() bool            { return sim.dead.Load() }
func (sim *Simulation) Population() any       { return nil }
func (sim *Simulation) Topology() any         { return nil }
func (sim *Simulation) Scope() *runtime.Scope { return sim.scope }
func (sim *Simulation) Cycle() int            { return int(sim.cycle.Load()) }

// Attribute returns a simulation attribute such as "seed".
func (sim *Simulation) Attribute(name string) (any, bool) {
	sim.mu.RLock()
	defer sim.mu.RUnlock()
	v, ok := sim.attrs[name]
	return v, ok
}

func (sim *Simulation) SetAttribute(name string, value any) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.attrs[name] = value
}

// dispose kills the simulation and releases its scope.
func (sim *Simulation) dispose() {
	sim.dead.Store(true)
	sim.scope.Clear()
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

var _ runtime.TopLevelAgent = (*Simulation)(nil)
