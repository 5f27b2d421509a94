// Package sim is a small agent-based model driven by the Talos runtime.
//
// A Model declares experiments; each experiment runs one Simulation at a
// time; a simulation owns species whose members (animals) run their
// behaviors, typically scripts, once per cycle through a stepper. The
// package is what a model compiler would generate, written by hand, and is
// used by the examples and by end-to-end tests of the runtime.
package sim

import (
	"fmt"
	"maps"
	"slices"

	talosErrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/registry"
	"github.com/wehubfusion/Talos/pkg/runtime"
	"github.com/wehubfusion/Talos/pkg/stepper"
)

// SpeciesSpec declares a species.
type SpeciesSpec struct {
	Name string

	// Count is the initial number of members, overridden by the
	// "<name>_count" parameter.
	Count int

	// Attributes are the initial attributes of every member.
	Attributes map[string]any

	// Init runs once on every new member.
	Init runtime.Executable

	// Behaviors run in order on every member at each step.
	Behaviors []runtime.Executable
}

// ExperimentSpec declares an experiment.
type ExperimentSpec struct {
	// Parameters are the settable parameters and their defaults. They are
	// visible to behaviors as temporaries.
	Parameters map[string]any

	Species []SpeciesSpec

	// MaxCycles ends the simulation after that many cycles; 0 runs until
	// every animal is dead.
	MaxCycles int
}

// Model is a set of experiments sharing a registry and a stepper.
type Model struct {
	name        string
	registry    *registry.Registry
	stepper     *stepper.Stepper
	experiments map[string]ExperimentSpec
}

// NewModel creates a model. Experiments get their scopes from reg and step
// their animals with st.
func NewModel(name string, reg *registry.Registry, st *stepper.Stepper, experiments map[string]ExperimentSpec) (*Model, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("stepper cannot be nil")
	}
	for id, spec := range experiments {
		if len(spec.Species) == 0 {
			return nil, fmt.Errorf("experiment %s declares no species", id)
		}
	}
	return &Model{name: name, registry: reg, stepper: st, experiments: experiments}, nil
}

// Name returns the model name, the prefix of its simulation names.
func (m *Model) Name() string { return m.name }

// Experiments returns the experiment ids in order.
func (m *Model) Experiments() []string {
	return slices.Sorted(maps.Keys(m.experiments))
}

// Experiment returns a new instance of the experiment id.
func (m *Model) Experiment(id string) (registry.Experiment, error) {
	spec, ok := m.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s in model %s", talosErrors.ErrExperimentNotFound, id, m.name)
	}
	return newExperiment(m, id, spec), nil
}

var _ registry.Model = (*Model)(nil)
