package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wehubfusion/Talos/pkg/runtime"
)

// Species is the population of one kind of animal. Its behaviors run in
// order on every live member at each step.
type Species struct {
	name      string
	count     int
	init      runtime.Executable
	behaviors []runtime.Executable
	defaults  map[string]any

	mu      sync.Mutex
	members []*Animal
	born    int
}

func newSpecies(spec SpeciesSpec) *Species {
	return &Species{
		name:      spec.Name,
		count:     spec.Count,
		init:      spec.Init,
		behaviors: spec.Behaviors,
		defaults:  spec.Attributes,
	}
}

func (sp *Species) Name() string { return sp.name }

// Spawn adds a new member carrying the species defaults. Safe to call from
// behaviors running concurrently.
func (sp *Species) Spawn() *Animal {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	a := &Animal{
		name:    fmt.Sprintf("%s%d", sp.name, sp.born),
		species: sp,
		attrs:   make(map[string]any, len(sp.defaults)),
	}
	for k, v := range sp.defaults {
		a.attrs[k] = v
	}
	sp.born++
	sp.members = append(sp.members, a)
	return a
}

// Members returns the live members.
func (sp *Species) Members() []*Animal {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	out := make([]*Animal, 0, len(sp.members))
	for _, a := range sp.members {
		if !a.Dead() {
			out = append(out, a)
		}
	}
	return out
}

// Count returns the number of live members.
func (sp *Species) Count() int {
	return len(sp.Members())
}

// prune drops dead members.
func (sp *Species) prune() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	live := sp.members[:0]
	for _, a := range sp.members {
		if !a.Dead() {
			live = append(live, a)
		}
	}
	clear(sp.members[len(live):])
	sp.members = live
}

// Animal is one member of a species.
type Animal struct {
	name    string
	species *Species
	dead    atomic.Bool

	mu    sync.RWMutex
	attrs map[string]any
}

// Init runs the species init statement, if any.
func (a *Animal) Init(s *runtime.Scope) (any, error) {
	if a.species.init == nil {
		return nil, nil
	}
	res, err := s.Execute(a.species.init, a, false, nil)
	if err != nil {
		return nil, err
	}
	a.settle(s)
	return res.Value(), nil
}

// Step runs the species behaviors until one breaks, returns or kills the
// animal. continue skips to the next behavior.
func (a *Animal) Step(s *runtime.Scope) (any, error) {
	var last any
	for _, behavior := range a.species.behaviors {
		res, err := s.Execute(behavior, a, false, nil)
		if err != nil {
			return nil, err
		}
		if res.Passed() {
			last = res.Value()
		}
		if a.settle(s) {
			break
		}
	}
	return last, nil
}

// settle consumes the flow status a behavior left and reports whether the
// remaining behaviors must be skipped.
func (a *Animal) settle(s *runtime.Scope) bool {
	if s.GetAndClearDeathStatus() == runtime.Die {
		a.Kill()
		return true
	}
	if s.GetAndClearBreakStatus() == runtime.Break {
		return true
	}
	if s.GetAndClearReturnStatus() == runtime.Return {
		return true
	}
	s.GetAndClearContinueStatus()
	return s.Interrupted()
}

// Name returns "<species><n>".
func (a *Animal) Name() string          { return a.name }
func (a *Animal) Dead() bool            { return a.dead.Load() }
func (a *Animal) Population() any       { return a.species } // *Species
func (a *Animal) Topology() any         { return nil }

// Scope returns nil: animals run on the scope of their simulation.
func (a *Animal) Scope() *runtime.Scope { return nil }

// Kill marks the animal dead. It is removed from its species at the end of
// the cycle.
func (a *Animal) Kill() { a.dead.Store(true) }

// Attribute returns an attribute of the animal.
func (a *Animal) Attribute(name string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.attrs[name]
	return v, ok
}

// SetAttribute sets an attribute. Safe for concurrent use.
func (a *Animal) SetAttribute(name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attrs[name] = value
}

var _ runtime.Agent = (*Animal)(nil)
