package registry

import (
	"context"

	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/runtime"
)

// Experiment is the top-level agent of an experiment.
type Experiment interface {
	runtime.TopLevelAgent

	// Simulation returns the running simulation, or untyped nil before the
	// first one is created.
	Simulation() runtime.TopLevelAgent

	// SetHeadless marks the experiment as driven without a GUI.
	SetHeadless(headless bool)

	// SetParameter assigns a parameter by title before the experiment opens.
	SetParameter(name string, value any) error

	// SetSeed sets the seed of the experiment's random generator.
	SetSeed(seed float64)

	// Reload disposes the running simulation and creates a new one.
	Reload(s *runtime.Scope) error
}

// Model resolves the experiments it declares.
type Model interface {
	Name() string

	// Experiment returns a new instance of the experiment id, or an error
	// wrapping errors.ErrExperimentNotFound.
	Experiment(id string) (Experiment, error)
}

// Controller drives the lifecycle of one experiment.
type Controller interface {
	ID() string
	Experiment() Experiment

	Open(ctx context.Context) error
	Step(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Reload(ctx context.Context) error
	Close(ctx context.Context) error

	// Paused reports whether the controller is not running cycles.
	Paused() bool
}

// ControllerFactory creates the controller of an experiment.
type ControllerFactory func(exp Experiment, logger *zap.Logger) (Controller, error)

// TopLevelAgentListener is notified when the focused top-level agent changes.
type TopLevelAgentListener interface {
	TopLevelAgentChanged(agent runtime.TopLevelAgent)
}

// ExperimentListener is notified when experiments open and close.
type ExperimentListener interface {
	ExperimentOpened(c Controller)
	ExperimentClosed(c Controller)
}
