package stepper

import (
	"github.com/wehubfusion/Talos/pkg/concurrency"
)

// Config configures how a batch of agents is stepped.
type Config struct {
	// Workers is the number of stepping goroutines.
	// If 0, it defaults to runtime.NumCPU().
	Workers int

	// BufferSize is the job and result channel buffer size.
	// Default: 100
	BufferSize int

	// Mode selects parallel or sequential stepping. Sequential steps agents
	// in order on the caller's scope, which keeps runs reproducible.
	Mode concurrency.StepMode

	// StopOnFirstError cancels the agents not yet started once a step
	// returns an error. When false the remaining agents still step and all
	// errors are collected.
	StopOnFirstError bool
}

// DefaultConfig returns parallel stepping with one worker per CPU.
func DefaultConfig() Config {
	return Config{
		Workers:    0,
		BufferSize: 100,
		Mode:       concurrency.StepModeParallel,
	}
}

// ConfigFrom derives a stepping configuration from the concurrency settings.
func ConfigFrom(c *concurrency.Config) Config {
	cfg := DefaultConfig()
	if c == nil {
		return cfg
	}
	cfg.Workers = c.StepWorkers
	cfg.Mode = c.StepMode
	return cfg
}

// Validate fills in defaults for unset values.
func (c *Config) Validate() {
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.Mode != concurrency.StepModeSequential {
		c.Mode = concurrency.StepModeParallel
	}
}
