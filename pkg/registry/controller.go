package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	talosErrors "github.com/wehubfusion/Talos/pkg/errors"
)

// LocalController runs an experiment in-process. Running cycles happen on a
// background goroutine between Resume and Pause; Step, Reload and Close wait
// for that goroutine to stop and must not be called from within a step.
type LocalController struct {
	id     string
	exp    Experiment
	logger *zap.Logger
	tracer trace.Tracer
	delay  time.Duration

	mu     sync.Mutex
	opened bool
	closed bool
	stop   chan struct{}
	done   chan struct{}
	cycles int
}

// NewLocalController creates a controller for exp.
func NewLocalController(exp Experiment, logger *zap.Logger) (Controller, error) {
	if exp == nil {
		return nil, fmt.Errorf("experiment cannot be nil")
	}
	if exp.Scope() == nil {
		return nil, fmt.Errorf("experiment %s has no scope", exp.Name())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalController{
		id:     uuid.NewString(),
		exp:    exp,
		logger: logger.With(zap.String("experiment", exp.Name())),
		tracer: otel.Tracer("talos/controller"),
	}, nil
}

// SetCycleDelay sets a minimum pause between running cycles.
func (c *LocalController) SetCycleDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// ID returns the controller's uuid.
func (c *LocalController) ID() string             { return c.id }
func (c *LocalController) Experiment() Experiment { return c.exp }

// Cycles returns the number of cycles run since the last open or reload.
func (c *LocalController) Cycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles
}

// Open initializes the experiment. Opening twice is a no-op.
func (c *LocalController) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return talosErrors.ErrControllerClosed
	}
	if c.opened {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	res, err := c.exp.Scope().Init(c.exp)
	if err != nil {
		return fmt.Errorf("failed to initialize experiment %s: %w", c.exp.Name(), err)
	}
	if !res.Passed() {
		c.logger.Warn("Experiment initialization did not complete")
	}

	c.mu.Lock()
	c.opened = true
	c.cycles = 0
	c.mu.Unlock()

	c.logger.Info("Experiment opened", zap.String("controller_id", c.id))
	return nil
}

// Step pauses the experiment and runs exactly one cycle.
func (c *LocalController) Step(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.waitLoop(ctx); err != nil {
		return err
	}
	return c.stepOnce(ctx)
}

// Pause asks the running loop to stop after the current cycle. It does not
// wait, so it may be called from within a step.
func (c *LocalController) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signalStopLocked()
	return nil
}

// Resume starts running cycles until paused, closed, or ctx ends.
func (c *LocalController) Resume(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return nil
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done
	go c.run(ctx, stop, done)
	return nil
}

// Reload stops the experiment and recreates its simulation.
func (c *LocalController) Reload(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.waitLoop(ctx); err != nil {
		return err
	}
	if err := c.exp.Reload(c.exp.Scope()); err != nil {
		return fmt.Errorf("failed to reload experiment %s: %w", c.exp.Name(), err)
	}
	c.mu.Lock()
	c.cycles = 0
	c.mu.Unlock()
	c.logger.Info("Experiment reloaded")
	return nil
}

// Close stops the experiment and disposes its scope.
func (c *LocalController) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.waitLoop(ctx)
	c.exp.Scope().Clear()
	c.logger.Info("Experiment closed", zap.Int("cycles", c.Cycles()))
	return err
}

// Paused reports whether no cycles are running.
func (c *LocalController) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done == nil
}

func (c *LocalController) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return talosErrors.ErrControllerClosed
	}
	if !c.opened {
		return fmt.Errorf("experiment %s is not open", c.exp.Name())
	}
	return nil
}

func (c *LocalController) signalStopLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// waitLoop stops the running loop and waits for it to exit.
func (c *LocalController) waitLoop(ctx context.Context) error {
	c.mu.Lock()
	c.signalStopLocked()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *LocalController) run(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.done == done {
			c.done = nil
			c.signalStopLocked()
		}
		c.mu.Unlock()
		close(done)
	}()

	c.logger.Debug("Experiment running")
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Experiment stopped due to context cancellation")
			return
		case <-stop:
			c.logger.Debug("Experiment paused")
			return
		default:
		}

		if err := c.stepOnce(ctx); err != nil {
			c.logger.Info("Experiment stopped", zap.Error(err))
			return
		}

		c.mu.Lock()
		delay := c.delay
		c.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *LocalController) stepOnce(ctx context.Context) error {
	cycle := c.Cycles()
	_, span := c.tracer.Start(ctx, "controller.step",
		trace.WithAttributes(
			attribute.String("experiment", c.exp.Name()),
			attribute.String("controller.id", c.id),
			attribute.Int("cycle", cycle),
		))
	defer span.End()

	start := time.Now()
	res, err := c.exp.Scope().Step(c.exp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if !res.Passed() {
		span.SetStatus(codes.Error, "experiment finished")
		return talosErrors.ErrExperimentFinished
	}

	c.mu.Lock()
	c.cycles++
	c.mu.Unlock()

	span.SetAttributes(attribute.Int64("step.duration_ms", time.Since(start).Milliseconds()))
	span.SetStatus(codes.Ok, "")
	return nil
}

var _ Controller = (*LocalController)(nil)
