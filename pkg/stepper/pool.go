package stepper

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/concurrency"
	"github.com/wehubfusion/Talos/pkg/runtime"
)

// Item is one agent of a batch.
type Item struct {
	// Index is the position of the agent in the batch (for result ordering)
	Index int
	Agent runtime.Agent
}

// Result is the outcome of stepping one agent.
type Result struct {
	Index  int
	Result runtime.ExecutionResult
	// Error is set when the step had to stop or the item never ran
	Error error
}

type job struct {
	item Item
	ctx  context.Context
}

// Pool steps agents concurrently, each on its own copy of a parent scope.
// A pool serves one batch: SubmitAll closes it.
type Pool struct {
	config     Config
	gate       *concurrency.Gate
	parent     *runtime.Scope
	jobChan    chan job
	resultChan chan Result
	wg         sync.WaitGroup
	logger     *zap.Logger

	processed atomic.Int64
	errors    atomic.Int64
}

// NewPool creates a pool stepping on copies of parent. A nil gate leaves
// concurrency bounded by the number of workers only.
func NewPool(config Config, parent *runtime.Scope, gate *concurrency.Gate, logger *zap.Logger) *Pool {
	config.Validate()
	if config.Workers <= 0 {
		config.Workers = goruntime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pool{
		config:     config,
		gate:       gate,
		parent:     parent,
		jobChan:    make(chan job, config.BufferSize),
		resultChan: make(chan Result, config.BufferSize),
		logger:     logger,
	}
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Debug("Starting stepping pool",
		zap.Int("workers", p.config.Workers),
		zap.Int("buffer_size", p.config.BufferSize))

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			// Drain so every submitted item still yields a result.
			for j := range p.jobChan {
				p.cancelled(j.item, ctx.Err())
			}
			return
		case j, ok := <-p.jobChan:
			if !ok {
				return
			}
			p.process(j, id)
		}
	}
}

func (p *Pool) cancelled(item Item, err error) {
	p.errors.Add(1)
	p.resultChan <- Result{Index: item.Index, Result: runtime.Failed, Error: err}
}

func (p *Pool) process(j job, workerID int) {
	if err := j.ctx.Err(); err != nil {
		p.cancelled(j.item, err)
		return
	}
	if p.gate != nil {
		if !p.gate.Acquire(j.ctx) {
			p.cancelled(j.item, j.ctx.Err())
			return
		}
		defer p.gate.Release()
	}

	scope := p.parent.Copy(fmt.Sprintf("%s#%d", j.item.Agent.Name(), j.item.Index))
	defer scope.Clear()

	res, err := scope.Step(j.item.Agent)
	if err != nil {
		p.errors.Add(1)
		p.logger.Debug("Agent step failed",
			zap.Int("worker_id", workerID),
			zap.String("agent", j.item.Agent.Name()),
			zap.Error(err))
	} else {
		p.processed.Add(1)
	}
	p.resultChan <- Result{Index: j.item.Index, Result: res, Error: err}
}

// SubmitAll queues every item and closes the job channel. It should be
// called in a goroutine.
func (p *Pool) SubmitAll(ctx context.Context, items []Item) {
	defer close(p.jobChan)
	for i, item := range items {
		select {
		case <-ctx.Done():
			for _, remaining := range items[i:] {
				p.cancelled(remaining, ctx.Err())
			}
			return
		case p.jobChan <- job{item: item, ctx: ctx}:
		}
	}
}

// Results returns the result channel.
func (p *Pool) Results() <-chan Result {
	return p.resultChan
}

// Wait waits for the workers to finish and closes the result channel.
func (p *Pool) Wait() {
	p.wg.Wait()
	close(p.resultChan)
}

// Stats returns the number of successful and failed steps.
func (p *Pool) Stats() (processed, errors int64) {
	return p.processed.Load(), p.errors.Load()
}

// Collect gathers count results ordered by index. It returns the first
// step error in index order, or the first cancellation when nothing else
// failed. When cancel is not nil it is called on the first failed result.
func Collect(results <-chan Result, count int, cancel context.CancelFunc) ([]Result, error) {
	ordered := make([]Result, count)
	for i := range ordered {
		ordered[i] = Result{Index: i, Result: runtime.Failed}
	}

	received := 0
	for r := range results {
		if r.Index >= 0 && r.Index < count {
			ordered[r.Index] = r
		}
		if r.Error != nil && cancel != nil {
			cancel()
		}
		received++
		if received >= count {
			break
		}
	}

	var cancelled error
	for _, r := range ordered {
		if r.Error == nil {
			continue
		}
		if !errors.Is(r.Error, context.Canceled) && !errors.Is(r.Error, context.DeadlineExceeded) {
			return ordered, r.Error
		}
		if cancelled == nil {
			cancelled = r.Error
		}
	}
	return ordered, cancelled
}
