package script

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
)

// VMPool keeps JavaScript runtimes for reuse. A runtime serves one run at a
// time.
type VMPool struct {
	pool   chan *pooledVM
	config Config

	currentSize   atomic.Int32
	totalCreated  atomic.Int64
	totalAcquired atomic.Int64
	totalReleased atomic.Int64

	mu     sync.Mutex
	closed bool
}

type pooledVM struct {
	vm         *goja.Runtime
	api        *binding
	baseline   map[string]struct{}
	reuseCount int
}

// NewVMPool creates a pool and its MinSize runtimes.
func NewVMPool(config Config) (*VMPool, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &VMPool{
		pool:   make(chan *pooledVM, config.Pool.MaxSize),
		config: config,
	}
	for i := 0; i < config.Pool.MinSize; i++ {
		p.currentSize.Add(1)
		vm, err := p.createVM()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create initial VM: %w", err)
		}
		p.pool <- vm
	}
	return p, nil
}

// acquire takes an idle runtime, creates one while below MaxSize, or waits.
func (p *VMPool) acquire(ctx context.Context) (*pooledVM, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}
	p.mu.Unlock()

	p.totalAcquired.Add(1)

	select {
	case vm, ok := <-p.pool:
		return p.reuse(vm, ok)
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if p.reserve() {
		return p.createVM()
	}

	select {
	case vm, ok := <-p.pool:
		return p.reuse(vm, ok)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *VMPool) reuse(vm *pooledVM, ok bool) (*pooledVM, error) {
	if !ok {
		return nil, fmt.Errorf("pool is closed")
	}
	vm.reuseCount++
	if vm.reuseCount >= p.config.Pool.MaxReuseCount {
		p.destroyVM(vm)
		p.currentSize.Add(1)
		return p.createVM()
	}
	return vm, nil
}

// reserve claims a slot for a new runtime while the pool is below MaxSize.
func (p *VMPool) reserve() bool {
	for {
		n := p.currentSize.Load()
		if int(n) >= p.config.Pool.MaxSize {
			return false
		}
		if p.currentSize.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release resets vm and returns it to the pool. A runtime that cannot be
// reset is dropped.
func (p *VMPool) release(vm *pooledVM) {
	if vm == nil {
		return
	}
	p.totalReleased.Add(1)

	if err := p.resetVM(vm); err != nil {
		p.destroyVM(vm)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.destroyVM(vm)
		return
	}
	select {
	case p.pool <- vm:
	default:
		p.destroyVM(vm)
	}
}

// createVM builds a runtime for a slot the caller already counted in
// currentSize. The slot is given back on failure.
func (p *VMPool) createVM() (*pooledVM, error) {
	vm := goja.New()
	if err := applySandbox(vm, p.config); err != nil {
		p.currentSize.Add(-1)
		return nil, fmt.Errorf("failed to create secure context: %w", err)
	}

	api := &binding{}
	if err := api.install(vm); err != nil {
		p.currentSize.Add(-1)
		return nil, fmt.Errorf("failed to install scope API: %w", err)
	}

	names, err := globalNames(vm)
	if err != nil {
		p.currentSize.Add(-1)
		return nil, err
	}

	p.totalCreated.Add(1)
	return &pooledVM{vm: vm, api: api, baseline: names}, nil
}

// resetVM deletes the globals a run added and clears a pending interrupt.
func (p *VMPool) resetVM(vm *pooledVM) error {
	vm.vm.ClearInterrupt()
	vm.api.unbind()

	names, err := globalNames(vm.vm)
	if err != nil {
		return err
	}
	global := vm.vm.GlobalObject()
	for name := range names {
		if _, ok := vm.baseline[name]; ok {
			continue
		}
		if err := global.Delete(name); err != nil {
			return fmt.Errorf("failed to delete global %s: %w", name, err)
		}
	}
	return nil
}

func (p *VMPool) destroyVM(vm *pooledVM) {
	if vm == nil || vm.vm == nil {
		return
	}
	vm.api.unbind()
	vm.vm = nil
	p.currentSize.Add(-1)
}

func globalNames(vm *goja.Runtime) (map[string]struct{}, error) {
	v, err := vm.RunString("Object.getOwnPropertyNames(this)")
	if err != nil {
		return nil, fmt.Errorf("failed to list globals: %w", err)
	}
	exported, _ := v.Export().([]any)
	names := make(map[string]struct{}, len(exported))
	for _, n := range exported {
		if s, ok := n.(string); ok {
			names[s] = struct{}{}
		}
	}
	return names, nil
}

// Close destroys the idle runtimes. Runtimes in use are dropped when released.
func (p *VMPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.pool)
	for vm := range p.pool {
		p.destroyVM(vm)
	}
	return nil
}

// PoolStats contains pool statistics.
type PoolStats struct {
	CurrentSize   int   `json:"current_size"`
	MaxSize       int   `json:"max_size"`
	TotalCreated  int64 `json:"total_created"`
	TotalAcquired int64 `json:"total_acquired"`
	TotalReleased int64 `json:"total_released"`
	Available     int   `json:"available"`
}

// Stats returns pool statistics.
func (p *VMPool) Stats() PoolStats {
	return PoolStats{
		CurrentSize:   int(p.currentSize.Load()),
		MaxSize:       p.config.Pool.MaxSize,
		TotalCreated:  p.totalCreated.Load(),
		TotalAcquired: p.totalAcquired.Load(),
		TotalReleased: p.totalReleased.Load(),
		Available:     len(p.pool),
	}
}

func (s PoolStats) String() string {
	return fmt.Sprintf("Pool Stats: Current=%d, Max=%d, Created=%d, Acquired=%d, Released=%d, Available=%d",
		s.CurrentSize, s.MaxSize, s.TotalCreated, s.TotalAcquired, s.TotalReleased, s.Available)
}
