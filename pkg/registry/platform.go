package registry

import (
	"sync"
	"sync/atomic"

	"github.com/wehubfusion/Talos/pkg/runtime"
)

// PlatformAgent is the top-level agent focused when no experiment runs.
type PlatformAgent struct {
	scope *runtime.Scope
	dead  atomic.Bool

	mu    sync.RWMutex
	attrs map[string]any
}

func newPlatformAgent(r *Registry) *PlatformAgent {
	p := &PlatformAgent{attrs: make(map[string]any)}
	p.scope = r.NewScope(p, "platform")
	return p
}

func (p *PlatformAgent) Init(s *runtime.Scope) (any, error) { return nil, nil }
func (p *PlatformAgent) Step(s *runtime.Scope) (any, error) { return nil, nil }
func (p *PlatformAgent) Name() string                       { return "platform" }
func (p *PlatformAgent) Dead() bool                         { return p.dead.Load() }
func (p *PlatformAgent) Population() any                    { return nil }
func (p *PlatformAgent) Topology() any                      { return nil }
func (p *PlatformAgent) Scope() *runtime.Scope              { return p.scope }
func (p *PlatformAgent) Cycle() int                         { return 0 }

func (p *PlatformAgent) Attribute(name string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.attrs[name]
	return v, ok
}

func (p *PlatformAgent) SetAttribute(name string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attrs[name] = value
}

func (p *PlatformAgent) dispose() {
	p.dead.Store(true)
	p.scope.Clear()
}

var _ runtime.TopLevelAgent = (*PlatformAgent)(nil)
