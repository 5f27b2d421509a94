package runtime

import "sync"

type testAgent struct {
	name   string
	dead   bool
	attrs  map[string]any
	scope  *Scope
	initFn func(s *Scope) (any, error)
	stepFn func(s *Scope) (any, error)

	mu    sync.Mutex
	steps int
}

func newTestAgent(name string) *testAgent {
	return &testAgent{name: name, attrs: map[string]any{}}
}

func (a *testAgent) Init(s *Scope) (any, error) {
	if a.initFn != nil {
		return a.initFn(s)
	}
	return nil, nil
}

func (a *testAgent) Step(s *Scope) (any, error) {
	a.mu.Lock()
	a.steps++
	a.mu.Unlock()
	if a.stepFn != nil {
		return a.stepFn(s)
	}
	return a.name, nil
}

func (a *testAgent) Steps() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.steps
}

func (a *testAgent) Name() string { return a.name }
func (a *testAgent) Dead() bool   { return a.dead }

func (a *testAgent) Attribute(name string) (any, bool) {
	v, ok := a.attrs[name]
	return v, ok
}

func (a *testAgent) SetAttribute(name string, value any) { a.attrs[name] = value }
func (a *testAgent) Population() any                     { return nil }
func (a *testAgent) Topology() any                       { return nil }
func (a *testAgent) Scope() *Scope                       { return a.scope }

type testTopLevel struct {
	testAgent
	cycle int
}

func newTestTopLevel(name string) *testTopLevel {
	return &testTopLevel{testAgent: testAgent{name: name, attrs: map[string]any{}}}
}

func (t *testTopLevel) Cycle() int { return t.cycle }

type recordingPolicy struct {
	mu     sync.Mutex
	errs   []*RuntimeError
	result error
}

func (p *recordingPolicy) ReportAndThrowIfNeeded(s *Scope, err *RuntimeError, shouldStop bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
	err.MarkReported()
	return p.result
}

func (p *recordingPolicy) Errors() []*RuntimeError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*RuntimeError(nil), p.errs...)
}

type countingBenchmark struct {
	mu      sync.Mutex
	started int
	stopped int
}

type countingStopwatch struct{ b *countingBenchmark }

func (w countingStopwatch) Stop() {
	w.b.mu.Lock()
	w.b.stopped++
	w.b.mu.Unlock()
}

func (b *countingBenchmark) Start(s *Scope, unit any) Stopwatch {
	b.mu.Lock()
	b.started++
	b.mu.Unlock()
	return countingStopwatch{b: b}
}

type testSymbol string

func (t testSymbol) Name() string          { return string(t) }
func (t testSymbol) Trace(s *Scope) string { return "run " + string(t) }
