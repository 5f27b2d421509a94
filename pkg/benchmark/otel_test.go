package benchmark

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wehubfusion/Talos/pkg/runtime"
)

func TestOtelRecordsSpanPerUnit(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	hook, err := NewOtel(context.Background(), provider.Tracer("test"), noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	s := runtime.NewScope(nil, "sim")
	hook.Start(s, namedUnit("wolf")).Stop()

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "wolf", ended[0].Name())

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "sim", attrs["talos.scope"])
	assert.Equal(t, "wolf", attrs["talos.unit"])
}

func TestMultiStopsEveryHook(t *testing.T) {
	a, clockA := newTestRecorder("a")
	b, _ := newTestRecorder("b")
	s := runtime.NewScope(nil, "sim")

	w := Multi{a, nil, b}.Start(s, namedUnit("wolf"))
	clockA.advance(1)
	w.Stop()

	assert.Len(t, a.Report().Units, 1)
	assert.Len(t, b.Report().Units, 1)
}

func TestScopeStepFeedsRecorder(t *testing.T) {
	r, _ := newTestRecorder("exp")
	s := runtime.NewScope(nil, "sim", runtime.WithBenchmark(r))
	agent := &stepAgent{name: "wolf"}

	res, err := s.Step(agent)
	require.NoError(t, err)
	require.True(t, res.Passed())

	report := r.Report()
	require.Len(t, report.Units, 1)
	assert.Equal(t, "wolf", report.Units[0].Unit)
	assert.Equal(t, int64(1), report.Units[0].Count)
}

type stepAgent struct{ name string }

func (a *stepAgent) Init(s *runtime.Scope) (any, error)  { return nil, nil }
func (a *stepAgent) Step(s *runtime.Scope) (any, error)  { return nil, nil }
func (a *stepAgent) Name() string                        { return a.name }
func (a *stepAgent) Dead() bool                          { return false }
func (a *stepAgent) Attribute(string) (any, bool)        { return nil, false }
func (a *stepAgent) SetAttribute(string, any)            {}
func (a *stepAgent) Population() any                     { return nil }
func (a *stepAgent) Topology() any                       { return nil }
func (a *stepAgent) Scope() *runtime.Scope               { return nil }
