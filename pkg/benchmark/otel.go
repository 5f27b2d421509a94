package benchmark

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wehubfusion/Talos/pkg/runtime"
)

const instrumentationName = "github.com/wehubfusion/Talos/pkg/benchmark"

// Otel reports every measured unit as a span and as a duration histogram.
type Otel struct {
	ctx      context.Context
	tracer   trace.Tracer
	duration metric.Float64Histogram
	units    metric.Int64Counter
}

// NewOtel creates the hook. Nil tracer or meter fall back to the global
// providers; ctx is the parent of every span.
func NewOtel(ctx context.Context, tracer trace.Tracer, meter metric.Meter) (*Otel, error) {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	duration, err := meter.Float64Histogram("talos.unit.duration",
		metric.WithDescription("Duration of init and step calls"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	units, err := meter.Int64Counter("talos.unit.count",
		metric.WithDescription("Number of init and step calls"))
	if err != nil {
		return nil, fmt.Errorf("failed to create unit counter: %w", err)
	}

	return &Otel{ctx: ctx, tracer: tracer, duration: duration, units: units}, nil
}

// Start opens a span for unit.
func (o *Otel) Start(s *runtime.Scope, unit any) runtime.Stopwatch {
	attrs := []attribute.KeyValue{
		attribute.String("talos.unit", UnitName(unit)),
		attribute.String("talos.scope", s.Name()),
	}
	ctx, span := o.tracer.Start(o.ctx, UnitName(unit), trace.WithAttributes(attrs...))
	return &otelStopwatch{otel: o, ctx: ctx, span: span, attrs: attrs, start: time.Now()}
}

type otelStopwatch struct {
	otel  *Otel
	ctx   context.Context
	span  trace.Span
	attrs []attribute.KeyValue
	start time.Time
}

func (w *otelStopwatch) Stop() {
	opt := metric.WithAttributes(w.attrs...)
	w.otel.duration.Record(w.ctx, time.Since(w.start).Seconds(), opt)
	w.otel.units.Add(w.ctx, 1, opt)
	w.span.End()
}

// Multi fans measurements out to several hooks.
type Multi []runtime.Benchmark

// Start starts every hook.
func (m Multi) Start(s *runtime.Scope, unit any) runtime.Stopwatch {
	watches := make(multiStopwatch, 0, len(m))
	for _, b := range m {
		if b != nil {
			watches = append(watches, b.Start(s, unit))
		}
	}
	return watches
}

type multiStopwatch []runtime.Stopwatch

// Stop stops the hooks in reverse start order.
func (w multiStopwatch) Stop() {
	for i := len(w) - 1; i >= 0; i-- {
		w[i].Stop()
	}
}

var (
	_ runtime.Benchmark = (*Otel)(nil)
	_ runtime.Benchmark = Multi(nil)
)
