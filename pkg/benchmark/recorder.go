// Package benchmark provides implementations of the runtime benchmark hook:
// an in-memory Recorder producing JSON reports, an OpenTelemetry hook and a
// fan-out combining several hooks.
package benchmark

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wehubfusion/Talos/pkg/runtime"
)

// UnitName returns the label under which a unit of work is measured.
func UnitName(unit any) string {
	switch u := unit.(type) {
	case nil:
		return "<nil>"
	case interface{ Name() string }:
		return u.Name()
	case fmt.Stringer:
		return u.String()
	}
	return fmt.Sprintf("%T", unit)
}

type unitStats struct {
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// Recorder accumulates per-unit timings in memory.
type Recorder struct {
	name string
	now  func() time.Time

	mu       sync.Mutex
	units    map[string]*unitStats
	started  time.Time
	finished time.Time
}

// NewRecorder creates a recorder named after the experiment it measures.
func NewRecorder(name string) *Recorder {
	return &Recorder{
		name:    name,
		now:     time.Now,
		units:   make(map[string]*unitStats),
		started: time.Now(),
	}
}

// Start begins measuring unit.
func (r *Recorder) Start(s *runtime.Scope, unit any) runtime.Stopwatch {
	return &stopwatch{recorder: r, unit: UnitName(unit), start: r.now()}
}

type stopwatch struct {
	recorder *Recorder
	unit     string
	start    time.Time
	once     sync.Once
}

// Stop records the elapsed time. Only the first call counts.
func (w *stopwatch) Stop() {
	w.once.Do(func() {
		w.recorder.record(w.unit, w.recorder.now().Sub(w.start))
	})
}

func (r *Recorder) record(unit string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finished.IsZero() {
		return
	}
	st, ok := r.units[unit]
	if !ok {
		st = &unitStats{min: elapsed, max: elapsed}
		r.units[unit] = st
	}
	st.count++
	st.total += elapsed
	st.min = min(st.min, elapsed)
	st.max = max(st.max, elapsed)
}

// Finish stops recording and returns the final report. Later measurements
// are ignored.
func (r *Recorder) Finish() Report {
	r.mu.Lock()
	if r.finished.IsZero() {
		r.finished = r.now()
	}
	r.mu.Unlock()
	return r.Report()
}

// Report returns a snapshot of the measurements, slowest units first.
func (r *Recorder) Report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	end := r.finished
	if end.IsZero() {
		end = r.now()
	}

	report := Report{
		Name:    r.name,
		Started: r.started,
		Elapsed: end.Sub(r.started),
		Units:   make([]UnitReport, 0, len(r.units)),
	}
	for name, st := range r.units {
		report.Units = append(report.Units, UnitReport{
			Unit:  name,
			Count: st.count,
			Total: st.total,
			Min:   st.min,
			Max:   st.max,
			Mean:  st.total / time.Duration(st.count),
		})
	}
	sort.Slice(report.Units, func(i, j int) bool {
		if report.Units[i].Total == report.Units[j].Total {
			return report.Units[i].Unit < report.Units[j].Unit
		}
		return report.Units[i].Total > report.Units[j].Total
	})
	return report
}

// Reset drops every measurement and restarts the clock.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = make(map[string]*unitStats)
	r.started = r.now()
	r.finished = time.Time{}
}

var _ runtime.Benchmark = (*Recorder)(nil)
