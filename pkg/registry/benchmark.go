package registry

import (
	"context"

	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/benchmark"
	"github.com/wehubfusion/Talos/pkg/runtime"
)

// StartBenchmark installs a recorder, plus the configured hooks, on the
// scope of ctrl's experiment. It does nothing when benchmarking is off.
func (r *Registry) StartBenchmark(ctrl Controller) {
	if !r.opts.Benchmark || ctrl == nil {
		return
	}
	scope := ctrl.Experiment().Scope()
	if scope == nil {
		return
	}

	recorder := benchmark.NewRecorder(ctrl.Experiment().Name())
	r.mu.Lock()
	r.recorders[ctrl.ID()] = recorder
	r.mu.Unlock()

	var hook runtime.Benchmark = recorder
	if len(r.opts.BenchmarkHooks) > 0 {
		hook = append(benchmark.Multi{recorder}, r.opts.BenchmarkHooks...)
	}
	scope.SetBenchmark(hook)

	r.logger.Debug("Benchmark started",
		zap.String("experiment", ctrl.Experiment().Name()),
		zap.String("controller_id", ctrl.ID()))
}

// StopBenchmark finalizes the recorder of ctrl, logs its report and
// archives it when an archive is configured. It reports false when no
// benchmark was running.
func (r *Registry) StopBenchmark(ctx context.Context, ctrl Controller) (benchmark.Report, bool) {
	if ctrl == nil {
		return benchmark.Report{}, false
	}

	r.mu.Lock()
	recorder, ok := r.recorders[ctrl.ID()]
	delete(r.recorders, ctrl.ID())
	r.mu.Unlock()
	if !ok {
		return benchmark.Report{}, false
	}

	report := recorder.Finish()
	if scope := ctrl.Experiment().Scope(); scope != nil && !scope.Disposed() {
		scope.SetBenchmark(nil)
	}
	report.Log(r.logger, 10)

	if r.opts.Archive != nil {
		url, err := benchmark.Archive(ctx, r.opts.Archive, r.opts.RunID, ctrl.ID(), report)
		if err != nil {
			r.logger.Error("Failed to archive benchmark report",
				zap.String("controller_id", ctrl.ID()),
				zap.Error(err))
		} else {
			r.logger.Info("Benchmark report archived", zap.String("url", url))
		}
	}
	return report, true
}
