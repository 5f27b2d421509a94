package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/storage"
)

// UnitReport holds the timings of one unit. Durations are in nanoseconds.
type UnitReport struct {
	Unit  string        `json:"unit"`
	Count int64         `json:"count"`
	Total time.Duration `json:"total_ns"`
	Min   time.Duration `json:"min_ns"`
	Max   time.Duration `json:"max_ns"`
	Mean  time.Duration `json:"mean_ns"`
}

// Report is the result of a benchmark session.
type Report struct {
	Name    string        `json:"name"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Units   []UnitReport  `json:"units"`
}

// JSON encodes the report.
func (r Report) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// Log writes a summary line and one line per unit, up to limit units.
func (r Report) Log(logger *zap.Logger, limit int) {
	logger.Info("Benchmark report",
		zap.String("name", r.Name),
		zap.Duration("elapsed", r.Elapsed),
		zap.Int("units", len(r.Units)))
	for i, u := range r.Units {
		if limit > 0 && i >= limit {
			break
		}
		logger.Info("Benchmark unit",
			zap.String("unit", u.Unit),
			zap.Int64("count", u.Count),
			zap.Duration("total", u.Total),
			zap.Duration("mean", u.Mean),
			zap.Duration("max", u.Max))
	}
}

// Export uploads the report as a standalone JSON blob.
func Export(ctx context.Context, store storage.ReportStore, path string, r Report) (string, error) {
	data, err := r.JSON()
	if err != nil {
		return "", fmt.Errorf("failed to marshal benchmark report: %w", err)
	}
	return store.Upload(ctx, path, data, map[string]string{
		"name":  r.Name,
		"units": fmt.Sprintf("%d", len(r.Units)),
	})
}

// Archive appends the report to the archive of a run.
func Archive(ctx context.Context, archive *storage.ArchiveClient, runID, controllerID string, r Report) (string, error) {
	data, err := r.JSON()
	if err != nil {
		return "", fmt.Errorf("failed to marshal benchmark report: %w", err)
	}
	return archive.Append(ctx, runID, &storage.ArchiveEntry{
		ControllerID: controllerID,
		Experiment:   r.Name,
		StoredAt:     time.Now(),
		Report:       data,
	})
}
