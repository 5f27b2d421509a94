package registry

import (
	"context"

	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/runtime"
)

// Policy is the error-reporting policy shared by every scope of a registry.
type Policy struct {
	registry *Registry
}

// ReportAndThrowIfNeeded surfaces err and decides whether execution stops.
// It returns err when the caller must propagate it: in try mode, and for
// stopping errors in headless non-server sessions. Other stopping errors
// pause the frontmost experiment.
func (p *Policy) ReportAndThrowIfNeeded(s *runtime.Scope, err *runtime.RuntimeError, shouldStop bool) error {
	if err == nil {
		return nil
	}
	if s == nil || s.IsInTryMode() {
		return err
	}

	opts := p.registry.opts
	isError := !err.Warning || opts.WarningsAsErrors
	stop := isError && shouldStop && opts.RevealAndStop

	if s.ReportsErrors() && !err.Reported() {
		s.GUI().RuntimeError(s, err)
	}
	err.MarkReported()

	level := zap.WarnLevel
	if isError {
		level = zap.ErrorLevel
	}
	if ce := p.registry.logger.Check(level, "Runtime error"); ce != nil {
		ce.Write(
			zap.String("scope", s.Name()),
			zap.String("agent", err.AgentName),
			zap.String("code", runtime.ErrorCode(err)),
			zap.Bool("stop", stop),
			zap.Error(err))
	}

	if !stop {
		return nil
	}
	if opts.Headless && !opts.ServerMode {
		return err
	}
	if pauseErr := p.registry.PauseFrontmostExperiment(context.Background()); pauseErr != nil {
		p.registry.logger.Debug("No experiment to pause", zap.Error(pauseErr))
	}
	return nil
}

var _ runtime.ErrorPolicy = (*Policy)(nil)
