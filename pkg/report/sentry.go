// Package report surfaces runtime errors outside the process.
//
// SentryGUI is a runtime.GUI for headless and server runs: runtime errors
// become Sentry events tagged with their code, scope and agent, and status
// messages become breadcrumbs attached to the next event.
package report

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/concurrency"
	"github.com/wehubfusion/Talos/pkg/runtime"
)

// SentryConfig configures a SentryGUI.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string

	// Tags are set on every event, e.g. the run id.
	Tags map[string]string

	// Transport replaces the HTTP transport; tests use sentry.MockTransport.
	Transport sentry.Transport

	// Confirm answers GUI confirmations. Nil approves everything.
	Confirm func(title, message string) bool

	// FlushTimeout bounds Close. Defaults to 2s.
	FlushTimeout time.Duration

	// Gate bounds concurrent surfacing, usually Config.DisplayGate. Nil
	// leaves it unbounded.
	Gate *concurrency.Gate
}

// SentryConfigFromEnv reads TALOS_SENTRY_DSN and TALOS_SENTRY_ENVIRONMENT.
func SentryConfigFromEnv() SentryConfig {
	return SentryConfig{
		DSN:         os.Getenv("TALOS_SENTRY_DSN"),
		Environment: os.Getenv("TALOS_SENTRY_ENVIRONMENT"),
	}
}

// SentryGUI reports to its own Sentry hub, leaving the global hub untouched.
type SentryGUI struct {
	hub          *sentry.Hub
	logger       *zap.Logger
	confirm      func(title, message string) bool
	flushTimeout time.Duration
	gate         *concurrency.Gate
}

// NewSentryGUI creates a SentryGUI. With neither a DSN nor a transport, events
// are dropped.
func NewSentryGUI(config SentryConfig, logger *zap.Logger) (*SentryGUI, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FlushTimeout == 0 {
		config.FlushTimeout = 2 * time.Second
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         config.DSN,
		Environment: config.Environment,
		Release:     config.Release,
		Transport:   config.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}

	scope := sentry.NewScope()
	scope.SetTags(config.Tags)

	return &SentryGUI{
		hub:          sentry.NewHub(client, scope),
		logger:       logger,
		confirm:      config.Confirm,
		flushTimeout: config.FlushTimeout,
		gate:         config.Gate,
	}, nil
}

// RuntimeError captures err. Warnings are sent at warning level.
func (g *SentryGUI) RuntimeError(s *runtime.Scope, err *runtime.RuntimeError) {
	defer g.enter()()

	var id *sentry.EventID
	g.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("code", runtime.ErrorCode(err))
		scope.SetTag("kind", err.Kind.String())
		if err.AgentName != "" {
			scope.SetTag("agent", err.AgentName)
		}
		if s != nil {
			scope.SetTag("scope", s.Name())
		}
		scope.SetContext("talos", sentry.Context(runtime.ErrorDetails(err)))
		if err.Warning {
			scope.SetLevel(sentry.LevelWarning)
		} else {
			scope.SetLevel(sentry.LevelError)
		}
		id = g.hub.CaptureException(err)
	})

	if id != nil {
		g.logger.Debug("Runtime error sent to Sentry",
			zap.String("event_id", string(*id)),
			zap.String("agent", err.AgentName))
	}
}

// Status records message as a breadcrumb.
func (g *SentryGUI) Status(s *runtime.Scope, message string) {
	defer g.enter()()

	crumb := &sentry.Breadcrumb{
		Category: "status",
		Message:  message,
		Level:    sentry.LevelInfo,
	}
	if s != nil {
		crumb.Data = map[string]any{"scope": s.Name()}
	}
	g.hub.AddBreadcrumb(crumb, nil)
}

// enter waits for a display permit and returns its release.
func (g *SentryGUI) enter() func() {
	if g.gate == nil || !g.gate.Acquire(context.Background()) {
		return func() {}
	}
	return g.gate.Release
}

// Confirm asks the configured callback, approving when there is none.
func (g *SentryGUI) Confirm(title, message string) bool {
	if g.confirm == nil {
		return true
	}
	return g.confirm(title, message)
}

// Close flushes buffered events.
func (g *SentryGUI) Close() error {
	if !g.hub.Flush(g.flushTimeout) {
		return fmt.Errorf("sentry flush timed out after %s", g.flushTimeout)
	}
	return nil
}

var _ runtime.GUI = (*SentryGUI)(nil)
