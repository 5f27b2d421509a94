// Package notify publishes registry events to NATS.
//
// A Publisher listens to a registry and publishes one JSON event per focus
// change and per experiment opened or closed:
//
//	<prefix>.focus
//	<prefix>.experiment.opened
//	<prefix>.experiment.closed
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	talosErrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/registry"
	"github.com/wehubfusion/Talos/pkg/runtime"
)

// Event types.
const (
	EventFocus            = "focus"
	EventExperimentOpened = "experiment.opened"
	EventExperimentClosed = "experiment.closed"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subj string, data []byte) error
}

// Event is the payload of every published message.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	Time       time.Time `json:"time"`
	Agent      string    `json:"agent,omitempty"`
	Cycle      int       `json:"cycle,omitempty"`
	Controller string    `json:"controller,omitempty"`
	Experiment string    `json:"experiment,omitempty"`
}

// Config configures a Publisher.
type Config struct {
	// Prefix is prepended to every subject. Defaults to "talos".
	Prefix string

	// RunID is copied into every event.
	RunID string

	// MaxRetries is the number of retries after a failed publish (default: 3).
	MaxRetries int

	// RetryDelay is the wait between attempts (default: 100ms).
	RetryDelay time.Duration

	// Timeout bounds one event including its retries (default: 5s).
	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "talos"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
}

// Publisher publishes registry events. Listener callbacks cannot fail, so
// publish errors are logged.
type Publisher struct {
	conn   Conn
	config Config
	logger *zap.Logger
}

// NewPublisher creates a publisher on conn.
func NewPublisher(conn Conn, config Config, logger *zap.Logger) (*Publisher, error) {
	if conn == nil {
		return nil, talosErrors.ErrNotConnected
	}
	config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: conn, config: config, logger: logger}, nil
}

// Attach registers p on r for focus and lifecycle events.
func (p *Publisher) Attach(r *registry.Registry) {
	r.AddTopLevelAgentListener(p)
	r.AddExperimentListener(p)
}

// Subject returns the subject of an event type.
func (p *Publisher) Subject(eventType string) string {
	return p.config.Prefix + "." + eventType
}

// TopLevelAgentChanged publishes a focus event.
func (p *Publisher) TopLevelAgentChanged(agent runtime.TopLevelAgent) {
	ev := p.newEvent(EventFocus)
	if agent != nil {
		ev.Agent = agent.Name()
		ev.Cycle = agent.Cycle()
	}
	p.send(ev)
}

// ExperimentOpened publishes an experiment.opened event.
func (p *Publisher) ExperimentOpened(c registry.Controller) {
	p.send(p.experimentEvent(EventExperimentOpened, c))
}

// ExperimentClosed publishes an experiment.closed event.
func (p *Publisher) ExperimentClosed(c registry.Controller) {
	p.send(p.experimentEvent(EventExperimentClosed, c))
}

func (p *Publisher) experimentEvent(eventType string, c registry.Controller) Event {
	ev := p.newEvent(eventType)
	ev.Controller = c.ID()
	if exp := c.Experiment(); exp != nil {
		ev.Experiment = exp.Name()
		ev.Cycle = exp.Cycle()
	}
	return ev
}

func (p *Publisher) newEvent(eventType string) Event {
	return Event{
		ID:    uuid.NewString(),
		Type:  eventType,
		RunID: p.config.RunID,
		Time:  time.Now().UTC(),
	}
}

func (p *Publisher) send(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	if err := p.Publish(ctx, ev); err != nil {
		p.logger.Warn("Failed to publish event",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type),
			zap.Error(err))
	}
}

// Publish marshals ev and publishes it, retrying failed attempts.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := p.Subject(ev.Type)

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled during retry: %w", ctx.Err())
			case <-time.After(p.config.RetryDelay):
			}
		}

		if err := p.conn.Publish(subject, data); err != nil {
			lastErr = err
			p.logger.Debug("Publish attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", p.config.MaxRetries+1),
				zap.String("subject", subject),
				zap.Error(err))
			continue
		}

		p.logger.Debug("Published event",
			zap.String("subject", subject),
			zap.String("event_id", ev.ID))
		return nil
	}
	return fmt.Errorf("%w after %d attempts: %w", talosErrors.ErrPublishFailed, p.config.MaxRetries+1, lastErr)
}

var (
	_ registry.TopLevelAgentListener = (*Publisher)(nil)
	_ registry.ExperimentListener    = (*Publisher)(nil)
)
