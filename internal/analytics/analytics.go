// Package analytics records product events.
package analytics

import (
	"fmt"
	"time"

	"github.com/posthog/posthog-go"

	"cardgen/internal/infra"
)

const (
	EventJobCreated = "generation_job_created"
	EventJobSettled = "generation_job_settled"
)

// Tracker captures events for a user.
type Tracker interface {
	Track(userID, event string, props map[string]any)
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Track(string, string, map[string]any) {}
func (Nop) Close() error                         { return nil }

// PostHog enqueues events on a batching PostHog client.
type PostHog struct {
	client posthog.Client
	logger *infra.Logger
}

// New returns a PostHog tracker, or Nop when apiKey is empty.
func New(apiKey, endpoint string, logger *infra.Logger) (Tracker, error) {
	if apiKey == "" {
		return Nop{}, nil
	}
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	cfg := posthog.Config{Endpoint: endpoint, Interval: 5 * time.Second}
	client, err := posthog.NewWithConfig(apiKey, cfg)
	if err != nil {
		return nil, fmt.Errorf("analytics: posthog: %w", err)
	}
	return &PostHog{client: client, logger: logger}, nil
}

func (p *PostHog) Track(userID, event string, props map[string]any) {
	err := p.client.Enqueue(posthog.Capture{
		DistinctId: userID,
		Event:      event,
		Properties: posthog.Properties(props),
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("event", event).Msg("analytics: enqueue failed")
	}
}

// Close flushes queued events.
func (p *PostHog) Close() error {
	return p.client.Close()
}
