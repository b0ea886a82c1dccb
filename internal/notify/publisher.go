package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

// Publisher forwards stored notifications to realtime consumers.
type Publisher interface {
	Publish(ctx context.Context, note domain.Notification) error
	Close() error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Publish(context.Context, domain.Notification) error { return nil }
func (Nop) Close() error                                       { return nil }

// PubSubPublisher publishes notifications as JSON to a Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *infra.Logger
}

// NewPubSubPublisher connects to project and binds topicID.
func NewPubSubPublisher(ctx context.Context, project, topicID string, logger *infra.Logger) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("notify: pubsub client: %w", err)
	}
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &PubSubPublisher{client: client, topic: client.Topic(topicID), logger: logger}, nil
}

type wireNotification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	JobID     string `json:"job_id,omitempty"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
}

func encode(note domain.Notification) ([]byte, error) {
	return json.Marshal(wireNotification{
		ID:        note.ID,
		UserID:    note.UserID,
		JobID:     note.JobID,
		Title:     note.Title,
		Message:   note.Message,
		Type:      string(note.Type),
		CreatedAt: note.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (p *PubSubPublisher) Publish(ctx context.Context, note domain.Notification) error {
	data, err := encode(note)
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"user_id": note.UserID, "type": string(note.Type)},
	})
	id, err := res.Get(ctx)
	if err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	p.logger.Debug().Str("message_id", id).Str("user_id", note.UserID).Msg("notify: published")
	return nil
}

func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
