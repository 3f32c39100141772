// Package pubsub publishes accepted job records to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/jobhunt-agent/internal/publisher"
)

// Config names the project and topic records are published to.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Publisher sends each record as one message. The topic argument of Publish
// is ignored; the topic is fixed when the publisher is created.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Publisher
}

// New wraps an existing topic publisher. The caller keeps ownership of its
// client.
func New(topic *pubsub.Publisher) *Publisher {
	return &Publisher{topic: topic}
}

// Dial connects to cfg.ProjectID and publishes to cfg.Topic.
func Dial(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, errors.New("pubsub project_id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client, topic: client.Publisher(cfg.Topic)}, nil
}

// Publish blocks until the broker acknowledges the message or ctx ends.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p.topic == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	msg, err := publisher.Encode(ctx, payload)
	if err != nil {
		return "", err
	}
	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: msg.Data, Attributes: msg.Attributes}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish record: %w", err)
	}
	return id, nil
}

// Close flushes buffered messages, then closes the client if Dial made it.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
