package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes tenant lifecycle events to a durable JetStream
// stream, creating the stream on construction if it is absent.
type Publisher struct {
	js         jetstream.JetStream
	streamName string
	logger     *slog.Logger
}

// NewPublisher connects to natsURL and ensures the stream exists with
// subject pattern "{streamName}.*", retention by limits, and a 10,000
// message bound.
func NewPublisher(ctx context.Context, natsURL, streamName string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("events: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("events: jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{streamName + ".*"},
		MaxMsgs:   10_000,
		Retention: jetstream.LimitsPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("events: create stream: %w", err)
	}

	return &Publisher{js: js, streamName: streamName, logger: logger}, nil
}

func (p *Publisher) publish(ctx context.Context, tag Tag, env TenantEvent) error {
	env.Tag = tag
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", p.streamName, tag)
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	p.logger.Info("event published", "subject", subject)
	return nil
}

// PublishTenantCreated publishes a TenantCreatedEvent.
func (p *Publisher) PublishTenantCreated(ctx context.Context, e TenantCreatedEvent) error {
	return p.publish(ctx, TagTenantCreated, TenantEvent{TenantCreated: &e})
}

// PublishTenantDeactivated publishes a TenantDeactivatedEvent.
func (p *Publisher) PublishTenantDeactivated(ctx context.Context, e TenantDeactivatedEvent) error {
	return p.publish(ctx, TagTenantDeactivated, TenantEvent{TenantDeactivated: &e})
}

// PublishDatabaseCreated publishes a DatabaseCreatedEvent.
func (p *Publisher) PublishDatabaseCreated(ctx context.Context, e DatabaseCreatedEvent) error {
	return p.publish(ctx, TagDatabaseCreated, TenantEvent{DatabaseCreated: &e})
}

// PublishDatabaseUpdated publishes a DatabaseUpdatedEvent.
func (p *Publisher) PublishDatabaseUpdated(ctx context.Context, e DatabaseUpdatedEvent) error {
	return p.publish(ctx, TagDatabaseUpdated, TenantEvent{DatabaseUpdated: &e})
}

// PublishDatabaseDeactivated publishes a DatabaseDeactivatedEvent.
func (p *Publisher) PublishDatabaseDeactivated(ctx context.Context, e DatabaseDeactivatedEvent) error {
	return p.publish(ctx, TagDatabaseDeactivated, TenantEvent{DatabaseDeactivated: &e})
}
