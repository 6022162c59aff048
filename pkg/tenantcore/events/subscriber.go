package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Handler exposes one callback per event variant. The dispatcher routes the
// decoded event, then ACKs the message on handler success; on handler
// error the dispatcher logs and still ACKs, preserving progress — the
// underlying lifecycle change is retried on the next event.
type Handler interface {
	OnTenantCreated(ctx context.Context, e *TenantCreatedEvent) error
	OnTenantDeactivated(ctx context.Context, e *TenantDeactivatedEvent) error
	OnDatabaseCreated(ctx context.Context, e *DatabaseCreatedEvent) error
	OnDatabaseUpdated(ctx context.Context, e *DatabaseUpdatedEvent) error
	OnDatabaseDeactivated(ctx context.Context, e *DatabaseDeactivatedEvent) error
}

// Subscriber is a durable pull-based consumer over a JetStream stream,
// filtering "{streamName}.*", with explicit acknowledgement.
type Subscriber struct {
	consumer jetstream.Consumer
	logger   *slog.Logger
}

// NewSubscriber connects to natsURL and obtains (or creates) a durable pull
// consumer named consumerName on streamName.
func NewSubscriber(ctx context.Context, natsURL, streamName, consumerName string, logger *slog.Logger) (*Subscriber, error) {
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
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("events: get stream: %w", err)
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: streamName + ".*",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("events: create consumer: %w", err)
	}
	return &Subscriber{consumer: consumer, logger: logger}, nil
}

// Subscribe consumes messages until ctx is cancelled or the underlying
// message stream ends, dispatching each decoded event to handler.
func (s *Subscriber) Subscribe(ctx context.Context, handler Handler) error {
	msgs, err := s.consumer.Messages()
	if err != nil {
		return fmt.Errorf("events: messages: %w", err)
	}
	defer msgs.Stop()

	// Stop the iterator on cancellation so a blocked Next returns.
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			msgs.Stop()
		case <-stopped:
		}
	}()

	s.logger.Info("subscribed to tenant events")

	for {
		msg, err := msgs.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
				s.logger.Warn("event message stream ended")
				return nil
			}
			s.logger.Error("error receiving message", "error", err)
			continue
		}
		s.dispatch(ctx, handler, msg)
	}
}

func (s *Subscriber) dispatch(ctx context.Context, handler Handler, msg jetstream.Msg) {
	var env TenantEvent
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		s.logger.Warn("failed to parse tenant event, skipping", "error", err)
		_ = msg.Ack()
		return
	}

	var handleErr error
	switch env.Tag {
	case TagTenantCreated:
		handleErr = handler.OnTenantCreated(ctx, env.TenantCreated)
	case TagTenantDeactivated:
		handleErr = handler.OnTenantDeactivated(ctx, env.TenantDeactivated)
	case TagDatabaseCreated:
		handleErr = handler.OnDatabaseCreated(ctx, env.DatabaseCreated)
	case TagDatabaseUpdated:
		handleErr = handler.OnDatabaseUpdated(ctx, env.DatabaseUpdated)
	case TagDatabaseDeactivated:
		handleErr = handler.OnDatabaseDeactivated(ctx, env.DatabaseDeactivated)
	default:
		s.logger.Warn("unknown event tag, skipping", "tag", env.Tag)
		_ = msg.Ack()
		return
	}

	if handleErr != nil {
		s.logger.Error("event handler failed", "tag", env.Tag, "error", handleErr)
	}
	if err := msg.Ack(); err != nil {
		s.logger.Error("failed to ack message", "error", err)
	}
}
