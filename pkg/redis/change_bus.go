package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/developer-mesh/fontedit/pkg/changes"
	"github.com/developer-mesh/fontedit/pkg/observability"
)

// envelope is the message published for each change.
type envelope struct {
	Origin string         `json:"origin"`
	Live   bool           `json:"live"`
	Change changes.Change `json:"change"`
}

// Handler receives changes published by other processes.
type Handler func(ctx context.Context, change changes.Change, live bool) error

// ChangeBus publishes font changes to a Redis channel and dispatches the
// changes other processes publish. Messages carry the id of the bus that
// sent them so a process never handles its own changes.
type ChangeBus struct {
	client  redis.UniversalClient
	channel string
	origin  string
	logger  observability.Logger
	metrics observability.MetricsClient

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewChangeBus creates a bus on channel.
func NewChangeBus(client redis.UniversalClient, channel string, logger observability.Logger, metrics observability.MetricsClient) *ChangeBus {
	if channel == "" {
		channel = DefaultConfig().Channel
	}
	return &ChangeBus{
		client:  client,
		channel: channel,
		origin:  uuid.New().String(),
		logger:  observability.OrNoop(logger).WithPrefix("change-bus"),
		metrics: observability.MetricsOrNoop(metrics),
	}
}

// Origin returns the id stamped on published messages.
func (b *ChangeBus) Origin() string {
	return b.origin
}

// Publish sends change to the other processes.
func (b *ChangeBus) Publish(ctx context.Context, change changes.Change, live bool) error {
	payload, err := json.Marshal(envelope{Origin: b.origin, Live: live, Change: change})
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	b.metrics.RecordCounter("bus_messages", 1, map[string]string{"direction": "out"})
	return nil
}

// Subscribe starts dispatching changes from other processes to handler.
// It returns once the subscription is active.
func (b *ChangeBus) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return fmt.Errorf("change bus already subscribed")
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.pubsub = pubsub
	b.done = make(chan struct{})

	go b.dispatch(pubsub.Channel(), handler, b.done)
	b.logger.Info("Subscribed to change bus", map[string]interface{}{
		"channel": b.channel,
		"origin":  b.origin,
	})
	return nil
}

func (b *ChangeBus) dispatch(messages <-chan *redis.Message, handler Handler, done chan struct{}) {
	defer close(done)
	for msg := range messages {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.logger.Warn("Dropping malformed change", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		if env.Origin == b.origin {
			continue
		}
		b.metrics.RecordCounter("bus_messages", 1, map[string]string{"direction": "in"})
		if err := handler(context.Background(), env.Change, env.Live); err != nil {
			b.logger.Warn("Failed to handle change", map[string]interface{}{
				"origin": env.Origin,
				"live":   env.Live,
				"error":  err.Error(),
			})
		}
	}
}

// Close stops the subscription. The Redis client is not closed.
func (b *ChangeBus) Close() error {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub = nil
	b.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
