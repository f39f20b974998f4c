// Package realtime fans response changes out to live feed subscribers
// through Redis pub/sub, so every API instance sees inserts made on any
// other instance.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"inkwell/api/internal/feed"
)

// responseChannel is the pub/sub channel carrying response change events.
const responseChannel = "inkwell:changes:responses"

// subscriberBuffer bounds the per-subscriber event queue. A subscriber
// that stops draining loses events rather than blocking the fan-out.
const subscriberBuffer = 64

// Broker publishes and subscribes to response change events.
type Broker struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewBroker connects to Redis and verifies the connection.
func NewBroker(redisURL string, log zerolog.Logger) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Broker{client: client, log: log}, nil
}

// NewBrokerWithClient wraps an existing Redis client.
func NewBrokerWithClient(client *redis.Client, log zerolog.Logger) *Broker {
	return &Broker{client: client, log: log}
}

// PublishResponse announces a response change to every subscriber.
func (b *Broker) PublishResponse(ctx context.Context, ev feed.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := b.client.Publish(ctx, responseChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// SubscribeResponses returns a channel of change events plus a cancel
// function that tears the subscription down and closes the channel.
// Malformed payloads are logged and skipped.
func (b *Broker) SubscribeResponses(ctx context.Context) (<-chan feed.ChangeEvent, func(), error) {
	sub := b.client.Subscribe(ctx, responseChannel)
	// Force the subscription handshake so a broken connection surfaces
	// here instead of as a silently empty channel.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe responses: %w", err)
	}

	out := make(chan feed.ChangeEvent, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev feed.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn().Err(err).Msg("dropping malformed change event")
					continue
				}
				select {
				case out <- ev:
				default:
					b.log.Warn().Str("response_id", ev.Response.ID).Msg("slow subscriber, dropping event")
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}

// Ping reports broker connectivity, used by the readiness probe.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (b *Broker) Close() error {
	return b.client.Close()
}
