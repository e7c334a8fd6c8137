package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis fans events out across instances: every instance publishes to
// prefix+topic and pattern-subscribes to prefix+"*".
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedis(client *redis.Client, prefix string, logger *slog.Logger) *Redis {
	return &Redis{client: client, prefix: prefix, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, r.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) Run(ctx context.Context, handler Handler) error {
	sub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close() //nolint:errcheck // .

	// Wait for the subscription to be confirmed so no publish is missed
	// after Run reports readiness through the log.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	r.logger.Info("subscribed to redis", "pattern", r.prefix+"*")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handler(strings.TrimPrefix(msg.Channel, r.prefix), []byte(msg.Payload))
		}
	}
}

// Close is a no-op; the redis client is owned by the caller.
func (r *Redis) Close() error {
	return nil
}
