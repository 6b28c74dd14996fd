package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "flowcore:jobs"

// Redis is a Notifier that fans notifications out to every node through a
// Redis pub/sub channel. Run must be running for remote notifications to
// arrive; local ones are delivered directly.
type Redis struct {
	client  redis.UniversalClient
	channel string
	node    string
	local   *Local
	logger  *slog.Logger
}

var _ Notifier = (*Redis)(nil)

// RedisOption configures a Redis notifier.
type RedisOption func(*Redis)

// WithChannel sets the pub/sub channel.
func WithChannel(channel string) RedisOption {
	return func(r *Redis) { r.channel = channel }
}

// WithLogger sets the logger for publish and subscribe failures.
func WithLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

// NewRedis returns a Redis notifier. node identifies this engine so its
// own messages are not delivered twice. The caller owns the client.
func NewRedis(client redis.UniversalClient, node string, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		channel: DefaultChannel,
		node:    node,
		local:   NewLocal(),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Notify wakes the local loop and publishes to the other nodes. A publish
// failure is logged; the other nodes then find the work on their next poll.
func (r *Redis) Notify(ctx context.Context) {
	r.local.Notify(ctx)
	if err := r.client.Publish(ctx, r.channel, r.node).Err(); err != nil {
		r.logger.Warn("job notification publish failed",
			slog.String("channel", r.channel),
			slog.String("error", err.Error()),
		)
	}
}

// C implements Notifier.
func (r *Redis) C() <-chan struct{} { return r.local.C() }

// Run subscribes to the channel and forwards messages from other nodes
// until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("notify: subscribe %s: %w", r.channel, err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if msg.Payload == r.node {
				continue
			}
			r.local.Notify(ctx)
		}
	}
}
