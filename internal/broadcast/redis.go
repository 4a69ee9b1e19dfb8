package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisChannel broadcasts over a Redis Pub/Sub channel. It suits
// deployments where session-holding processes run on different hosts and a
// shared directory is unavailable.
type RedisChannel struct {
	rdb     *redis.Client
	channel string
	origin  string
	pubsub  *redis.PubSub
	logger  *slog.Logger

	*registry

	done chan struct{}
}

// NewRedisChannel subscribes to channel on rdb and starts the receive loop.
// The caller retains ownership of rdb.
func NewRedisChannel(ctx context.Context, rdb *redis.Client, channel string, logger *slog.Logger) (*RedisChannel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pubsub := rdb.Subscribe(ctx, channel)

	// Confirm the subscription before returning so a publish immediately
	// after construction is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("broadcast: subscribing to %s: %w", channel, err)
	}

	c := &RedisChannel{
		rdb:      rdb,
		channel:  channel,
		origin:   uuid.NewString(),
		pubsub:   pubsub,
		logger:   logger,
		registry: newRegistry(logger),
		done:     make(chan struct{}),
	}

	go c.receiveLoop()

	return c, nil
}

// Publish sends a TOKEN_REFRESHED message to every subscriber of the
// channel. Redis delivers it back to this process too; the receive loop
// skips it by origin.
func (c *RedisChannel) Publish(ctx context.Context, accessToken string) error {
	msg := Message{
		Type:        TypeTokenRefreshed,
		AccessToken: accessToken,
		Origin:      c.origin,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broadcast: encoding message: %w", err)
	}

	if err := c.rdb.Publish(ctx, c.channel, data).Err(); err != nil {
		return fmt.Errorf("broadcast: publishing to %s: %w", c.channel, err)
	}

	c.logger.Debug("broadcast published", slog.String("channel", c.channel))

	return nil
}

// receiveLoop dispatches incoming messages until the subscription closes.
func (c *RedisChannel) receiveLoop() {
	defer close(c.done)

	for raw := range c.pubsub.Channel() {
		var msg Message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			c.logger.Warn("broadcast decode failed", slog.String("error", err.Error()))
			continue
		}

		if msg.Origin == c.origin {
			continue
		}

		c.dispatch(msg)
	}
}

// Subscribe registers h for messages from other processes.
func (c *RedisChannel) Subscribe(h Handler) func() {
	return c.subscribe(h)
}

// Close tears down the subscription and guarantees no handler runs
// afterwards.
func (c *RedisChannel) Close() error {
	c.registry.close()

	err := c.pubsub.Close()
	<-c.done

	return err
}
