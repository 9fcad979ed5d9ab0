package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisDispatcher fans events out to local subscribers and additionally
// publishes them to a Redis channel for the external realtime transport.
// Publish failures are logged, never surfaced; the transport owns its own
// reconnect and delivery guarantees.
type redisDispatcher struct {
	local   Dispatcher
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisDispatcher wraps the in-memory dispatcher with Redis pub/sub.
func NewRedisDispatcher(client *redis.Client, channel string, logger *zap.Logger) Dispatcher {
	return &redisDispatcher{
		local:   NewInMemoryDispatcher(),
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

func (d *redisDispatcher) Publish(ctx context.Context, event Event) error {
	// A failing in-process subscriber must not block the external publish.
	localErr := d.local.Publish(ctx, event)

	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Warn("event marshal failed", zap.String("event_id", event.ID), zap.Error(err))
		return localErr
	}
	if err := d.client.Publish(ctx, d.channel, payload).Err(); err != nil {
		d.logger.Warn("event publish failed",
			zap.String("event_id", event.ID),
			zap.String("channel", d.channel),
			zap.Error(err))
	}
	return localErr
}

func (d *redisDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.local.Subscribe(eventType, handler)
}
