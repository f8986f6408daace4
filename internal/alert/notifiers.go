package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisChannel канал публикации оповещений
const DefaultRedisChannel = "telemetry:alerts"

// LogNotifier пишет оповещение в лог
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify пишет предупреждение
func (n LogNotifier) Notify(_ context.Context, a Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("threshold alert",
		"alert_id", a.ID,
		"channel", a.Channel,
		"value", a.Value,
		"threshold", a.Threshold,
		"at", a.At,
	)
	return nil
}

// RedisNotifier публикует оповещение в канал Redis
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier создает публикатора оповещений
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Notify публикует оповещение в JSON
func (n *RedisNotifier) Notify(ctx context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}
