package events

import (
	"context"
	"fmt"

	commonredis "lifeflow-request/common/redis"
	"lifeflow-request/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStreamBus 基于 Redis Streams 的事件总线
// 每个事件类型对应一个独立 stream（以约定的主题名命名），
// 订阅方按消费者组读取
type RedisStreamBus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStreamBus 创建 Redis Streams 事件总线
func NewRedisStreamBus(client *redis.Client, logger *zap.Logger) *RedisStreamBus {
	return &RedisStreamBus{
		client: client,
		logger: logger,
	}
}

// Publish 发布生命周期事件到对应主题的 stream
func (b *RedisStreamBus) Publish(ctx context.Context, event *models.LifecycleEvent) error {
	topic := event.Topic()
	if topic == "" {
		return fmt.Errorf("unknown event type: %s", event.EventType)
	}

	id, err := commonredis.PublishJSONToStream(ctx, b.client, topic, event)
	if err != nil {
		return fmt.Errorf("failed to publish event to stream %s: %w", topic, err)
	}

	b.logger.Info("Event published",
		zap.String("topic", topic),
		zap.String("event_type", string(event.EventType)),
		zap.String("event_id", event.EventID),
		zap.String("request_id", event.RequestID),
		zap.String("stream_id", id),
	)
	return nil
}
