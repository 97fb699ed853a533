package events

import (
	"context"

	"lifeflow-request/internal/models"

	"go.uber.org/zap"
)

// FanoutBus 将事件同时发布到多条总线（如 Redis Streams + MQTT）
// 单条总线失败不影响其余总线，返回最后一个错误
type FanoutBus struct {
	buses  []Bus
	logger *zap.Logger
}

// NewFanoutBus 创建扇出事件总线
func NewFanoutBus(logger *zap.Logger, buses ...Bus) *FanoutBus {
	return &FanoutBus{
		buses:  buses,
		logger: logger,
	}
}

// Publish 依次发布到每条总线
func (b *FanoutBus) Publish(ctx context.Context, event *models.LifecycleEvent) error {
	var lastErr error
	for _, bus := range b.buses {
		if err := bus.Publish(ctx, event); err != nil {
			b.logger.Error("Event bus publish failed",
				zap.String("event_type", string(event.EventType)),
				zap.String("request_id", event.RequestID),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	return lastErr
}
