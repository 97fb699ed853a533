package events

import (
	"context"
	"encoding/json"
	"fmt"

	commonmqtt "lifeflow-request/common/mqtt"
	"lifeflow-request/internal/models"

	"go.uber.org/zap"
)

// MQTTBus 基于 MQTT 的事件总线
// 主题名与 Redis Streams 一致，供捐献者移动端直接订阅
type MQTTBus struct {
	client *commonmqtt.Client
	qos    byte
	logger *zap.Logger
}

// NewMQTTBus 创建 MQTT 事件总线
func NewMQTTBus(client *commonmqtt.Client, qos byte, logger *zap.Logger) *MQTTBus {
	return &MQTTBus{
		client: client,
		qos:    qos,
		logger: logger,
	}
}

// Publish 发布生命周期事件到 MQTT 主题
func (b *MQTTBus) Publish(ctx context.Context, event *models.LifecycleEvent) error {
	topic := event.Topic()
	if topic == "" {
		return fmt.Errorf("unknown event type: %s", event.EventType)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(topic, b.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish event to mqtt: %w", err)
	}

	b.logger.Info("Event published",
		zap.String("topic", topic),
		zap.String("event_type", string(event.EventType)),
		zap.String("event_id", event.EventID),
		zap.String("request_id", event.RequestID),
	)
	return nil
}
