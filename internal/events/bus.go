package events

import (
	"context"

	"lifeflow-request/internal/models"
)

// Bus 生命周期事件总线（只发布）
// 发布失败对已持久化的状态转换非致命：生命周期与订阅方之间
// 采用最终一致，不做同步耦合
type Bus interface {
	Publish(ctx context.Context, event *models.LifecycleEvent) error
}
