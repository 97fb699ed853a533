package gateway

import (
	"context"
	"fmt"
	"time"

	"lifeflow-request/internal/models"

	"go.uber.org/zap"
)

// 重试与超时默认值
const (
	DefaultCallTimeout = 5 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryBase   = 1 * time.Second
)

// InventoryAPI 库存服务接口
type InventoryAPI interface {
	CheckStock(ctx context.Context, bloodType models.BloodType, units float64) (bool, error)
}

// DonorAPI 捐献者服务接口
type DonorAPI interface {
	FindEligible(ctx context.Context, bloodType models.BloodType, units float64) ([]models.EligibleDonor, error)
}

// GeolocationAPI 地理服务接口
type GeolocationAPI interface {
	Distance(ctx context.Context, origin, destination string) (*float64, error)
}

// NotificationAPI 通知服务接口
type NotificationAPI interface {
	NotifyDonor(ctx context.Context, notification DonorNotification) error
}

// AnalyticsAPI 分析服务接口
type AnalyticsAPI interface {
	Record(ctx context.Context, record AnalyticsRecord) error
}

// DonorNotification 推送给捐献者的请求通知
type DonorNotification struct {
	DonorID       string              `json:"donor_id"`
	RequestID     string              `json:"request_id"`
	BloodType     models.BloodType    `json:"blood_type"`
	UnitsRequired float64             `json:"units_required"`
	UrgencyLevel  models.UrgencyLevel `json:"urgency_level"`
	HospitalID    string              `json:"hospital_id"`
	MatchScore    int                 `json:"match_score"`
}

// AnalyticsRecord 请求完结后上报的分析记录
type AnalyticsRecord struct {
	RequestID      string              `json:"request_id"`
	HospitalID     string              `json:"hospital_id"`
	BloodType      models.BloodType    `json:"blood_type"`
	UrgencyLevel   models.UrgencyLevel `json:"urgency_level"`
	FinalStatus    models.RequestStatus `json:"final_status"`
	UnitsRequired  float64             `json:"units_required"`
	UnitsDelivered float64             `json:"units_delivered"`
	ElapsedMinutes int                 `json:"elapsed_minutes"`
}

// Gateway 下游网关：所有出站调用统一经过 熔断检查 → 超时限制 → 重试 → 结果记录
// 下游异常不穿透此边界，统一转换为 models.ErrDownstreamUnavailable
type Gateway struct {
	registry     *BreakerRegistry
	inventory    InventoryAPI
	donor        DonorAPI
	geo          GeolocationAPI
	notification NotificationAPI
	analytics    AnalyticsAPI
	logger       *zap.Logger

	callTimeout time.Duration
	maxAttempts int
	retryBase   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error // 可注入，便于测试
}

// NewGateway 创建下游网关
func NewGateway(
	registry *BreakerRegistry,
	inventory InventoryAPI,
	donor DonorAPI,
	geo GeolocationAPI,
	notification NotificationAPI,
	analytics AnalyticsAPI,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		registry:     registry,
		inventory:    inventory,
		donor:        donor,
		geo:          geo,
		notification: notification,
		analytics:    analytics,
		logger:       logger,
		callTimeout:  DefaultCallTimeout,
		maxAttempts:  DefaultMaxAttempts,
		retryBase:    DefaultRetryBase,
		sleep:        sleepCtx,
	}
}

// CheckStock 查询库存是否足够
func (g *Gateway) CheckStock(ctx context.Context, bloodType models.BloodType, units float64) (bool, error) {
	var available bool
	err := g.execute(ctx, CollabInventory, func(callCtx context.Context) error {
		var callErr error
		available, callErr = g.inventory.CheckStock(callCtx, bloodType, units)
		return callErr
	})
	return available, err
}

// FindEligibleDonors 查询符合条件的候选捐献者
func (g *Gateway) FindEligibleDonors(ctx context.Context, bloodType models.BloodType, units float64) ([]models.EligibleDonor, error) {
	var donors []models.EligibleDonor
	err := g.execute(ctx, CollabDonor, func(callCtx context.Context) error {
		var callErr error
		donors, callErr = g.donor.FindEligible(callCtx, bloodType, units)
		return callErr
	})
	return donors, err
}

// Distance 查询捐献者到医院的距离（公里）
// 返回 nil 表示距离未知
func (g *Gateway) Distance(ctx context.Context, origin, destination string) (*float64, error) {
	var km *float64
	err := g.execute(ctx, CollabGeolocation, func(callCtx context.Context) error {
		var callErr error
		km, callErr = g.geo.Distance(callCtx, origin, destination)
		return callErr
	})
	return km, err
}

// NotifyDonor 推送血液请求通知给捐献者
func (g *Gateway) NotifyDonor(ctx context.Context, notification DonorNotification) error {
	return g.execute(ctx, CollabNotification, func(callCtx context.Context) error {
		return g.notification.NotifyDonor(callCtx, notification)
	})
}

// RecordAnalytics 上报请求完结分析记录
func (g *Gateway) RecordAnalytics(ctx context.Context, record AnalyticsRecord) error {
	return g.execute(ctx, CollabAnalytics, func(callCtx context.Context) error {
		return g.analytics.Record(callCtx, record)
	})
}

// execute 统一的出站调用包装
// 顺序：熔断检查 → 超时限制执行 → 失败重试（指数退避 1s/2s/4s）→ 结果记录
// 规则：
// - 熔断 Open 时直接拒绝，重试也全部跳过
// - 调用方输入错误不重试、不计入熔断统计
// - 超时取消调用并按失败记录
func (g *Gateway) execute(ctx context.Context, collaborator string, call func(ctx context.Context) error) error {
	backoff := g.retryBase
	var lastErr error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := g.sleep(ctx, backoff); err != nil {
				return fmt.Errorf("%s: %w", collaborator, models.ErrDownstreamUnavailable)
			}
			backoff *= 2
		}

		if err := g.registry.Allow(collaborator); err != nil {
			g.logger.Warn("Call rejected by circuit breaker",
				zap.String("collaborator", collaborator),
			)
			return fmt.Errorf("%s: %w", collaborator, models.ErrDownstreamUnavailable)
		}

		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		start := time.Now()
		err := call(callCtx)
		duration := time.Since(start)
		cancel()

		if err == nil {
			g.registry.Record(collaborator, duration, false)
			return nil
		}

		if models.IsValidationError(err) {
			// 调用方入参问题，重试无意义
			return err
		}

		g.registry.Record(collaborator, duration, true)
		lastErr = err
		g.logger.Warn("Downstream call failed",
			zap.String("collaborator", collaborator),
			zap.Int("attempt", attempt),
			zap.Duration("duration", duration),
			zap.Error(err),
		)

		// 调用方已放弃（取消或超时），不再重试
		if ctx.Err() != nil {
			break
		}
	}

	g.logger.Error("Downstream call exhausted retries",
		zap.String("collaborator", collaborator),
		zap.Error(lastErr),
	)
	return fmt.Errorf("%s: %w", collaborator, models.ErrDownstreamUnavailable)
}

// sleepCtx 可被上下文取消的退避等待
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
