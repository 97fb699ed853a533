package gateway

import (
	"context"
	"fmt"
	"strconv"

	"lifeflow-request/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// newRestyClient 创建协作方 HTTP 客户端
// 超时和重试由 Gateway 统一控制，这里不再配置 resty 自带的重试
func newRestyClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// ============================================
// 库存服务客户端
// ============================================

// InventoryClient 库存服务 HTTP 客户端
type InventoryClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewInventoryClient 创建库存服务客户端
func NewInventoryClient(baseURL string, logger *zap.Logger) *InventoryClient {
	return &InventoryClient{
		httpClient: newRestyClient(baseURL),
		logger:     logger,
	}
}

type checkStockResponse struct {
	Available bool `json:"available"`
}

// CheckStock 查询指定血型的库存是否满足所需单位数
func (c *InventoryClient) CheckStock(ctx context.Context, bloodType models.BloodType, units float64) (bool, error) {
	var result checkStockResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("bloodType", string(bloodType)).
		SetQueryParam("units", strconv.FormatFloat(units, 'f', -1, 64)).
		SetResult(&result).
		Get("/api/v1/inventory/check-stock")

	if err != nil {
		return false, fmt.Errorf("inventory check-stock call failed: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("inventory check-stock returned status %d", resp.StatusCode())
	}

	return result.Available, nil
}

// ============================================
// 捐献者服务客户端
// ============================================

// DonorClient 捐献者服务 HTTP 客户端
type DonorClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewDonorClient 创建捐献者服务客户端
func NewDonorClient(baseURL string, logger *zap.Logger) *DonorClient {
	return &DonorClient{
		httpClient: newRestyClient(baseURL),
		logger:     logger,
	}
}

// FindEligible 查询符合条件的候选捐献者
// 捐献者服务已按医学条件和捐献冷却期过滤
func (c *DonorClient) FindEligible(ctx context.Context, bloodType models.BloodType, units float64) ([]models.EligibleDonor, error) {
	var donors []models.EligibleDonor
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("bloodType", string(bloodType)).
		SetQueryParam("units", strconv.FormatFloat(units, 'f', -1, 64)).
		SetResult(&donors).
		Get("/api/v1/donors/eligible")

	if err != nil {
		return nil, fmt.Errorf("donor find-eligible call failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("donor find-eligible returned status %d", resp.StatusCode())
	}

	return donors, nil
}

// ============================================
// 地理服务客户端
// ============================================

// GeolocationClient 地理服务 HTTP 客户端
type GeolocationClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewGeolocationClient 创建地理服务客户端
func NewGeolocationClient(baseURL string, logger *zap.Logger) *GeolocationClient {
	return &GeolocationClient{
		httpClient: newRestyClient(baseURL),
		logger:     logger,
	}
}

type distanceResponse struct {
	DistanceKm *float64 `json:"distance_km"`
}

// Distance 查询两点间距离（公里），返回 nil 表示距离未知
func (c *GeolocationClient) Distance(ctx context.Context, origin, destination string) (*float64, error) {
	var result distanceResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("origin", origin).
		SetQueryParam("destination", destination).
		SetResult(&result).
		Get("/api/v1/geo/distance")

	if err != nil {
		return nil, fmt.Errorf("geolocation distance call failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("geolocation distance returned status %d", resp.StatusCode())
	}

	return result.DistanceKm, nil
}

// ============================================
// 通知服务客户端
// ============================================

// NotificationClient 通知服务 HTTP 客户端
type NotificationClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewNotificationClient 创建通知服务客户端
func NewNotificationClient(baseURL string, logger *zap.Logger) *NotificationClient {
	return &NotificationClient{
		httpClient: newRestyClient(baseURL),
		logger:     logger,
	}
}

// NotifyDonor 向捐献者推送血液请求通知
func (c *NotificationClient) NotifyDonor(ctx context.Context, notification DonorNotification) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(notification).
		Post("/api/v1/notifications/donor")

	if err != nil {
		return fmt.Errorf("notification call failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification returned status %d", resp.StatusCode())
	}

	return nil
}

// ============================================
// 分析服务客户端
// ============================================

// AnalyticsClient 分析服务 HTTP 客户端
type AnalyticsClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewAnalyticsClient 创建分析服务客户端
func NewAnalyticsClient(baseURL string, logger *zap.Logger) *AnalyticsClient {
	return &AnalyticsClient{
		httpClient: newRestyClient(baseURL),
		logger:     logger,
	}
}

// Record 上报请求完结记录
func (c *AnalyticsClient) Record(ctx context.Context, record AnalyticsRecord) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(record).
		Post("/api/v1/analytics/request-events")

	if err != nil {
		return fmt.Errorf("analytics call failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("analytics returned status %d", resp.StatusCode())
	}

	return nil
}
