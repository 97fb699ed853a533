package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"lifeflow-request/common/database"
	commonmqtt "lifeflow-request/common/mqtt"
	commonredis "lifeflow-request/common/redis"
	"lifeflow-request/internal/config"
	"lifeflow-request/internal/events"
	"lifeflow-request/internal/gateway"
	"lifeflow-request/internal/lifecycle"
	"lifeflow-request/internal/matching"
	"lifeflow-request/internal/models"
	"lifeflow-request/internal/repository"
	"lifeflow-request/internal/sweeper"

	"go.uber.org/zap"
)

// RequestReader 请求的只读查询（由 repository.RequestRepository 实现）
type RequestReader interface {
	GetRequest(ctx context.Context, requestID string) (*models.BloodRequest, error)
	ListActive(ctx context.Context) ([]*models.BloodRequest, error)
}

// Collaborators 匹配之外的下游调用（通知与分析，均经网关）
type Collaborators interface {
	NotifyDonor(ctx context.Context, notification gateway.DonorNotification) error
	RecordAnalytics(ctx context.Context, record gateway.AnalyticsRecord) error
}

// ============ 请求服务 ============

// RequestService 血液请求服务
// 组合生命周期状态机、匹配引擎、下游网关与清扫器，
// 对外提供请求的创建、接受、完成、取消与查询操作。
// 创建请求后异步触发匹配；取消请求时中断进行中的匹配
type RequestService struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *commonredis.Client
	mqttClient  *commonmqtt.Client

	lifecycle *lifecycle.Lifecycle
	engine    *matching.Engine
	collabs   Collaborators
	reader    RequestReader
	sweeper   *sweeper.Sweeper

	// 进行中匹配的取消函数（取消请求时中断）
	matchMu      sync.Mutex
	matchCancels map[string]context.CancelFunc

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewRequestService 创建请求服务（构建全部基础设施）
func NewRequestService(cfg *config.Config, logger *zap.Logger) (*RequestService, error) {
	// 1. 数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 2. Redis 事件总线
	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	if err := commonredis.Ping(context.Background(), redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	buses := []events.Bus{events.NewRedisStreamBus(redisClient, logger)}

	// 3. MQTT 旁路（可选）
	var mqttClient *commonmqtt.Client
	if cfg.MQTTEnabled {
		mqttClient, err = commonmqtt.NewClient(&cfg.MQTT)
		if err != nil {
			commonredis.Close(redisClient)
			database.Close(db)
			return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
		}
		buses = append(buses, events.NewMQTTBus(mqttClient, cfg.MQTT.QoS, logger))
	}

	var bus events.Bus = buses[0]
	if len(buses) > 1 {
		bus = events.NewFanoutBus(logger, buses...)
	}

	// 4. 下游网关（熔断 → 超时 → 重试）
	registry := gateway.NewBreakerRegistry(gateway.DefaultBreakerConfigs(), logger)
	gw := gateway.NewGateway(
		registry,
		gateway.NewInventoryClient(cfg.InventoryURL, logger),
		gateway.NewDonorClient(cfg.DonorURL, logger),
		gateway.NewGeolocationClient(cfg.GeolocationURL, logger),
		gateway.NewNotificationClient(cfg.NotificationURL, logger),
		gateway.NewAnalyticsClient(cfg.AnalyticsURL, logger),
		logger,
	)

	// 5. 仓储与状态机
	requestRepo := repository.NewRequestRepository(db, logger)
	responseRepo := repository.NewResponseRepository(db, logger)
	lc := lifecycle.NewLifecycle(requestRepo, responseRepo, bus, logger)

	s := assemble(cfg, lc, matching.NewEngine(gw, logger), gw, requestRepo, logger)
	s.db = db
	s.redisClient = redisClient
	s.mqttClient = mqttClient
	s.sweeper = sweeper.NewSweeper(requestRepo, lc, cfg.SweepInterval, logger)
	return s, nil
}

// assemble 组装服务核心（测试可用替身直接组装）
func assemble(cfg *config.Config, lc *lifecycle.Lifecycle, engine *matching.Engine, collabs Collaborators, reader RequestReader, logger *zap.Logger) *RequestService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RequestService{
		cfg:          cfg,
		logger:       logger,
		lifecycle:    lc,
		engine:       engine,
		collabs:      collabs,
		reader:       reader,
		matchCancels: make(map[string]context.CancelFunc),
		rootCtx:      ctx,
		rootCancel:   cancel,
	}
}

// Start 启动后台组件
func (s *RequestService) Start() {
	if s.sweeper != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sweeper.Start(s.rootCtx)
		}()
	}
	s.logger.Info("Request service started")
}

// Stop 停止服务并释放资源
func (s *RequestService) Stop() {
	s.rootCancel()
	s.wg.Wait()

	if s.mqttClient != nil {
		s.mqttClient.Close()
	}
	if s.redisClient != nil {
		commonredis.Close(s.redisClient)
	}
	if s.db != nil {
		database.Close(s.db)
	}
	s.logger.Info("Request service stopped")
}

// ============ 对外操作 ============

// CreateRequest 创建血液请求并异步触发匹配
func (s *RequestService) CreateRequest(ctx context.Context, spec *models.CreateRequestSpec) (*models.BloodRequest, error) {
	request, err := s.lifecycle.Create(ctx, spec)
	if err != nil {
		return nil, err
	}

	s.startMatching(request)
	return request, nil
}

// GetRequest 查询单个请求
func (s *RequestService) GetRequest(ctx context.Context, requestID string) (*models.BloodRequest, error) {
	return s.reader.GetRequest(ctx, requestID)
}

// ListActive 列出活跃（非终态）请求
func (s *RequestService) ListActive(ctx context.Context) ([]*models.BloodRequest, error) {
	return s.reader.ListActive(ctx)
}

// GetMatchedDonors 为请求同步执行一次匹配并返回排序后的候选列表
func (s *RequestService) GetMatchedDonors(ctx context.Context, requestID string) (*matching.MatchResult, error) {
	request, err := s.reader.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminal(request.Status) {
		return nil, fmt.Errorf("%w: cannot match request in status %s",
			models.ErrInvalidStateTransition, request.Status)
	}
	return s.engine.FindMatchedDonors(ctx, request)
}

// RecordResponse 记录捐献者的待定响应
func (s *RequestService) RecordResponse(ctx context.Context, requestID, donorID string, matchScore *int) (*models.RequestResponse, error) {
	return s.lifecycle.RecordResponse(ctx, requestID, donorID, matchScore)
}

// AcceptResponse 捐献者接受请求
func (s *RequestService) AcceptResponse(ctx context.Context, requestID, donorID string, etaMinutes *int, scheduledPickup *time.Time, matchScore *int) (*models.RequestResponse, error) {
	return s.lifecycle.DonorAccepts(ctx, requestID, donorID, etaMinutes, scheduledPickup, matchScore)
}

// RejectResponse 捐献者拒绝请求
func (s *RequestService) RejectResponse(ctx context.Context, responseID, reason string) error {
	return s.lifecycle.RejectResponse(ctx, responseID, reason)
}

// FulfillRequest 记录送达并完成请求，之后上报分析记录（非致命）
func (s *RequestService) FulfillRequest(ctx context.Context, requestID string, unitsDelivered float64) error {
	if err := s.lifecycle.Fulfill(ctx, requestID, unitsDelivered); err != nil {
		return err
	}
	s.reportOutcome(ctx, requestID)
	return nil
}

// CancelRequest 取消请求并中断进行中的匹配
func (s *RequestService) CancelRequest(ctx context.Context, requestID, reason string) error {
	// 先中断匹配，避免取消后的请求继续被通知捐献者
	s.cancelMatching(requestID)
	return s.lifecycle.Cancel(ctx, requestID, reason)
}

// ============ 异步匹配 ============

// startMatching 在后台为请求执行匹配与捐献者通知
func (s *RequestService) startMatching(request *models.BloodRequest) {
	matchCtx, cancel := context.WithCancel(s.rootCtx)

	s.matchMu.Lock()
	s.matchCancels[request.RequestID] = cancel
	s.matchMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.matchMu.Lock()
			delete(s.matchCancels, request.RequestID)
			s.matchMu.Unlock()
			cancel()
		}()
		s.runMatching(matchCtx, request)
	}()
}

// cancelMatching 中断指定请求的进行中匹配（无匹配则无操作）
func (s *RequestService) cancelMatching(requestID string) {
	s.matchMu.Lock()
	cancel, ok := s.matchCancels[requestID]
	s.matchMu.Unlock()
	if ok {
		cancel()
	}
}

// runMatching 匹配流程：
// 1. 匹配引擎（库存检查 → 候选查询 → 评分排序）
// 2. 库存检查成功则落 StockChecked 标记
// 3. 库存足够：请求保持 PENDING，等医院从库存取血
// 4. 有候选人：PENDING -> MATCHED，逐个推送通知（单个失败不中断）
func (s *RequestService) runMatching(ctx context.Context, request *models.BloodRequest) {
	result, err := s.engine.FindMatchedDonors(ctx, request)
	if err != nil {
		s.logger.Error("Donor matching failed",
			zap.String("request_id", request.RequestID),
			zap.Error(err),
		)
		return
	}
	if ctx.Err() != nil {
		s.logger.Info("Matching interrupted",
			zap.String("request_id", request.RequestID),
		)
		return
	}

	if result.StockChecked {
		if err := s.lifecycle.RecordStockCheck(ctx, request.RequestID); err != nil {
			// 请求可能已被取消/过期，匹配静默终止
			s.logger.Warn("Failed to record stock check",
				zap.String("request_id", request.RequestID),
				zap.Error(err),
			)
			return
		}
	}

	if result.UseStock {
		s.logger.Info("Request satisfiable from stock, awaiting hospital pickup",
			zap.String("request_id", request.RequestID),
		)
		return
	}

	if len(result.Donors) == 0 {
		s.logger.Info("No matched donors",
			zap.String("request_id", request.RequestID),
			zap.Bool("degraded", result.Degraded),
		)
		return
	}

	if err := s.lifecycle.MarkMatched(ctx, request.RequestID); err != nil {
		s.logger.Warn("Failed to mark request matched",
			zap.String("request_id", request.RequestID),
			zap.Error(err),
		)
		return
	}

	s.notifyDonors(ctx, request, result.Donors)
}

// notifyDonors 逐个推送匹配通知，单个失败记日志后继续
func (s *RequestService) notifyDonors(ctx context.Context, request *models.BloodRequest, donors []models.MatchedDonor) {
	notified := 0
	for _, donor := range donors {
		if ctx.Err() != nil {
			s.logger.Info("Donor notification interrupted",
				zap.String("request_id", request.RequestID),
				zap.Int("notified", notified),
			)
			return
		}
		err := s.collabs.NotifyDonor(ctx, gateway.DonorNotification{
			DonorID:       donor.DonorID,
			RequestID:     request.RequestID,
			BloodType:     request.BloodTypeNeeded,
			UnitsRequired: request.UnitsRequired,
			UrgencyLevel:  request.UrgencyLevel,
			HospitalID:    request.HospitalID,
			MatchScore:    donor.FinalScore,
		})
		if err != nil {
			s.logger.Warn("Failed to notify donor",
				zap.String("request_id", request.RequestID),
				zap.String("donor_id", donor.DonorID),
				zap.Error(err),
			)
			continue
		}
		notified++
	}

	s.logger.Info("Donor notifications sent",
		zap.String("request_id", request.RequestID),
		zap.Int("notified", notified),
		zap.Int("candidates", len(donors)),
	)
}

// reportOutcome 请求完结后上报分析记录（失败只记日志）
func (s *RequestService) reportOutcome(ctx context.Context, requestID string) {
	request, err := s.reader.GetRequest(ctx, requestID)
	if err != nil {
		s.logger.Warn("Failed to load request for analytics",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return
	}

	record := gateway.AnalyticsRecord{
		RequestID:     request.RequestID,
		HospitalID:    request.HospitalID,
		BloodType:     request.BloodTypeNeeded,
		UrgencyLevel:  request.UrgencyLevel,
		FinalStatus:   request.Status,
		UnitsRequired: request.UnitsRequired,
	}
	if request.UnitsDelivered != nil {
		record.UnitsDelivered = *request.UnitsDelivered
	}
	if request.FulfilledAt != nil {
		record.ElapsedMinutes = int(request.FulfilledAt.Sub(request.CreatedAt) / time.Minute)
	}

	if err := s.collabs.RecordAnalytics(ctx, record); err != nil {
		s.logger.Warn("Failed to record analytics",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}
