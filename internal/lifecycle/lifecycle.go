package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lifeflow-request/internal/events"
	"lifeflow-request/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestStore 请求持久化接口（由 repository.RequestRepository 实现）
type RequestStore interface {
	CreateRequest(ctx context.Context, request *models.BloodRequest) error
	GetRequest(ctx context.Context, requestID string) (*models.BloodRequest, error)
	// UpdateRequest 带乐观并发控制：当前状态与 expected 不符时
	// 返回 models.ErrInvalidStateTransition
	UpdateRequest(ctx context.Context, request *models.BloodRequest, expected models.RequestStatus) error
}

// ResponseStore 响应持久化接口（由 repository.ResponseRepository 实现）
type ResponseStore interface {
	CreateResponse(ctx context.Context, response *models.RequestResponse) error
	GetResponse(ctx context.Context, responseID string) (*models.RequestResponse, error)
	UpdateResponse(ctx context.Context, response *models.RequestResponse) error
	ListPendingByRequest(ctx context.Context, requestID string) ([]*models.RequestResponse, error)
}

// ============ 请求生命周期 ============

// Lifecycle 血液请求状态机
// 所有状态转换先落库再发事件；事件发布失败只记日志，不回滚已持久化的转换。
// 同一请求上的转换通过锁表串行化，终态（FULFILLED / PARTIAL_FULFILLED /
// CANCELLED / EXPIRED）之后拒绝任何进一步变更
type Lifecycle struct {
	requests  RequestStore
	responses ResponseStore
	bus       events.Bus
	logger    *zap.Logger
	locks     *lockTable

	now func() time.Time
}

// NewLifecycle 创建生命周期状态机
func NewLifecycle(requests RequestStore, responses ResponseStore, bus events.Bus, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		requests:  requests,
		responses: responses,
		bus:       bus,
		logger:    logger,
		locks:     newLockTable(),
		now:       time.Now,
	}
}

// Create 创建血液请求（初始状态 PENDING）并发布 BLOOD_NEEDED 事件
func (l *Lifecycle) Create(ctx context.Context, spec *models.CreateRequestSpec) (*models.BloodRequest, error) {
	// 1. 校验入参
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	now := l.now()
	request := &models.BloodRequest{
		RequestID:           newRequestID(),
		HospitalID:          spec.HospitalID,
		BloodTypeNeeded:     spec.BloodType,
		UnitsRequired:       spec.UnitsRequired,
		UrgencyLevel:        spec.UrgencyLevel,
		UrgencyNumericScore: models.UrgencyScore(spec.UrgencyLevel),
		PatientAge:          spec.PatientAge,
		PatientCondition:    spec.PatientCondition,
		ProcedureType:       spec.ProcedureType,
		DeadlineMinutes:     spec.DeadlineMinutes,
		DeadlineTimestamp:   now.Add(time.Duration(spec.DeadlineMinutes) * time.Minute),
		Status:              models.StatusPending,
		GPSLocationHospital: spec.GPSLocation,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	// 2. 持久化
	if err := l.requests.CreateRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to create blood request: %w", err)
	}

	l.logger.Info("Blood request created",
		zap.String("request_id", request.RequestID),
		zap.String("hospital_id", request.HospitalID),
		zap.String("blood_type", string(request.BloodTypeNeeded)),
		zap.String("urgency", string(request.UrgencyLevel)),
		zap.Float64("units_required", request.UnitsRequired),
		zap.Int("deadline_minutes", request.DeadlineMinutes),
	)

	// 3. 发布事件（非致命）
	l.emit(ctx, &models.LifecycleEvent{
		EventID:         newEventID(),
		EventType:       models.EventBloodNeeded,
		RequestID:       request.RequestID,
		Timestamp:       now,
		BloodType:       request.BloodTypeNeeded,
		UnitsRequired:   request.UnitsRequired,
		UrgencyLevel:    request.UrgencyLevel,
		HospitalID:      request.HospitalID,
		DeadlineMinutes: request.DeadlineMinutes,
	})

	return request, nil
}

// RecordStockCheck 记录库存已检查（状态保持 PENDING）
func (l *Lifecycle) RecordStockCheck(ctx context.Context, requestID string) error {
	release := l.locks.acquire(requestID)
	defer release()

	request, err := l.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status != models.StatusPending {
		return fmt.Errorf("%w: cannot record stock check in status %s",
			models.ErrInvalidStateTransition, request.Status)
	}

	request.StockChecked = true
	request.UpdatedAt = l.now()
	return l.requests.UpdateRequest(ctx, request, models.StatusPending)
}

// MarkMatched 匹配到捐献者后 PENDING -> MATCHED
func (l *Lifecycle) MarkMatched(ctx context.Context, requestID string) error {
	release := l.locks.acquire(requestID)
	defer release()

	request, err := l.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status != models.StatusPending {
		return fmt.Errorf("%w: cannot mark matched in status %s",
			models.ErrInvalidStateTransition, request.Status)
	}

	request.Status = models.StatusMatched
	request.DonorSearchInitiated = true
	request.UpdatedAt = l.now()
	if err := l.requests.UpdateRequest(ctx, request, models.StatusPending); err != nil {
		return err
	}

	l.logger.Info("Blood request matched",
		zap.String("request_id", requestID),
	)
	return nil
}

// DonorAccepts 捐献者接受请求
// PENDING / MATCHED -> ACCEPTED；请求已处于 ACCEPTED 时允许后续捐献者
// 继续接受（医院按到达顺序取用），终态请求拒绝。
// 为响应生成取血确认码，发布 DONOR_ACCEPTED 事件
func (l *Lifecycle) DonorAccepts(ctx context.Context, requestID, donorID string, etaMinutes *int, scheduledPickup *time.Time, matchScore *int) (*models.RequestResponse, error) {
	if donorID == "" {
		return nil, models.NewValidationError("donor_id", "is required")
	}

	release := l.locks.acquire(requestID)
	defer release()

	// 1. 检查请求状态
	request, err := l.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminal(request.Status) {
		return nil, fmt.Errorf("%w: cannot accept request in status %s",
			models.ErrInvalidStateTransition, request.Status)
	}

	now := l.now()

	// 2. 创建响应记录（未指定取血时间时按 ETA 推算）
	if scheduledPickup == nil && etaMinutes != nil {
		pickup := now.Add(time.Duration(*etaMinutes) * time.Minute)
		scheduledPickup = &pickup
	}
	code := newConfirmationCode()
	response := &models.RequestResponse{
		ResponseID:          newResponseID(),
		RequestID:           requestID,
		DonorID:             donorID,
		HospitalID:          request.HospitalID,
		ResponseStatus:      models.ResponseAccepted,
		EtaMinutes:          etaMinutes,
		ScheduledPickupTime: scheduledPickup,
		ConfirmedByDonorAt:  &now,
		ConfirmationCode:    &code,
		MatchScore:          matchScore,
		PointsOffered:       donationPoints(request.UrgencyLevel),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := l.responses.CreateResponse(ctx, response); err != nil {
		return nil, fmt.Errorf("failed to create response: %w", err)
	}

	// 3. 请求状态转入 ACCEPTED（首个接受者触发，后续接受者不再转换）
	if request.Status != models.StatusAccepted {
		previous := request.Status
		request.Status = models.StatusAccepted
		request.UpdatedAt = now
		if err := l.requests.UpdateRequest(ctx, request, previous); err != nil {
			return nil, err
		}
	}

	l.logger.Info("Donor accepted blood request",
		zap.String("request_id", requestID),
		zap.String("donor_id", donorID),
		zap.String("response_id", response.ResponseID),
	)

	event := &models.LifecycleEvent{
		EventID:             newEventID(),
		EventType:           models.EventDonorAccepted,
		RequestID:           requestID,
		Timestamp:           now,
		ResponseID:          response.ResponseID,
		DonorID:             donorID,
		ScheduledPickupTime: scheduledPickup,
	}
	if etaMinutes != nil {
		event.ArrivalEtaMinutes = *etaMinutes
	}
	l.emit(ctx, event)

	return response, nil
}

// RecordResponse 记录捐献者的待定响应（收到通知但尚未确认）
// 请求处于终态时拒绝
func (l *Lifecycle) RecordResponse(ctx context.Context, requestID, donorID string, matchScore *int) (*models.RequestResponse, error) {
	if donorID == "" {
		return nil, models.NewValidationError("donor_id", "is required")
	}

	release := l.locks.acquire(requestID)
	defer release()

	request, err := l.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminal(request.Status) {
		return nil, fmt.Errorf("%w: cannot record response for request in status %s",
			models.ErrInvalidStateTransition, request.Status)
	}

	now := l.now()
	response := &models.RequestResponse{
		ResponseID:     newResponseID(),
		RequestID:      requestID,
		DonorID:        donorID,
		HospitalID:     request.HospitalID,
		ResponseStatus: models.ResponsePending,
		MatchScore:     matchScore,
		PointsOffered:  donationPoints(request.UrgencyLevel),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.responses.CreateResponse(ctx, response); err != nil {
		return nil, fmt.Errorf("failed to create response: %w", err)
	}
	return response, nil
}

// RejectResponse 捐献者拒绝请求（PENDING 响应 -> REJECTED）
func (l *Lifecycle) RejectResponse(ctx context.Context, responseID, reason string) error {
	response, err := l.responses.GetResponse(ctx, responseID)
	if err != nil {
		return err
	}
	if response.ResponseStatus != models.ResponsePending {
		return fmt.Errorf("%w: cannot reject response in status %s",
			models.ErrInvalidStateTransition, response.ResponseStatus)
	}

	response.ResponseStatus = models.ResponseRejected
	if reason != "" {
		response.RejectionReason = &reason
	}
	response.UpdatedAt = l.now()
	return l.responses.UpdateResponse(ctx, response)
}

// Fulfill 记录送达并完成请求
// ACCEPTED -> FULFILLED（送达量达到需求量）或 PARTIAL_FULFILLED（不足）
func (l *Lifecycle) Fulfill(ctx context.Context, requestID string, unitsDelivered float64) error {
	if unitsDelivered <= 0 {
		return models.NewValidationError("units_delivered", "must be positive")
	}

	release := l.locks.acquire(requestID)
	defer release()

	request, err := l.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status != models.StatusAccepted {
		return fmt.Errorf("%w: cannot fulfill request in status %s",
			models.ErrInvalidStateTransition, request.Status)
	}

	now := l.now()
	if unitsDelivered >= request.UnitsRequired {
		request.Status = models.StatusFulfilled
	} else {
		request.Status = models.StatusPartialFulfilled
	}
	request.UnitsDelivered = &unitsDelivered
	request.FulfilledAt = &now
	request.UpdatedAt = now

	if err := l.requests.UpdateRequest(ctx, request, models.StatusAccepted); err != nil {
		return err
	}

	l.logger.Info("Blood request fulfilled",
		zap.String("request_id", requestID),
		zap.String("status", string(request.Status)),
		zap.Float64("units_delivered", unitsDelivered),
		zap.Float64("units_required", request.UnitsRequired),
	)

	l.emit(ctx, &models.LifecycleEvent{
		EventID:        newEventID(),
		EventType:      models.EventRequestFulfilled,
		RequestID:      requestID,
		Timestamp:      now,
		UnitsDelivered: unitsDelivered,
	})
	return nil
}

// Cancel 医院取消请求（任意非终态 -> CANCELLED）
func (l *Lifecycle) Cancel(ctx context.Context, requestID, reason string) error {
	release := l.locks.acquire(requestID)
	defer release()

	request, err := l.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if models.IsTerminal(request.Status) {
		return fmt.Errorf("%w: cannot cancel request in status %s",
			models.ErrInvalidStateTransition, request.Status)
	}

	now := l.now()
	previous := request.Status
	request.Status = models.StatusCancelled
	request.CancelledAt = &now
	if reason != "" {
		request.CancellationReason = &reason
	}
	request.UpdatedAt = now

	if err := l.requests.UpdateRequest(ctx, request, previous); err != nil {
		return err
	}

	l.logger.Info("Blood request cancelled",
		zap.String("request_id", requestID),
		zap.String("previous_status", string(previous)),
		zap.String("reason", reason),
	)

	// 未答复的响应随请求一并取消
	l.closePendingResponses(ctx, requestID, models.ResponseCancelled)

	l.emit(ctx, &models.LifecycleEvent{
		EventID:   newEventID(),
		EventType: models.EventRequestCancelled,
		RequestID: requestID,
		Timestamp: now,
		Reason:    reason,
	})
	return nil
}

// Expire 截止超时（任意非终态 -> EXPIRED）
// 对已处于终态的请求是无操作：清扫周期间同一请求可被重复扫到
func (l *Lifecycle) Expire(ctx context.Context, requestID string) error {
	release := l.locks.acquire(requestID)
	defer release()

	request, err := l.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if models.IsTerminal(request.Status) {
		return nil
	}

	now := l.now()
	previous := request.Status
	request.Status = models.StatusExpired
	request.UpdatedAt = now

	if err := l.requests.UpdateRequest(ctx, request, previous); err != nil {
		return err
	}

	l.logger.Info("Blood request expired",
		zap.String("request_id", requestID),
		zap.String("previous_status", string(previous)),
		zap.Time("deadline", request.DeadlineTimestamp),
	)

	// 截止前未答复的响应标记为 NO_RESPONSE
	l.closePendingResponses(ctx, requestID, models.ResponseNoResponse)

	l.emit(ctx, &models.LifecycleEvent{
		EventID:   newEventID(),
		EventType: models.EventRequestExpired,
		RequestID: requestID,
		Timestamp: now,
	})
	return nil
}

// closePendingResponses 将请求下仍待定的响应批量转入给定终态
// 请求的状态转换已持久化，单条响应更新失败只记日志
func (l *Lifecycle) closePendingResponses(ctx context.Context, requestID string, status models.ResponseStatus) {
	pending, err := l.responses.ListPendingByRequest(ctx, requestID)
	if err != nil {
		l.logger.Warn("Failed to list pending responses",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return
	}

	now := l.now()
	for _, response := range pending {
		response.ResponseStatus = status
		response.UpdatedAt = now
		if err := l.responses.UpdateResponse(ctx, response); err != nil {
			l.logger.Warn("Failed to close pending response",
				zap.String("response_id", response.ResponseID),
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		}
	}
}

// emit 发布事件，失败只记日志（状态已持久化，不回滚）
func (l *Lifecycle) emit(ctx context.Context, event *models.LifecycleEvent) {
	if l.bus == nil {
		return
	}
	if err := l.bus.Publish(ctx, event); err != nil {
		l.logger.Warn("Failed to publish lifecycle event, state change already persisted",
			zap.String("event_type", string(event.EventType)),
			zap.String("request_id", event.RequestID),
			zap.Error(err),
		)
	}
}

// donationPoints 按紧急程度计算捐献积分
func donationPoints(urgency models.UrgencyLevel) int {
	switch urgency {
	case models.UrgencyCritical:
		return 500
	case models.UrgencyHigh:
		return 300
	case models.UrgencyMedium:
		return 200
	default:
		return 100
	}
}

func newRequestID() string {
	return "req-" + uuid.New().String()[:8]
}

func newResponseID() string {
	return "resp-" + uuid.New().String()[:8]
}

func newEventID() string {
	return uuid.New().String()
}

// newConfirmationCode 生成取血确认码（医院核验捐献者身份用）
func newConfirmationCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
}
