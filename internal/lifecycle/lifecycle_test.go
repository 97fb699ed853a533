package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"lifeflow-request/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============ 测试替身 ============

type fakeStore struct {
	mu        sync.Mutex
	requests  map[string]*models.BloodRequest
	responses map[string]*models.RequestResponse
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests:  make(map[string]*models.BloodRequest),
		responses: make(map[string]*models.RequestResponse),
	}
}

func (s *fakeStore) CreateRequest(_ context.Context, request *models.BloodRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *request
	s.requests[request.RequestID] = &copied
	return nil
}

func (s *fakeStore) GetRequest(_ context.Context, requestID string) (*models.BloodRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, models.ErrNotFound)
	}
	copied := *request
	return &copied, nil
}

func (s *fakeStore) UpdateRequest(_ context.Context, request *models.BloodRequest, expected models.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[request.RequestID]
	if !ok {
		return fmt.Errorf("request %s: %w", request.RequestID, models.ErrNotFound)
	}
	if current.Status != expected {
		return fmt.Errorf("request %s in status %s, expected %s: %w",
			request.RequestID, current.Status, expected, models.ErrInvalidStateTransition)
	}
	copied := *request
	s.requests[request.RequestID] = &copied
	return nil
}

func (s *fakeStore) CreateResponse(_ context.Context, response *models.RequestResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *response
	s.responses[response.ResponseID] = &copied
	return nil
}

func (s *fakeStore) GetResponse(_ context.Context, responseID string) (*models.RequestResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	response, ok := s.responses[responseID]
	if !ok {
		return nil, fmt.Errorf("response %s: %w", responseID, models.ErrNotFound)
	}
	copied := *response
	return &copied, nil
}

func (s *fakeStore) UpdateResponse(_ context.Context, response *models.RequestResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.responses[response.ResponseID]; !ok {
		return fmt.Errorf("response %s: %w", response.ResponseID, models.ErrNotFound)
	}
	copied := *response
	s.responses[response.ResponseID] = &copied
	return nil
}

func (s *fakeStore) ListPendingByRequest(_ context.Context, requestID string) ([]*models.RequestResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*models.RequestResponse
	for _, response := range s.responses {
		if response.RequestID == requestID && response.ResponseStatus == models.ResponsePending {
			copied := *response
			pending = append(pending, &copied)
		}
	}
	return pending, nil
}

func (s *fakeStore) responseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}

type recordingBus struct {
	mu     sync.Mutex
	events []*models.LifecycleEvent
	err    error
}

func (b *recordingBus) Publish(_ context.Context, event *models.LifecycleEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) eventTypes() []models.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := make([]models.EventType, 0, len(b.events))
	for _, e := range b.events {
		types = append(types, e.EventType)
	}
	return types
}

func setupLifecycle(t *testing.T) (*Lifecycle, *fakeStore, *recordingBus) {
	t.Helper()
	store := newFakeStore()
	bus := &recordingBus{}
	lc := NewLifecycle(store, store, bus, zap.NewNop())
	return lc, store, bus
}

func validSpec() *models.CreateRequestSpec {
	return &models.CreateRequestSpec{
		HospitalID:      "hosp-001",
		BloodType:       models.ONegative,
		UnitsRequired:   2,
		UrgencyLevel:    models.UrgencyCritical,
		DeadlineMinutes: 60,
		GPSLocation:     "40.7128,-74.0060",
	}
}

func createRequest(t *testing.T, lc *Lifecycle) *models.BloodRequest {
	t.Helper()
	request, err := lc.Create(context.Background(), validSpec())
	require.NoError(t, err)
	return request
}

// ============ 创建 ============

func TestCreate(t *testing.T) {
	lc, _, bus := setupLifecycle(t)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lc.now = func() time.Time { return fixed }

	request, err := lc.Create(context.Background(), validSpec())
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, request.Status)
	assert.Equal(t, 100, request.UrgencyNumericScore)
	assert.Equal(t, fixed.Add(60*time.Minute), request.DeadlineTimestamp)
	assert.Contains(t, request.RequestID, "req-")
	assert.False(t, request.StockChecked)
	assert.False(t, request.DonorSearchInitiated)

	require.Len(t, bus.events, 1)
	event := bus.events[0]
	assert.Equal(t, models.EventBloodNeeded, event.EventType)
	assert.Equal(t, request.RequestID, event.RequestID)
	assert.Equal(t, models.ONegative, event.BloodType)
	assert.Equal(t, 60, event.DeadlineMinutes)
}

func TestCreate_InvalidSpec(t *testing.T) {
	lc, store, bus := setupLifecycle(t)

	spec := validSpec()
	spec.DeadlineMinutes = 4

	_, err := lc.Create(context.Background(), spec)
	assert.True(t, models.IsValidationError(err))
	assert.Empty(t, store.requests)
	assert.Empty(t, bus.events)
}

func TestCreate_EventFailureNonFatal(t *testing.T) {
	lc, store, bus := setupLifecycle(t)
	bus.err = assert.AnError

	request, err := lc.Create(context.Background(), validSpec())
	require.NoError(t, err)

	// 事件发布失败不回滚已持久化的请求
	stored, err := store.GetRequest(context.Background(), request.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
}

// ============ 匹配与接受 ============

func TestMarkMatched(t *testing.T) {
	lc, store, _ := setupLifecycle(t)
	request := createRequest(t, lc)

	require.NoError(t, lc.MarkMatched(context.Background(), request.RequestID))

	stored, _ := store.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.StatusMatched, stored.Status)
	assert.True(t, stored.DonorSearchInitiated)

	// 重复标记：已不在 PENDING
	err := lc.MarkMatched(context.Background(), request.RequestID)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestRecordStockCheck(t *testing.T) {
	lc, store, _ := setupLifecycle(t)
	request := createRequest(t, lc)

	require.NoError(t, lc.RecordStockCheck(context.Background(), request.RequestID))

	stored, _ := store.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.True(t, stored.StockChecked)
}

func TestDonorAccepts(t *testing.T) {
	lc, store, bus := setupLifecycle(t)
	request := createRequest(t, lc)
	require.NoError(t, lc.MarkMatched(context.Background(), request.RequestID))

	eta := 25
	score := 135
	response, err := lc.DonorAccepts(context.Background(), request.RequestID, "donor-001", &eta, nil, &score)
	require.NoError(t, err)

	assert.Equal(t, models.ResponseAccepted, response.ResponseStatus)
	require.NotNil(t, response.ConfirmationCode)
	assert.Len(t, *response.ConfirmationCode, 6)
	assert.Equal(t, 500, response.PointsOffered) // CRITICAL
	require.NotNil(t, response.MatchScore)
	assert.Equal(t, 135, *response.MatchScore)

	stored, _ := store.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.StatusAccepted, stored.Status)

	types := bus.eventTypes()
	assert.Equal(t, models.EventDonorAccepted, types[len(types)-1])
}

func TestDonorAccepts_MultipleDonors(t *testing.T) {
	lc, store, _ := setupLifecycle(t)
	request := createRequest(t, lc)

	// 未经过 MATCHED 直接接受也允许（PENDING -> ACCEPTED）
	_, err := lc.DonorAccepts(context.Background(), request.RequestID, "donor-001", nil, nil, nil)
	require.NoError(t, err)

	// 请求已 ACCEPTED，后续捐献者仍可接受
	_, err = lc.DonorAccepts(context.Background(), request.RequestID, "donor-002", nil, nil, nil)
	require.NoError(t, err)

	stored, _ := store.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.StatusAccepted, stored.Status)
	assert.Equal(t, 2, store.responseCount())
}

func TestDonorAccepts_TerminalRequest(t *testing.T) {
	lc, _, _ := setupLifecycle(t)
	request := createRequest(t, lc)
	require.NoError(t, lc.Cancel(context.Background(), request.RequestID, "no longer needed"))

	_, err := lc.DonorAccepts(context.Background(), request.RequestID, "donor-001", nil, nil, nil)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestDonorAccepts_MissingDonor(t *testing.T) {
	lc, _, _ := setupLifecycle(t)
	request := createRequest(t, lc)

	_, err := lc.DonorAccepts(context.Background(), request.RequestID, "", nil, nil, nil)
	assert.True(t, models.IsValidationError(err))
}

func TestDonorAccepts_ConcurrentSerialized(t *testing.T) {
	lc, store, _ := setupLifecycle(t)
	request := createRequest(t, lc)

	// 并发接受同一请求：锁表串行化后全部成功
	const donors = 10
	var wg sync.WaitGroup
	errs := make([]error, donors)
	for i := 0; i < donors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = lc.DonorAccepts(context.Background(), request.RequestID,
				fmt.Sprintf("donor-%03d", i), nil, nil, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "donor %d", i)
	}
	assert.Equal(t, donors, store.responseCount())

	stored, _ := store.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.StatusAccepted, stored.Status)
}

func TestDonorAccepts_PickupDerivedFromEta(t *testing.T) {
	lc, _, _ := setupLifecycle(t)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lc.now = func() time.Time { return fixed }
	request := createRequest(t, lc)

	eta := 25
	response, err := lc.DonorAccepts(context.Background(), request.RequestID, "donor-001", &eta, nil, nil)
	require.NoError(t, err)

	require.NotNil(t, response.ScheduledPickupTime)
	assert.Equal(t, fixed.Add(25*time.Minute), *response.ScheduledPickupTime)
}

// ============ 待定与拒绝 ============

func TestRecordResponse(t *testing.T) {
	lc, store, _ := setupLifecycle(t)
	request := createRequest(t, lc)

	score := 83
	response, err := lc.RecordResponse(context.Background(), request.RequestID, "donor-001", &score)
	require.NoError(t, err)

	assert.Equal(t, models.ResponsePending, response.ResponseStatus)
	require.NotNil(t, response.MatchScore)
	assert.Equal(t, 83, *response.MatchScore)

	// 待定响应不改变请求状态
	stored, _ := store.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestRecordResponse_TerminalRequest(t *testing.T) {
	lc, _, _ := setupLifecycle(t)
	request := createRequest(t, lc)
	require.NoError(t, lc.Expire(context.Background(), request.RequestID))

	_, err := lc.RecordResponse(context.Background(), request.RequestID, "donor-001", nil)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestRejectResponse(t *testing.T) {
	lc, store, _ := setupLifecycle(t)
	request := createRequest(t, lc)
	response, err := lc.RecordResponse(context.Background(), request.RequestID, "donor-001", nil)
	require.NoError(t, err)

	require.NoError(t, lc.RejectResponse(context.Background(), response.ResponseID, "out of town"))

	stored, err := store.GetResponse(context.Background(), response.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseRejected, stored.ResponseStatus)
	require.NotNil(t, stored.RejectionReason)
	assert.Equal(t, "out of town", *stored.RejectionReason)
}

func TestRejectResponse_AlreadyAccepted(t *testing.T) {
	lc, _, _ := setupLifecycle(t)
	request := createRequest(t, lc)
	response, err := lc.DonorAccepts(context.Background(), request.RequestID, "donor-001", nil, nil, nil)
	require.NoError(t, err)

	err = lc.RejectResponse(context.Background(), response.ResponseID, "changed mind")
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

// ============ 完成 ============

func TestFulfill(t *testing.T) {
	lc, store, bus := setupLifecycle(t)
	request := createRequest(t, lc)
	_, err := lc.DonorAccepts(context.Background(), request.RequestID, "donor-001", nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, lc.Fulfill(context.Background(), request.RequestID, 2))

	stored, _ := store.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.StatusFulfilled, stored.Status)
	require.NotNil(t, stored.UnitsDelivered)
	assert.Equal(t, 2.0, *stored.UnitsDelivered)
	assert.NotNil(t, stored.FulfilledAt)

	types := bus.eventTypes()
	assert.Equal(t, models.EventRequestFulfilled, types[len(types)-1])
}

func TestFulfill_Partial(t *testing.T) {
	lc, store, _ := setupLifecycle(t)
	request := createRequest(t, lc)
	_, err := lc.DonorAccepts(context.Background(), request.RequestID, "donor-001", nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, lc.Fulfill(context.Background(), request.RequestID, 1.5))

	stored, _ := store.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.StatusPartialFulfilled, stored.Status)
}

func TestFulfill_NotAccepted(t *testing.T) {
	lc, _, _ := setupLifecycle(t)
	request := createRequest(t, lc)

	err := lc.Fulfill(context.Background(), request.RequestID, 2)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestFulfill_InvalidUnits(t *testing.T) {
	lc, _, _ := setupLifecycle(t)
	request := createRequest(t, lc)

	err := lc.Fulfill(context.Background(), request.RequestID, 0)
	assert.True(t, models.IsValidationError(err))
}

// ============ 取消与过期 ============

func TestCancel(t *testing.T) {
	lc, store, bus := setupLifecycle(t)
	request := createRequest(t, lc)

	require.NoError(t, lc.Cancel(context.Background(), request.RequestID, "patient transferred"))

	stored, _ := store.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.NotNil(t, stored.CancelledAt)
	require.NotNil(t, stored.CancellationReason)
	assert.Equal(t, "patient transferred", *stored.CancellationReason)

	last := bus.events[len(bus.events)-1]
	assert.Equal(t, models.EventRequestCancelled, last.EventType)
	assert.Equal(t, "patient transferred", last.Reason)
}

func TestCancel_TerminalRequest(t *testing.T) {
	lc, _, _ := setupLifecycle(t)
	request := createRequest(t, lc)
	_, err := lc.DonorAccepts(context.Background(), request.RequestID, "donor-001", nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, lc.Fulfill(context.Background(), request.RequestID, 2))

	err = lc.Cancel(context.Background(), request.RequestID, "changed mind")
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestExpire(t *testing.T) {
	lc, store, bus := setupLifecycle(t)
	request := createRequest(t, lc)

	require.NoError(t, lc.Expire(context.Background(), request.RequestID))

	stored, _ := store.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.StatusExpired, stored.Status)

	types := bus.eventTypes()
	assert.Equal(t, models.EventRequestExpired, types[len(types)-1])
}

func TestExpire_Idempotent(t *testing.T) {
	lc, _, bus := setupLifecycle(t)
	request := createRequest(t, lc)

	require.NoError(t, lc.Expire(context.Background(), request.RequestID))
	eventsAfterFirst := len(bus.events)

	// 重复过期是无操作，不再发事件
	require.NoError(t, lc.Expire(context.Background(), request.RequestID))
	assert.Equal(t, eventsAfterFirst, len(bus.events))
}

func TestExpire_FulfilledRequestUntouched(t *testing.T) {
	lc, store, _ := setupLifecycle(t)
	request := createRequest(t, lc)
	_, err := lc.DonorAccepts(context.Background(), request.RequestID, "donor-001", nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, lc.Fulfill(context.Background(), request.RequestID, 2))

	// 清扫与完成竞争：已完成的请求不被改写
	require.NoError(t, lc.Expire(context.Background(), request.RequestID))

	stored, _ := store.GetRequest(context.Background(), request.RequestID)
	assert.Equal(t, models.StatusFulfilled, stored.Status)
}

func TestCancel_ClosesPendingResponses(t *testing.T) {
	lc, store, _ := setupLifecycle(t)
	request := createRequest(t, lc)

	pending, err := lc.RecordResponse(context.Background(), request.RequestID, "donor-001", nil)
	require.NoError(t, err)
	accepted, err := lc.DonorAccepts(context.Background(), request.RequestID, "donor-002", nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, lc.Cancel(context.Background(), request.RequestID, "patient transferred"))

	// 待定响应随请求取消，已接受的响应不被改写
	stored, err := store.GetResponse(context.Background(), pending.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseCancelled, stored.ResponseStatus)

	stored, err = store.GetResponse(context.Background(), accepted.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseAccepted, stored.ResponseStatus)
}

func TestExpire_MarksPendingNoResponse(t *testing.T) {
	lc, store, _ := setupLifecycle(t)
	request := createRequest(t, lc)

	first, err := lc.RecordResponse(context.Background(), request.RequestID, "donor-001", nil)
	require.NoError(t, err)
	second, err := lc.RecordResponse(context.Background(), request.RequestID, "donor-002", nil)
	require.NoError(t, err)

	require.NoError(t, lc.Expire(context.Background(), request.RequestID))

	for _, responseID := range []string{first.ResponseID, second.ResponseID} {
		stored, err := store.GetResponse(context.Background(), responseID)
		require.NoError(t, err)
		assert.Equal(t, models.ResponseNoResponse, stored.ResponseStatus)
	}
}

func TestExpire_NotFound(t *testing.T) {
	lc, _, _ := setupLifecycle(t)

	err := lc.Expire(context.Background(), "req-missing1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
