package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"lifeflow-request/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLister struct {
	mu       sync.Mutex
	requests []*models.BloodRequest
	err      error
	calls    int
}

func (l *fakeLister) ListOverdue(_ context.Context, _ time.Time) ([]*models.BloodRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.requests, nil
}

type fakeExpirer struct {
	mu      sync.Mutex
	expired []string
	errFor  map[string]error
}

func (e *fakeExpirer) Expire(_ context.Context, requestID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.errFor[requestID]; ok {
		return err
	}
	e.expired = append(e.expired, requestID)
	return nil
}

func overdueRequest(id string) *models.BloodRequest {
	return &models.BloodRequest{
		RequestID:         id,
		Status:            models.StatusPending,
		DeadlineTimestamp: time.Now().Add(-time.Minute),
	}
}

func TestSweep(t *testing.T) {
	lister := &fakeLister{requests: []*models.BloodRequest{
		overdueRequest("req-aaaa0001"),
		overdueRequest("req-aaaa0002"),
	}}
	expirer := &fakeExpirer{}
	s := NewSweeper(lister, expirer, 30*time.Second, zap.NewNop())

	s.Sweep(context.Background())

	assert.Equal(t, []string{"req-aaaa0001", "req-aaaa0002"}, expirer.expired)
}

func TestSweep_Empty(t *testing.T) {
	lister := &fakeLister{}
	expirer := &fakeExpirer{}
	s := NewSweeper(lister, expirer, 30*time.Second, zap.NewNop())

	s.Sweep(context.Background())

	assert.Empty(t, expirer.expired)
}

func TestSweep_ListFailure(t *testing.T) {
	lister := &fakeLister{err: assert.AnError}
	expirer := &fakeExpirer{}
	s := NewSweeper(lister, expirer, 30*time.Second, zap.NewNop())

	// 查询失败只记日志，下个周期重试
	s.Sweep(context.Background())

	assert.Empty(t, expirer.expired)
}

func TestSweep_SingleFailureContinuesBatch(t *testing.T) {
	lister := &fakeLister{requests: []*models.BloodRequest{
		overdueRequest("req-aaaa0001"),
		overdueRequest("req-aaaa0002"),
		overdueRequest("req-aaaa0003"),
	}}
	expirer := &fakeExpirer{errFor: map[string]error{
		"req-aaaa0002": assert.AnError,
	}}
	s := NewSweeper(lister, expirer, 30*time.Second, zap.NewNop())

	s.Sweep(context.Background())

	assert.Equal(t, []string{"req-aaaa0001", "req-aaaa0003"}, expirer.expired)
}

func TestSweep_CancelledContext(t *testing.T) {
	lister := &fakeLister{requests: []*models.BloodRequest{
		overdueRequest("req-aaaa0001"),
	}}
	expirer := &fakeExpirer{}
	s := NewSweeper(lister, expirer, 30*time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Sweep(ctx)

	assert.Empty(t, expirer.expired)
}

func TestStartStop(t *testing.T) {
	lister := &fakeLister{}
	expirer := &fakeExpirer{}
	s := NewSweeper(lister, expirer, 10*time.Millisecond, zap.NewNop())

	go s.Start(context.Background())

	// 等待至少一个周期触发
	require.Eventually(t, func() bool {
		lister.mu.Lock()
		defer lister.mu.Unlock()
		return lister.calls > 0
	}, time.Second, 5*time.Millisecond)

	s.Stop()
}
