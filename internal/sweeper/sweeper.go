package sweeper

import (
	"context"
	"time"

	"lifeflow-request/internal/models"

	"go.uber.org/zap"
)

// OverdueLister 列出截止时间已过且仍处于活跃状态的请求
type OverdueLister interface {
	ListOverdue(ctx context.Context, now time.Time) ([]*models.BloodRequest, error)
}

// Expirer 将单个请求转入 EXPIRED（对终态请求是无操作）
type Expirer interface {
	Expire(ctx context.Context, requestID string) error
}

// ============ 截止时间清扫器 ============

// Sweeper 周期扫描超时请求并逐个过期
// 单次扫描失败只记日志，下个周期重试；过期操作幂等，
// 连续周期重复扫到同一请求无副作用
type Sweeper struct {
	lister   OverdueLister
	expirer  Expirer
	interval time.Duration
	logger   *zap.Logger

	now    func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper 创建清扫器
func NewSweeper(lister OverdueLister, expirer Expirer, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		lister:   lister,
		expirer:  expirer,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start 启动清扫循环（阻塞，通常在独立 goroutine 中运行）
func (s *Sweeper) Start(ctx context.Context) {
	defer close(s.doneCh)

	s.logger.Info("Deadline sweeper started",
		zap.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Deadline sweeper stopped")
			return
		case <-s.stopCh:
			s.logger.Info("Deadline sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop 停止清扫循环并等待退出
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Sweep 执行一次扫描
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()

	// 1. 查询超时的活跃请求
	overdue, err := s.lister.ListOverdue(ctx, now)
	if err != nil {
		s.logger.Error("Failed to list overdue requests", zap.Error(err))
		return
	}
	if len(overdue) == 0 {
		return
	}

	s.logger.Info("Sweeping overdue requests",
		zap.Int("count", len(overdue)),
	)

	// 2. 逐个过期，单个失败不中断整批
	for _, request := range overdue {
		if ctx.Err() != nil {
			return
		}
		if err := s.expirer.Expire(ctx, request.RequestID); err != nil {
			s.logger.Error("Failed to expire request",
				zap.String("request_id", request.RequestID),
				zap.Error(err),
			)
		}
	}
}
