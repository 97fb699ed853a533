package gateway

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 下游协作方名称（每个名称对应一个独立熔断器）
const (
	CollabInventory    = "inventory-service"
	CollabDonor        = "donor-service"
	CollabGeolocation  = "geolocation-service"
	CollabNotification = "notification-service"
	CollabAnalytics    = "analytics-service"
)

// ErrBreakerOpen 熔断器打开，调用被直接拒绝（不发起网络请求）
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerState 熔断器状态
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig 单个熔断器配置
type BreakerConfig struct {
	FailureRateThreshold  float64       // 失败率阈值（百分比）
	SlowCallRateThreshold float64       // 慢调用率阈值（百分比）
	SlowCallDuration      time.Duration // 慢调用判定时长
	WaitDuration          time.Duration // Open 状态等待时长
	WindowSize            int           // 滑动窗口大小（最近 N 次调用）
	HalfOpenMaxCalls      int           // HalfOpen 状态允许的试探调用数
}

// DefaultBreakerConfigs 各协作方的默认熔断配置
// 地理服务失败对安全性影响较小，阈值放宽、等待更长；
// 通知/分析为非关键路径，阈值更宽松。
func DefaultBreakerConfigs() map[string]BreakerConfig {
	return map[string]BreakerConfig{
		CollabInventory: {
			FailureRateThreshold:  50,
			SlowCallRateThreshold: 50,
			SlowCallDuration:      2 * time.Second,
			WaitDuration:          30 * time.Second,
			WindowSize:            100,
			HalfOpenMaxCalls:      3,
		},
		CollabDonor: {
			FailureRateThreshold:  50,
			SlowCallRateThreshold: 50,
			SlowCallDuration:      2 * time.Second,
			WaitDuration:          30 * time.Second,
			WindowSize:            100,
			HalfOpenMaxCalls:      3,
		},
		CollabGeolocation: {
			FailureRateThreshold:  40,
			SlowCallRateThreshold: 40,
			SlowCallDuration:      4 * time.Second,
			WaitDuration:          45 * time.Second,
			WindowSize:            100,
			HalfOpenMaxCalls:      3,
		},
		CollabNotification: {
			FailureRateThreshold:  60,
			SlowCallRateThreshold: 60,
			SlowCallDuration:      5 * time.Second,
			WaitDuration:          60 * time.Second,
			WindowSize:            100,
			HalfOpenMaxCalls:      3,
		},
		CollabAnalytics: {
			FailureRateThreshold:  70,
			SlowCallRateThreshold: 70,
			SlowCallDuration:      5 * time.Second,
			WaitDuration:          60 * time.Second,
			WindowSize:            100,
			HalfOpenMaxCalls:      3,
		},
	}
}

// callRecord 单次调用结果
type callRecord struct {
	failure bool
	slow    bool
}

// breaker 单个协作方的熔断器状态机
type breaker struct {
	name   string
	config BreakerConfig

	mu                sync.Mutex
	state             BreakerState
	window            []callRecord // 环形缓冲，最近 WindowSize 次调用
	windowPos         int
	windowCount       int
	halfOpenPermits   int // HalfOpen 已放行的试探调用数
	halfOpenSuccesses int
	lastTransition    time.Time
}

// BreakerRegistry 熔断器注册表（进程级共享，按协作方名称索引）
// 并发安全：注册表读多写少，单个熔断器内部用互斥锁保护
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*breaker
	configs  map[string]BreakerConfig
	fallback BreakerConfig
	logger   *zap.Logger
	now      func() time.Time // 可注入，便于测试
}

// NewBreakerRegistry 创建熔断器注册表
func NewBreakerRegistry(configs map[string]BreakerConfig, logger *zap.Logger) *BreakerRegistry {
	if configs == nil {
		configs = DefaultBreakerConfigs()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*breaker),
		configs:  configs,
		fallback: BreakerConfig{
			FailureRateThreshold:  50,
			SlowCallRateThreshold: 50,
			SlowCallDuration:      2 * time.Second,
			WaitDuration:          30 * time.Second,
			WindowSize:            100,
			HalfOpenMaxCalls:      3,
		},
		logger: logger,
		now:    time.Now,
	}
}

// get 获取或创建指定协作方的熔断器
func (r *BreakerRegistry) get(name string) *breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}

	cfg, ok := r.configs[name]
	if !ok {
		cfg = r.fallback
	}
	b = &breaker{
		name:           name,
		config:         cfg,
		state:          StateClosed,
		window:         make([]callRecord, cfg.WindowSize),
		lastTransition: r.now(),
	}
	r.breakers[name] = b
	r.logger.Info("Circuit breaker registered",
		zap.String("collaborator", name),
	)
	return b
}

// Allow 调用前检查：放行返回 nil，拒绝返回 ErrBreakerOpen
// Open 状态下等待时长已过时，下一次调用触发 Open → HalfOpen
func (r *BreakerRegistry) Allow(name string) error {
	b := r.get(name)
	now := r.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Sub(b.lastTransition) >= b.config.WaitDuration {
			r.transition(b, StateHalfOpen, now)
			b.halfOpenPermits = 1
			return nil
		}
		return ErrBreakerOpen
	case StateHalfOpen:
		if b.halfOpenPermits < b.config.HalfOpenMaxCalls {
			b.halfOpenPermits++
			return nil
		}
		return ErrBreakerOpen
	}
	return nil
}

// Record 记录调用结果（每次放行的调用结束后必须调用一次）
func (r *BreakerRegistry) Record(name string, duration time.Duration, failed bool) {
	b := r.get(name)
	now := r.now()
	slow := duration >= b.config.SlowCallDuration

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		if failed {
			// 任一试探调用失败：回到 Open，等待计时重新开始
			r.transition(b, StateOpen, now)
			return
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.HalfOpenMaxCalls {
			// 全部试探成功：关闭熔断器并清空窗口
			r.transition(b, StateClosed, now)
			b.resetWindow()
		}
	case StateClosed:
		b.window[b.windowPos] = callRecord{failure: failed, slow: slow}
		b.windowPos = (b.windowPos + 1) % b.config.WindowSize
		if b.windowCount < b.config.WindowSize {
			b.windowCount++
		}
		// 窗口填满后才评估比率
		if b.windowCount < b.config.WindowSize {
			return
		}
		failureRate, slowRate := b.rates()
		if failureRate >= b.config.FailureRateThreshold || slowRate >= b.config.SlowCallRateThreshold {
			r.transition(b, StateOpen, now)
			r.logger.Warn("Circuit breaker opened",
				zap.String("collaborator", name),
				zap.Float64("failure_rate", failureRate),
				zap.Float64("slow_call_rate", slowRate),
			)
		}
	case StateOpen:
		// Open 状态不应有放行的调用，忽略迟到的记录
	}
}

// State 返回当前状态（监控用）
func (r *BreakerRegistry) State(name string) BreakerState {
	b := r.get(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition 执行状态转换（调用方须持有 b.mu）
func (r *BreakerRegistry) transition(b *breaker, to BreakerState, now time.Time) {
	from := b.state
	b.state = to
	b.lastTransition = now
	if to == StateHalfOpen {
		b.halfOpenPermits = 0
		b.halfOpenSuccesses = 0
	}
	r.logger.Info("Circuit breaker state changed",
		zap.String("collaborator", b.name),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

// rates 计算窗口内的失败率和慢调用率（百分比，调用方须持有 b.mu）
func (b *breaker) rates() (float64, float64) {
	if b.windowCount == 0 {
		return 0, 0
	}
	var failures, slows int
	for i := 0; i < b.windowCount; i++ {
		if b.window[i].failure {
			failures++
		}
		if b.window[i].slow {
			slows++
		}
	}
	total := float64(b.windowCount)
	return float64(failures) / total * 100, float64(slows) / total * 100
}

// resetWindow 清空滑动窗口（调用方须持有 b.mu）
func (b *breaker) resetWindow() {
	b.window = make([]callRecord, b.config.WindowSize)
	b.windowPos = 0
	b.windowCount = 0
}
