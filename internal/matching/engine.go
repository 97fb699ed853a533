package matching

import (
	"context"
	"math"
	"sort"
	"sync"

	"lifeflow-request/internal/models"

	"go.uber.org/zap"
)

// 匹配参数默认值
const (
	DefaultMaxResults = 10 // 返回的最大候选人数
	DefaultMaxWorkers = 5  // 单次匹配的并发下游查询上限
)

// Downstream 匹配所需的下游调用（只经网关访问，绝不直连协作方）
type Downstream interface {
	CheckStock(ctx context.Context, bloodType models.BloodType, units float64) (bool, error)
	FindEligibleDonors(ctx context.Context, bloodType models.BloodType, units float64) ([]models.EligibleDonor, error)
	Distance(ctx context.Context, origin, destination string) (*float64, error)
}

// MatchResult 匹配结果
// StockChecked 为 true 表示库存查询成功完成；
// UseStock 为 true 表示库存即可满足，候选列表为空；
// Degraded 为 true 表示部分下游调用失败，结果可能不完整。
type MatchResult struct {
	StockChecked bool
	UseStock     bool
	Degraded     bool
	Donors       []models.MatchedDonor
}

// Engine 捐献者匹配引擎
// 对一个 BloodRequest 产出按评分排序的候选列表；
// 下游失败只丢弃该次调用的贡献，不让整个请求失败。
type Engine struct {
	gateway    Downstream
	logger     *zap.Logger
	maxResults int
	maxWorkers int
}

// NewEngine 创建匹配引擎
func NewEngine(gateway Downstream, logger *zap.Logger) *Engine {
	return &Engine{
		gateway:    gateway,
		logger:     logger,
		maxResults: DefaultMaxResults,
		maxWorkers: DefaultMaxWorkers,
	}
}

// FindMatchedDonors 为请求查找匹配的捐献者
// 流程：
// 1. 查库存，足够则直接返回空列表（使用库存）
// 2. 查候选捐献者（服务方已过滤医学条件和冷却期）
// 3. 并发计算每个候选人的距离，评分排序，截取前 N 名
// 取消信号在每次下游调用之间检查，及时返回已有的部分结果
func (e *Engine) FindMatchedDonors(ctx context.Context, request *models.BloodRequest) (*MatchResult, error) {
	result := &MatchResult{}

	e.logger.Info("Starting donor matching",
		zap.String("request_id", request.RequestID),
		zap.String("blood_type", string(request.BloodTypeNeeded)),
	)

	// 1. 查询库存
	stockAvailable, err := e.gateway.CheckStock(ctx, request.BloodTypeNeeded, request.UnitsRequired)
	if err != nil {
		// 库存不可用时按库存不足继续找捐献者（降级）
		e.logger.Warn("Stock check unavailable, proceeding to donor search",
			zap.String("request_id", request.RequestID),
			zap.Error(err),
		)
		result.Degraded = true
	} else {
		result.StockChecked = true
		if stockAvailable {
			e.logger.Info("Stock available in inventory",
				zap.String("request_id", request.RequestID),
			)
			result.UseStock = true
			return result, nil
		}
	}

	if ctx.Err() != nil {
		return result, nil
	}

	// 2. 查询候选捐献者
	eligible, err := e.gateway.FindEligibleDonors(ctx, request.BloodTypeNeeded, request.UnitsRequired)
	if err != nil {
		e.logger.Warn("Donor lookup unavailable, returning degraded result",
			zap.String("request_id", request.RequestID),
			zap.Error(err),
		)
		result.Degraded = true
		return result, nil
	}

	e.logger.Info("Found eligible donors",
		zap.String("request_id", request.RequestID),
		zap.Int("donor_count", len(eligible)),
	)

	if len(eligible) == 0 {
		return result, nil
	}

	// 3. 并发评分（工作池限制并发下游查询数）
	scored, degraded := e.scoreCandidates(ctx, request, eligible)
	if degraded {
		result.Degraded = true
	}

	// 4. 排序：评分降序，距离升序，捐献者ID升序（保证确定性）
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		di, dj := distanceOrInf(scored[i].DistanceKm), distanceOrInf(scored[j].DistanceKm)
		if di != dj {
			return di < dj
		}
		return scored[i].DonorID < scored[j].DonorID
	})

	if len(scored) > e.maxResults {
		scored = scored[:e.maxResults]
	}
	result.Donors = scored

	e.logger.Info("Ranked donors",
		zap.String("request_id", request.RequestID),
		zap.Int("ranked_count", len(scored)),
		zap.Bool("degraded", result.Degraded),
	)

	return result, nil
}

// scoreCandidates 并发计算每个候选人的评分
// 上下文取消后不再派发新的查询，只返回已算完的部分
func (e *Engine) scoreCandidates(ctx context.Context, request *models.BloodRequest, eligible []models.EligibleDonor) ([]models.MatchedDonor, bool) {
	critical := models.IsCritical(request.UrgencyLevel)

	scored := make([]models.MatchedDonor, len(eligible))
	computed := make([]bool, len(eligible))
	var degraded bool
	var mu sync.Mutex

	sem := make(chan struct{}, e.maxWorkers)
	var wg sync.WaitGroup

	for i, donor := range eligible {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, candidate models.EligibleDonor) {
			defer wg.Done()
			defer func() { <-sem }()

			matched := models.MatchedDonor{
				DonorID:            candidate.DonorID,
				BloodType:          candidate.BloodType,
				Location:           candidate.Location,
				CompatibilityScore: CompatibilityScore(request.BloodTypeNeeded, candidate.BloodType),
				// 可靠性评分由捐献者服务提供，已在 [0,20] 区间，原样使用
				ReliabilityScore: candidate.ReliabilityScore,
			}

			km, err := e.gateway.Distance(ctx, candidate.Location, request.GPSLocationHospital)
			if err != nil {
				mu.Lock()
				degraded = true
				mu.Unlock()
				km = nil
			}
			matched.DistanceKm = km
			matched.DistanceScore = DistanceScore(km)
			matched.FinalScore = FinalScore(matched.CompatibilityScore, matched.DistanceScore, matched.ReliabilityScore, critical)

			mu.Lock()
			scored[idx] = matched
			computed[idx] = true
			mu.Unlock()
		}(i, donor)
	}
	wg.Wait()

	out := make([]models.MatchedDonor, 0, len(eligible))
	for i := range scored {
		if computed[i] {
			out = append(out, scored[i])
		}
	}
	return out, degraded
}

// distanceOrInf 距离未知时按无穷远参与排序
func distanceOrInf(km *float64) float64 {
	if km == nil {
		return math.Inf(1)
	}
	return *km
}
