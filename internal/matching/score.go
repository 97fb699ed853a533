package matching

import (
	"strings"

	"lifeflow-request/internal/models"
)

// CompatibilityScore 血型相容性评分（0-40）
// 固定查表，非完整 ABO 相容图：
// - 完全同型 = 40
// - O+ 捐献者对任何非 O 型受血者 = 35
// - AB+ 受血者接受 A+/B+/O+ 捐献者 = 35
// - 双方均为 Rh 阴性 = 30
// - 其余 = 10（紧急情况下仍可能使用）
func CompatibilityScore(needed, donor models.BloodType) int {
	if needed == donor {
		return 40
	}

	neededStr := string(needed)
	donorStr := string(donor)

	if donor == models.OPositive && !strings.HasPrefix(neededStr, "O_") {
		return 35
	}

	if needed == models.ABPositive &&
		(donor == models.OPositive || donor == models.APositive || donor == models.BPositive) {
		return 35
	}

	if strings.HasSuffix(neededStr, "NEGATIVE") && strings.HasSuffix(donorStr, "NEGATIVE") {
		return 30
	}

	return 10
}

// DistanceScore 距离评分（0-30，越近越高）
// 距离未知时计 0 分
func DistanceScore(distanceKm *float64) int {
	if distanceKm == nil {
		return 0
	}

	km := *distanceKm
	switch {
	case km <= 1:
		return 30
	case km <= 2:
		return 25
	case km <= 3:
		return 20
	case km <= 5:
		return 15
	case km <= 10:
		return 10
	default:
		return 5
	}
}

// FinalScore 综合评分
// 基础分 = 相容性 + 距离 + 可靠性；危急请求乘 1.5，四舍五入（0.5 进位）
func FinalScore(compatibility, distance, reliability int, critical bool) int {
	base := compatibility + distance + reliability
	if !critical {
		return base
	}
	// round-half-up(1.5 * base)，整数运算避免浮点误差
	return (3*base + 1) / 2
}
