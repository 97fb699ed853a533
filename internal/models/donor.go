package models

// MatchedDonor 匹配结果中的候选捐献者（临时对象，不落库）
// CompatibilityScore [0,40]，DistanceScore [0,30]，ReliabilityScore [0,20]
// 由捐献者服务直接提供。
type MatchedDonor struct {
	DonorID            string    `json:"donor_id"`
	BloodType          BloodType `json:"blood_type"`
	Location           string    `json:"location"`
	DistanceKm         *float64  `json:"distance_km,omitempty"`
	CompatibilityScore int       `json:"compatibility_score"`
	DistanceScore      int       `json:"distance_score"`
	ReliabilityScore   int       `json:"reliability_score"`
	FinalScore         int       `json:"final_score"`
}

// EligibleDonor 捐献者服务返回的候选人（已按医学条件和冷却期过滤）
type EligibleDonor struct {
	DonorID          string    `json:"donor_id"`
	BloodType        BloodType `json:"blood_type"`
	Location         string    `json:"location"`
	ReliabilityScore int       `json:"reliability_score"`
}
