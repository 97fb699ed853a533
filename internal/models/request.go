package models

import (
	"time"
)

// BloodType 血型（ABO/Rh 八种）
type BloodType string

const (
	OPositive  BloodType = "O_POSITIVE"
	ONegative  BloodType = "O_NEGATIVE"
	APositive  BloodType = "A_POSITIVE"
	ANegative  BloodType = "A_NEGATIVE"
	BPositive  BloodType = "B_POSITIVE"
	BNegative  BloodType = "B_NEGATIVE"
	ABPositive BloodType = "AB_POSITIVE"
	ABNegative BloodType = "AB_NEGATIVE"
)

// ValidBloodType 校验血型枚举值
func ValidBloodType(bt BloodType) bool {
	switch bt {
	case OPositive, ONegative, APositive, ANegative,
		BPositive, BNegative, ABPositive, ABNegative:
		return true
	}
	return false
}

// UrgencyLevel 紧急程度
type UrgencyLevel string

const (
	UrgencyCritical UrgencyLevel = "CRITICAL"
	UrgencyHigh     UrgencyLevel = "HIGH"
	UrgencyMedium   UrgencyLevel = "MEDIUM"
	UrgencyLow      UrgencyLevel = "LOW"
)

// ValidUrgencyLevel 校验紧急程度枚举值
func ValidUrgencyLevel(u UrgencyLevel) bool {
	switch u {
	case UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	}
	return false
}

// UrgencyScore 紧急程度数值评分（0-100）
func UrgencyScore(u UrgencyLevel) int {
	switch u {
	case UrgencyCritical:
		return 100
	case UrgencyHigh:
		return 75
	case UrgencyMedium:
		return 50
	case UrgencyLow:
		return 25
	default:
		return 0
	}
}

// IsCritical 判断是否为危急请求
func IsCritical(u UrgencyLevel) bool {
	return u == UrgencyCritical
}

// RequestStatus 血液请求状态
type RequestStatus string

const (
	StatusPending          RequestStatus = "PENDING"
	StatusMatched          RequestStatus = "MATCHED"
	StatusAccepted         RequestStatus = "ACCEPTED"
	StatusFulfilled        RequestStatus = "FULFILLED"
	StatusPartialFulfilled RequestStatus = "PARTIAL_FULFILLED"
	StatusCancelled        RequestStatus = "CANCELLED"
	StatusExpired          RequestStatus = "EXPIRED"
)

// IsTerminal 判断状态是否为终态（终态记录不可再变更）
func IsTerminal(s RequestStatus) bool {
	switch s {
	case StatusFulfilled, StatusPartialFulfilled, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// deadlineMinutes 的合法区间
const (
	MinDeadlineMinutes = 5
	MaxDeadlineMinutes = 1440
)

// BloodRequest 血液请求（对应 blood_requests 表）
type BloodRequest struct {
	RequestID            string        `json:"request_id" db:"request_id"`
	HospitalID           string        `json:"hospital_id" db:"hospital_id"`
	BloodTypeNeeded      BloodType     `json:"blood_type_needed" db:"blood_type_needed"`
	UnitsRequired        float64       `json:"units_required" db:"units_required"`
	UrgencyLevel         UrgencyLevel  `json:"urgency_level" db:"urgency_level"`
	UrgencyNumericScore  int           `json:"urgency_numeric_score" db:"urgency_numeric_score"`
	PatientAge           *int          `json:"patient_age,omitempty" db:"patient_age"`
	PatientCondition     *string       `json:"patient_condition,omitempty" db:"patient_condition"`
	ProcedureType        *string       `json:"procedure_type,omitempty" db:"procedure_type"`
	DeadlineMinutes      int           `json:"deadline_minutes" db:"deadline_minutes"`
	DeadlineTimestamp    time.Time     `json:"deadline_timestamp" db:"deadline_timestamp"`
	Status               RequestStatus `json:"status" db:"status"`
	StockChecked         bool          `json:"stock_checked" db:"stock_checked"`
	DonorSearchInitiated bool          `json:"donor_search_initiated" db:"donor_search_initiated"`
	GPSLocationHospital  string        `json:"gps_location_hospital" db:"gps_location_hospital"`
	UnitsDelivered       *float64      `json:"units_delivered,omitempty" db:"units_delivered"`
	FulfilledAt          *time.Time    `json:"fulfilled_at,omitempty" db:"fulfilled_at"`
	CancelledAt          *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancellationReason   *string       `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CreatedAt            time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at" db:"updated_at"`
}

// IsExpired 判断请求是否已超过截止时间
func (r *BloodRequest) IsExpired(now time.Time) bool {
	return now.After(r.DeadlineTimestamp)
}

// RemainingMinutes 距截止时间的剩余分钟数（已超时返回 0）
func (r *BloodRequest) RemainingMinutes(now time.Time) int {
	remaining := r.DeadlineTimestamp.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Minute)
}
