package models

import (
	"time"
)

// ResponseStatus 捐献者响应状态
type ResponseStatus string

const (
	ResponsePending    ResponseStatus = "PENDING"
	ResponseAccepted   ResponseStatus = "ACCEPTED"
	ResponseRejected   ResponseStatus = "REJECTED"
	ResponseNoResponse ResponseStatus = "NO_RESPONSE"
	ResponseCancelled  ResponseStatus = "CANCELLED"
)

// RequestResponse 捐献者对请求的响应（对应 request_responses 表）
// 每条响应归属于且仅归属于一个请求（通过 request_id 引用，不持有聚合）
type RequestResponse struct {
	ResponseID          string         `json:"response_id" db:"response_id"`
	RequestID           string         `json:"request_id" db:"request_id"`
	DonorID             string         `json:"donor_id" db:"donor_id"`
	HospitalID          string         `json:"hospital_id" db:"hospital_id"`
	ResponseStatus      ResponseStatus `json:"response_status" db:"response_status"`
	EtaMinutes          *int           `json:"eta_minutes,omitempty" db:"eta_minutes"`
	ScheduledPickupTime *time.Time     `json:"scheduled_pickup_time,omitempty" db:"scheduled_pickup_time"`
	ConfirmedByDonorAt  *time.Time     `json:"confirmed_by_donor_at,omitempty" db:"confirmed_by_donor_at"`
	ConfirmationCode    *string        `json:"confirmation_code,omitempty" db:"confirmation_code"`
	RejectionReason     *string        `json:"rejection_reason,omitempty" db:"rejection_reason"`
	MatchScore          *int           `json:"match_score,omitempty" db:"match_score"`
	PointsOffered       int            `json:"points_offered" db:"points_offered"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
}
