package models

// CreateRequestSpec 创建血液请求的入参（来自外层服务边界）
type CreateRequestSpec struct {
	HospitalID       string       `json:"hospital_id"`
	BloodType        BloodType    `json:"blood_type"`
	UnitsRequired    float64      `json:"units_required"`
	UrgencyLevel     UrgencyLevel `json:"urgency_level"`
	PatientAge       *int         `json:"patient_age,omitempty"`
	PatientCondition *string      `json:"patient_condition,omitempty"`
	ProcedureType    *string      `json:"procedure_type,omitempty"`
	DeadlineMinutes  int          `json:"deadline_minutes"`
	GPSLocation      string       `json:"gps_location"`
}

// Validate 在任何状态变更前校验入参
// 规则：
// - hospital_id 必填
// - blood_type / urgency_level 必须为合法枚举
// - units_required 必须 > 0
// - deadline_minutes 必须在 [5, 1440] 区间内
func (s *CreateRequestSpec) Validate() error {
	if s.HospitalID == "" {
		return NewValidationError("hospital_id", "is required")
	}
	if !ValidBloodType(s.BloodType) {
		return NewValidationError("blood_type", "unknown blood type")
	}
	if s.UnitsRequired <= 0 {
		return NewValidationError("units_required", "must be positive")
	}
	if !ValidUrgencyLevel(s.UrgencyLevel) {
		return NewValidationError("urgency_level", "unknown urgency level")
	}
	if s.DeadlineMinutes < MinDeadlineMinutes || s.DeadlineMinutes > MaxDeadlineMinutes {
		return NewValidationError("deadline_minutes", "must be between 5 and 1440")
	}
	return nil
}
