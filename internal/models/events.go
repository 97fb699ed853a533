package models

import (
	"time"
)

// EventType 生命周期事件类型（判别字段，单一标签式事件结构，不做继承）
type EventType string

const (
	EventBloodNeeded      EventType = "BLOOD_NEEDED"
	EventDonorAccepted    EventType = "DONOR_ACCEPTED"
	EventRequestFulfilled EventType = "REQUEST_FULFILLED"
	EventRequestCancelled EventType = "REQUEST_CANCELLED"
	EventRequestExpired   EventType = "REQUEST_EXPIRED"
)

// 事件主题（与订阅方约定的路由键）
const (
	TopicBloodRequested   = "event.blood.requested"
	TopicDonorAccepted    = "event.donor.accepted"
	TopicRequestFulfilled = "event.blood.request.fulfilled"
	TopicRequestCancelled = "event.blood.request.cancelled"
	TopicRequestExpired   = "event.blood.request.expired"
)

// LifecycleEvent 生命周期事件
// 按 EventType 携带对应的负载字段，未用到的字段序列化时省略
type LifecycleEvent struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// BLOOD_NEEDED
	BloodType       BloodType    `json:"blood_type,omitempty"`
	UnitsRequired   float64      `json:"units_required,omitempty"`
	UrgencyLevel    UrgencyLevel `json:"urgency_level,omitempty"`
	HospitalID      string       `json:"hospital_id,omitempty"`
	DeadlineMinutes int          `json:"deadline_minutes,omitempty"`

	// DONOR_ACCEPTED
	ResponseID          string     `json:"response_id,omitempty"`
	DonorID             string     `json:"donor_id,omitempty"`
	ArrivalEtaMinutes   int        `json:"arrival_eta_minutes,omitempty"`
	ScheduledPickupTime *time.Time `json:"scheduled_pickup_time,omitempty"`

	// REQUEST_FULFILLED
	UnitsDelivered float64 `json:"units_delivered,omitempty"`

	// REQUEST_CANCELLED
	Reason string `json:"reason,omitempty"`
}

// Topic 返回事件对应的发布主题
func (e *LifecycleEvent) Topic() string {
	switch e.EventType {
	case EventBloodNeeded:
		return TopicBloodRequested
	case EventDonorAccepted:
		return TopicDonorAccepted
	case EventRequestFulfilled:
		return TopicRequestFulfilled
	case EventRequestCancelled:
		return TopicRequestCancelled
	case EventRequestExpired:
		return TopicRequestExpired
	default:
		return ""
	}
}
