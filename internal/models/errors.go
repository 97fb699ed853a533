package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 请求或响应不存在
	ErrNotFound = errors.New("not found")
	// ErrInvalidStateTransition 非法状态转换（如对终态记录再次操作）
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrDownstreamUnavailable 下游服务不可用（熔断或重试耗尽），匹配返回降级结果
	ErrDownstreamUnavailable = errors.New("downstream unavailable")
)

// ValidationError 输入校验错误（不重试，创建时直接拒绝）
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError 创建校验错误
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError 判断是否为输入校验错误（网关据此决定不重试、不计入熔断统计）
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
