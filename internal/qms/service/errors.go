package service

import "fmt"

// ValidationError 请求数据校验失败
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError 创建校验错误
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InvalidTransitionError 当前阶段不允许执行该操作
type InvalidTransitionError struct {
	Stage  string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("阶段 %s 不允许执行操作 %s", e.Stage, e.Action)
}
