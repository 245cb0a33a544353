package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 结构性输入错误，计算器执行前即被拒绝
	ErrValidation = errors.New("validation failed")
	// ErrPrecisionLoss 费率无法在基点精度内往返换算
	ErrPrecisionLoss = errors.New("precision loss")
	// ErrAlreadyInvoiced 费用事件已挂在另一张发票上
	ErrAlreadyInvoiced = errors.New("fee event already invoiced")
	// ErrInvalidTransition 生命周期状态迁移非法
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotFound 聚合不存在
	ErrNotFound = errors.New("not found")
	// ErrConcurrentModification 乐观锁冲突
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrLockNotAcquired 发票单写锁被占用
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// ValidationError 携带字段信息的校验错误
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError 创建校验错误
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidTransitionError 非法状态迁移，携带当前状态与目标状态，调用方可据此重试
type InvalidTransitionError struct {
	Aggregate string
	ID        string
	From      string
	To        string
}

func newInvalidTransition(aggregate, id string, from, to fmt.Stringer) *InvalidTransitionError {
	return &InvalidTransitionError{Aggregate: aggregate, ID: id, From: from.String(), To: to.String()}
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s %s cannot move from %s to %s", e.Aggregate, e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
