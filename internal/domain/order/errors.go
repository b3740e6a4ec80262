package order

import (
	"fmt"

	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

// 订单领域错误定义
var (
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = apperrors.New(apperrors.ErrCodeOrderNotFound, "订单不存在")

	// ErrInvalidStatusTransition 非法的状态转换
	ErrInvalidStatusTransition = apperrors.New(apperrors.ErrCodeInvalidTransition, "订单状态不允许此操作")

	// ErrValidation 订单输入不合法
	ErrValidation = apperrors.New(apperrors.ErrCodeValidation, "订单输入不合法")

	// ErrInvalidOrderItems 订单明细不合法
	ErrInvalidOrderItems = apperrors.New(apperrors.ErrCodeValidation, "订单明细不能为空")

	// ErrConcurrentModification 订单被并发修改(版本号不匹配)
	ErrConcurrentModification = apperrors.New(apperrors.ErrCodeConcurrentUpdate, "订单已被其他请求修改")
)

// InvalidTransitionError 生命周期操作与当前状态不符
type InvalidTransitionError struct {
	OrderNo string
	From    OrderStatus
	To      OrderStatus
	Reason  string // 可选
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("订单%s不能从%s转换到%s: %s", e.OrderNo, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("订单%s不能从%s转换到%s", e.OrderNo, e.From, e.To)
}

// Unwrap 归类到ErrInvalidStatusTransition
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidStatusTransition
}

// Details 实现apperrors.Detailer
func (e *InvalidTransitionError) Details() map[string]interface{} {
	return map[string]interface{}{
		"kind":     "invalid_transition",
		"order_no": e.OrderNo,
		"from":     e.From.String(),
		"to":       e.To.String(),
		"reason":   e.Reason,
	}
}

// ValidationError 订单输入错误(数量非法、商品不存在)
type ValidationError struct {
	Field     string
	ProductID uint
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.ProductID != 0 {
		return fmt.Sprintf("订单校验失败: %s(商品%d): %s", e.Field, e.ProductID, e.Reason)
	}
	return fmt.Sprintf("订单校验失败: %s: %s", e.Field, e.Reason)
}

// Unwrap 归类到ErrValidation
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Details 实现apperrors.Detailer
func (e *ValidationError) Details() map[string]interface{} {
	return map[string]interface{}{
		"kind":       "validation",
		"field":      e.Field,
		"product_id": e.ProductID,
		"reason":     e.Reason,
	}
}
