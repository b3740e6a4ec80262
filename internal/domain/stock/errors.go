package stock

import (
	"fmt"
	"strings"

	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

// 库存领域错误定义
//
// 带上下文的错误（商品、数量）使用结构体类型，Unwrap到预定义的AppError，
// 调用方可以用errors.Is判断类别，用errors.As取出细节
var (
	// ErrInsufficientStock 库存不足
	ErrInsufficientStock = apperrors.New(apperrors.ErrCodeInsufficientStock, "库存不足")

	// ErrInvalidReservation 预留句柄已提交或已释放
	ErrInvalidReservation = apperrors.New(apperrors.ErrCodeInvalidReservation, "预留已提交或已释放")

	// ErrFulfillmentInconsistency 批量提交中途失败
	ErrFulfillmentInconsistency = apperrors.New(apperrors.ErrCodeFulfillmentInconsistency, "订单部分提交失败，需人工介入")

	// ErrRecordNotFound 库存记录不存在
	ErrRecordNotFound = apperrors.New(apperrors.ErrCodeStockRecordNotFound, "库存记录不存在")

	// ErrRecordExists 库存记录已存在
	ErrRecordExists = apperrors.New(apperrors.ErrCodeDuplicateEntry, "库存记录已存在")

	// ErrReservationNotFound 预留记录不存在
	ErrReservationNotFound = apperrors.New(apperrors.ErrCodeInvalidReservation, "预留记录不存在")

	// 参数错误
	ErrInvalidReason     = apperrors.New(apperrors.ErrCodeValidation, "无效的变更原因")
	ErrInvalidDelta      = apperrors.New(apperrors.ErrCodeValidation, "变更量方向与原因不符")
	ErrZeroDelta         = apperrors.New(apperrors.ErrCodeValidation, "变更量不能为0")
	ErrInvalidQuantity   = apperrors.New(apperrors.ErrCodeValidation, "数量必须大于0")
	ErrInvalidThreshold  = apperrors.New(apperrors.ErrCodeValidation, "补货阈值不能为负数")
	ErrOrderRefRequired  = apperrors.New(apperrors.ErrCodeValidation, "该变更原因必须关联订单")
	ErrActorRequired     = apperrors.New(apperrors.ErrCodeValidation, "缺少操作人")
	ErrInvalidProductID  = apperrors.New(apperrors.ErrCodeValidation, "无效的商品ID")
	ErrInvariantViolated = apperrors.New(apperrors.ErrCodeInternal, "库存不变量被破坏")

	// ErrNoTransaction 行锁操作必须在事务中执行
	ErrNoTransaction = apperrors.New(apperrors.ErrCodeInternal, "行锁操作必须在事务中执行")
)

// InsufficientStockError 库存不足的详细错误
// Available是检查时的可用量：销售类为on_hand-reserved，人工调整为on_hand
type InsufficientStockError struct {
	ProductID uint
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("商品%d库存不足: 需要%d, 可用%d", e.ProductID, e.Requested, e.Available)
}

// Unwrap 归类到ErrInsufficientStock
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// Shortfall 缺口数量
func (e *InsufficientStockError) Shortfall() int {
	return e.Requested - e.Available
}

// Details 实现apperrors.Detailer
func (e *InsufficientStockError) Details() map[string]interface{} {
	return map[string]interface{}{
		"kind":       "insufficient_stock",
		"product_id": e.ProductID,
		"requested":  e.Requested,
		"available":  e.Available,
		"shortfall":  e.Shortfall(),
	}
}

// InvalidReservationError 预留句柄被重复使用
type InvalidReservationError struct {
	ReservationID string
	ProductID     uint
	Status        ReservationStatus
}

func (e *InvalidReservationError) Error() string {
	return fmt.Sprintf("预留%s(商品%d)已是%s状态，不能再提交", e.ReservationID, e.ProductID, e.Status)
}

// Unwrap 归类到ErrInvalidReservation
func (e *InvalidReservationError) Unwrap() error {
	return ErrInvalidReservation
}

// Details 实现apperrors.Detailer
func (e *InvalidReservationError) Details() map[string]interface{} {
	return map[string]interface{}{
		"kind":           "invalid_reservation",
		"reservation_id": e.ReservationID,
		"product_id":     e.ProductID,
		"status":         string(e.Status),
	}
}

// FulfillmentInconsistencyError 批量提交时部分预留已提交、后续提交失败
// 已提交的部分不会回滚，审计流水是唯一权威记录
type FulfillmentInconsistencyError struct {
	OrderRef        string
	Committed       []uint // 已提交的商品
	FailedProductID uint   // 失败的商品
	Pending         []uint // 未处理的商品
	Err             error  // 失败原因
}

func (e *FulfillmentInconsistencyError) Error() string {
	return fmt.Sprintf("订单%s提交不完整: 已提交%s, 失败商品%d, 未处理%s: %v",
		e.OrderRef, joinIDs(e.Committed), e.FailedProductID, joinIDs(e.Pending), e.Err)
}

// Unwrap 同时暴露类别和底层原因
func (e *FulfillmentInconsistencyError) Unwrap() []error {
	return []error{ErrFulfillmentInconsistency, e.Err}
}

// Details 实现apperrors.Detailer
func (e *FulfillmentInconsistencyError) Details() map[string]interface{} {
	return map[string]interface{}{
		"kind":              "fulfillment_inconsistency",
		"order_ref":         e.OrderRef,
		"committed":         e.Committed,
		"failed_product_id": e.FailedProductID,
		"pending":           e.Pending,
	}
}

func joinIDs(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
