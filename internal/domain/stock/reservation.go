package stock

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus 预留状态
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"    // 占用中
	ReservationCommitted ReservationStatus = "committed" // 已转为扣减
	ReservationReleased  ReservationStatus = "released"  // 已释放
)

// Reservation 预留句柄
//
// 教学要点：
// 1. 单次使用：active → committed 或 active → released，之后不再变化
// 2. 生命周期限定在所属订单内，OrderRef即订单号
// 3. 释放是幂等的（重复释放是no-op），提交不是（重复提交返回InvalidReservationError）
type Reservation struct {
	ID        string
	OrderRef  string
	ProductID uint
	Quantity  int
	Status    ReservationStatus
	CreatedAt time.Time
	SettledAt *time.Time
}

// NewReservation 创建预留句柄
func NewReservation(orderRef string, productID uint, quantity int, now time.Time) *Reservation {
	return &Reservation{
		ID:        uuid.NewString(),
		OrderRef:  orderRef,
		ProductID: productID,
		Quantity:  quantity,
		Status:    ReservationActive,
		CreatedAt: now,
	}
}

// IsActive 是否仍占用库存
func (r *Reservation) IsActive() bool {
	return r.Status == ReservationActive
}

// MarkCommitted 标记为已提交
func (r *Reservation) MarkCommitted(now time.Time) error {
	if !r.IsActive() {
		return &InvalidReservationError{ReservationID: r.ID, ProductID: r.ProductID, Status: r.Status}
	}
	r.Status = ReservationCommitted
	r.SettledAt = &now
	return nil
}

// MarkReleased 标记为已释放，非active时返回false
func (r *Reservation) MarkReleased(now time.Time) bool {
	if !r.IsActive() {
		return false
	}
	r.Status = ReservationReleased
	r.SettledAt = &now
	return true
}

// Clone 复制一份
func (r *Reservation) Clone() *Reservation {
	c := *r
	if r.SettledAt != nil {
		t := *r.SettledAt
		c.SettledAt = &t
	}
	return &c
}
