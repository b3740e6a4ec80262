package stock

import (
	"fmt"
	"time"
)

// Record 商品库存记录（聚合根）
//
// 教学要点：
// 1. OnHand是实物库存，Reserved是被进行中订单占用的部分
// 2. 不变量：OnHand >= 0 且 OnHand - Reserved >= 0
// 3. Version每次变更递增，告警层用它丢弃过期的读
// 4. 所有数量变更只能经由ledger服务在单商品事务内调用下面的方法
type Record struct {
	ProductID        uint
	OnHand           int // 在库数量
	Reserved         int // 已预留数量
	ReorderThreshold int // 补货阈值（在库<=阈值即低库存）
	Version          uint
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewRecord 创建库存记录，商品创建时在库为0
func NewRecord(productID uint, reorderThreshold int, now time.Time) (*Record, error) {
	if productID == 0 {
		return nil, ErrInvalidProductID
	}
	if reorderThreshold < 0 {
		return nil, ErrInvalidThreshold
	}
	return &Record{
		ProductID:        productID,
		ReorderThreshold: reorderThreshold,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Available 可用库存 = 在库 - 已预留
func (r *Record) Available() int {
	return r.OnHand - r.Reserved
}

// IsLowStock 在库是否已到达补货阈值
func (r *Record) IsLowStock() bool {
	return r.OnHand <= r.ReorderThreshold
}

// Validate 检查不变量
func (r *Record) Validate() error {
	if r.OnHand < 0 || r.Reserved < 0 || r.Reserved > r.OnHand {
		return fmt.Errorf("%w: product=%d on_hand=%d reserved=%d",
			ErrInvariantViolated, r.ProductID, r.OnHand, r.Reserved)
	}
	return nil
}

// ApplyAdjustment 应用一次直接调整（adjust写路径）
//
// 规则：
//   - sale：扣减量与可用库存（on_hand - reserved）比较
//   - manual_adjustment：扣减量与在库比较，同时不能低于已预留量
//   - restock / cancellation_release：只能增加
func (r *Record) ApplyAdjustment(delta int, reason Reason, now time.Time) error {
	if err := reason.checkDelta(delta); err != nil {
		return err
	}

	if delta < 0 {
		need := -delta
		switch reason {
		case ReasonSale:
			if r.Available() < need {
				return &InsufficientStockError{ProductID: r.ProductID, Requested: need, Available: r.Available()}
			}
		default:
			if r.OnHand < need {
				return &InsufficientStockError{ProductID: r.ProductID, Requested: need, Available: r.OnHand}
			}
			// 人工扣减也不能吃掉已预留的部分
			if r.OnHand-need < r.Reserved {
				return &InsufficientStockError{ProductID: r.ProductID, Requested: need, Available: r.Available()}
			}
		}
	}

	r.OnHand += delta
	r.touch(now)
	return r.Validate()
}

// Reserve 预留库存
func (r *Record) Reserve(quantity int, now time.Time) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.Available() < quantity {
		return &InsufficientStockError{ProductID: r.ProductID, Requested: quantity, Available: r.Available()}
	}
	r.Reserved += quantity
	r.touch(now)
	return nil
}

// ReleaseReserved 释放预留，归还可用库存
func (r *Record) ReleaseReserved(quantity int, now time.Time) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.Reserved < quantity {
		return fmt.Errorf("%w: 释放%d超过已预留%d", ErrInvariantViolated, quantity, r.Reserved)
	}
	r.Reserved -= quantity
	r.touch(now)
	return nil
}

// CommitReserved 预留转为永久扣减：Reserved和OnHand同时减少
func (r *Record) CommitReserved(quantity int, now time.Time) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.Reserved < quantity {
		return fmt.Errorf("%w: 提交%d超过已预留%d", ErrInvariantViolated, quantity, r.Reserved)
	}
	r.Reserved -= quantity
	r.OnHand -= quantity
	r.touch(now)
	return r.Validate()
}

// SetReorderThreshold 修改补货阈值（不影响数量）
func (r *Record) SetReorderThreshold(threshold int, now time.Time) error {
	if threshold < 0 {
		return ErrInvalidThreshold
	}
	r.ReorderThreshold = threshold
	r.touch(now)
	return nil
}

// Clone 复制一份，存储层返回副本避免共享可变状态
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

func (r *Record) touch(now time.Time) {
	r.Version++
	r.UpdatedAt = now
}
