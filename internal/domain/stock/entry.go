package stock

import "time"

// MutationEntry 库存变更流水（审计记录）
//
// 设计原则：
//   - 只增不改（Append-Only），仓储层不提供更新/删除
//   - ResultingOnHand记录变更后的在库快照，可直接与库存记录对账
//   - ID在同一商品内单调递增，即创建顺序
type MutationEntry struct {
	ID              uint
	ProductID       uint
	Delta           int    // 正数增加，负数减少
	Reason          Reason // 变更原因
	ResultingOnHand int    // 变更后在库
	Actor           string // 操作人
	OrderRef        string // 关联订单号（可选）
	CreatedAt       time.Time
}

// NewMutationEntry 根据变更后的库存记录生成流水
func NewMutationEntry(rec *Record, delta int, reason Reason, actor, orderRef string, now time.Time) *MutationEntry {
	return &MutationEntry{
		ProductID:       rec.ProductID,
		Delta:           delta,
		Reason:          reason,
		ResultingOnHand: rec.OnHand,
		Actor:           actor,
		OrderRef:        orderRef,
		CreatedAt:       now,
	}
}

// AdjustCommand adjust写路径的输入
type AdjustCommand struct {
	ProductID uint
	Delta     int
	Reason    Reason
	Actor     string
	OrderRef  string // sale / cancellation_release必填
}

// Validate 校验命令本身（不涉及库存状态）
func (c AdjustCommand) Validate() error {
	if c.ProductID == 0 {
		return ErrInvalidProductID
	}
	if !c.Reason.Valid() {
		return ErrInvalidReason
	}
	if c.Actor == "" {
		return ErrActorRequired
	}
	if c.Reason.OrderBound() && c.OrderRef == "" {
		return ErrOrderRefRequired
	}
	return c.Reason.checkDelta(c.Delta)
}
