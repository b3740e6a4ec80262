package stock

import "fmt"

// Reason 库存变更原因
// 封闭枚举：新增原因必须同时修改ParseReason和所有switch分支，
// 审计报表按原因做穷举匹配
type Reason string

const (
	ReasonSale                Reason = "sale"                 // 销售出库（订单提交）
	ReasonManualAdjustment    Reason = "manual_adjustment"    // 人工盘点调整
	ReasonRestock             Reason = "restock"              // 补货入库
	ReasonCancellationRelease Reason = "cancellation_release" // 订单取消回补
)

// ParseReason 解析变更原因，未知值返回ErrInvalidReason
func ParseReason(s string) (Reason, error) {
	r := Reason(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidReason, s)
	}
	return r, nil
}

// Valid 是否为已知原因
func (r Reason) Valid() bool {
	switch r {
	case ReasonSale, ReasonManualAdjustment, ReasonRestock, ReasonCancellationRelease:
		return true
	default:
		return false
	}
}

// OrderBound 是否必须关联订单
// sale和cancellation_release只能由订单发起
func (r Reason) OrderBound() bool {
	switch r {
	case ReasonSale, ReasonCancellationRelease:
		return true
	default:
		return false
	}
}

// String 实现Stringer接口
func (r Reason) String() string {
	return string(r)
}

// checkDelta 校验delta的方向是否符合原因
func (r Reason) checkDelta(delta int) error {
	if delta == 0 {
		return ErrZeroDelta
	}
	switch r {
	case ReasonSale:
		if delta > 0 {
			return fmt.Errorf("%w: 销售出库的变更量必须为负数", ErrInvalidDelta)
		}
	case ReasonRestock, ReasonCancellationRelease:
		if delta < 0 {
			return fmt.Errorf("%w: %s的变更量必须为正数", ErrInvalidDelta, r)
		}
	case ReasonManualAdjustment:
		// 正负均可
	default:
		return ErrInvalidReason
	}
	return nil
}
