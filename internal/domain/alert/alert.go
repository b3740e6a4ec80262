package alert

import (
	"context"
	"time"

	"github.com/xiebiao/stockledger/internal/domain/stock"
)

// Level 库存水位
type Level string

const (
	LevelInStock    Level = "in_stock"     // 高于补货阈值
	LevelLowStock   Level = "low_stock"    // 在库<=阈值且>0
	LevelOutOfStock Level = "out_of_stock" // 在库为0
)

// Status 单个商品的告警状态（只读快照）
type Status struct {
	ProductID   uint      `json:"product_id"`
	LowStock    bool      `json:"low_stock"`
	Level       Level     `json:"level"`
	OnHand      int       `json:"on_hand"`
	Reserved    int       `json:"reserved"`
	Threshold   int       `json:"reorder_threshold"`
	Version     uint      `json:"version"` // 评估时库存记录的版本
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Evaluate 由库存记录推导告警状态，纯函数
// 在库<=补货阈值即低库存；在库为0单独标记为缺货
func Evaluate(rec *stock.Record, now time.Time) Status {
	st := Status{
		ProductID:   rec.ProductID,
		LowStock:    rec.IsLowStock(),
		OnHand:      rec.OnHand,
		Reserved:    rec.Reserved,
		Threshold:   rec.ReorderThreshold,
		Version:     rec.Version,
		EvaluatedAt: now,
	}
	switch {
	case rec.OnHand == 0:
		st.Level = LevelOutOfStock
	case st.LowStock:
		st.Level = LevelLowStock
	default:
		st.Level = LevelInStock
	}
	return st
}

// Notification 水位变化通知
type Notification struct {
	Previous Level  `json:"previous,omitempty"` // 首次评估时为空
	Current  Status `json:"current"`
}

// Event 通知的事件名：进入低库存stock.low，恢复stock.recovered，其余stock.level_changed
func (n Notification) Event() string {
	wasLow := n.Previous == LevelLowStock || n.Previous == LevelOutOfStock
	switch {
	case n.Current.LowStock && !wasLow:
		return "stock.low"
	case !n.Current.LowStock && wasLow:
		return "stock.recovered"
	default:
		return "stock.level_changed"
	}
}

// Sink 通知投递目标（Redis镜像、消息队列）
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}
