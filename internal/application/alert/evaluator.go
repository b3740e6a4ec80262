package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/alert"
	"github.com/xiebiao/stockledger/internal/domain/stock"
	"github.com/xiebiao/stockledger/pkg/metrics"
)

// Notifier 接收水位变化通知，必须不阻塞
type Notifier interface {
	Notify(n alert.Notification)
}

// Evaluator 低库存告警评估器
//
// 教学要点：
// 1. 账本每次成功变更后同步调用OnMutation，返回前告警状态已更新
// 2. 只读账本，不会反过来修改库存（没有自动补货）
// 3. 并发评估同一商品时按记录版本号取新，旧读不会覆盖新状态
// 4. 对外只暴露读方法
type Evaluator struct {
	reader   stock.Reader
	notifier Notifier
	logger   *zap.Logger
	clock    func() time.Time

	mu       sync.RWMutex
	statuses map[uint]alert.Status
}

// NewEvaluator 创建评估器，notifier可以为nil
func NewEvaluator(reader stock.Reader, notifier Notifier, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		reader:   reader,
		notifier: notifier,
		logger:   logger.Named("alert"),
		clock:    time.Now,
		statuses: make(map[uint]alert.Status),
	}
}

// OnMutation 重新评估商品的告警状态
// 读失败只记日志：账本变更已经提交，不能因告警失败而报错
func (e *Evaluator) OnMutation(ctx context.Context, productID uint) {
	// 调用方取消不应跳过评估
	rec, err := e.reader.FindByProductID(context.WithoutCancel(ctx), productID)
	if err != nil {
		e.logger.Error("读取库存失败，告警状态未更新",
			zap.Uint("product_id", productID),
			zap.Error(err),
		)
		return
	}
	e.store(alert.Evaluate(rec, e.clock()))
}

// store 按版本号写入，返回是否写入
func (e *Evaluator) store(st alert.Status) bool {
	e.mu.Lock()
	prev, had := e.statuses[st.ProductID]
	if had && prev.Version > st.Version {
		e.mu.Unlock()
		return false
	}
	e.statuses[st.ProductID] = st
	low := e.countLowLocked()
	e.mu.Unlock()

	metrics.LowStockProducts.Set(float64(low))

	changed := !had && st.LowStock || had && prev.Level != st.Level
	if !changed {
		return true
	}

	n := alert.Notification{Current: st}
	if had {
		n.Previous = prev.Level
	}
	if st.LowStock {
		e.logger.Warn("商品库存偏低",
			zap.Uint("product_id", st.ProductID),
			zap.String("level", string(st.Level)),
			zap.Int("on_hand", st.OnHand),
			zap.Int("reorder_threshold", st.Threshold),
		)
	}
	if e.notifier != nil {
		e.notifier.Notify(n)
	}
	return true
}

func (e *Evaluator) countLowLocked() int {
	n := 0
	for _, st := range e.statuses {
		if st.LowStock {
			n++
		}
	}
	return n
}

// Rebuild 启动时为全部商品评估一次
func (e *Evaluator) Rebuild(ctx context.Context) error {
	ids, err := e.reader.ProductIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		e.OnMutation(ctx, id)
	}
	e.logger.Info("告警状态已重建", zap.Int("products", len(ids)))
	return nil
}

// Status 商品当前告警状态，未评估过的商品返回false
func (e *Evaluator) Status(productID uint) (alert.Status, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.statuses[productID]
	return st, ok
}

// IsLowStock 商品是否低库存
func (e *Evaluator) IsLowStock(productID uint) bool {
	st, ok := e.Status(productID)
	return ok && st.LowStock
}

// LowStockProducts 全部低库存商品，按商品ID升序
func (e *Evaluator) LowStockProducts() []alert.Status {
	e.mu.RLock()
	out := make([]alert.Status, 0)
	for _, st := range e.statuses {
		if st.LowStock {
			out = append(out, st)
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
