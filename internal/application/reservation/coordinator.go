package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/stock"
	"github.com/xiebiao/stockledger/pkg/metrics"
	"github.com/xiebiao/stockledger/pkg/saga"
)

// Ledger 协调器依赖的账本原语
type Ledger interface {
	Reserve(ctx context.Context, orderRef string, productID uint, quantity int) (*stock.Reservation, error)
	Release(ctx context.Context, handle *stock.Reservation) error
	Commit(ctx context.Context, handle *stock.Reservation, orderRef, actor string) (*stock.MutationEntry, error)
}

// Item 一个待预留的明细
type Item struct {
	ProductID uint
	Quantity  int
}

// Coordinator 批量预留协调器
//
// 教学要点：
// 1. 按商品ID升序逐个预留，并发订单涉及重叠商品时等待链有界，不会循环等待
// 2. 每个预留是独立的单商品事务，任何时刻最多持有一个商品的行锁
// 3. 全有或全无：任一商品失败，补偿（释放）已拿到的预留后返回第一个失败商品的错误
type Coordinator struct {
	ledger Ledger
	logger *zap.Logger
}

// NewCoordinator 创建协调器
func NewCoordinator(ledger Ledger, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{ledger: ledger, logger: logger.Named("reservation")}
}

// ReserveAll 为订单全部明细预留库存
// 返回的句柄按商品ID升序；失败时本次调用不留下任何预留
func (c *Coordinator) ReserveAll(ctx context.Context, orderRef string, items []Item) ([]*stock.Reservation, error) {
	ordered, err := normalize(items)
	if err != nil {
		return nil, err
	}

	handles := make([]*stock.Reservation, len(ordered))
	s := saga.New("reserve:"+orderRef, saga.WithLogger(c.logger))
	for i, item := range ordered {
		s.AddStep(fmt.Sprintf("product:%d", item.ProductID),
			func(ctx context.Context) error {
				h, err := c.ledger.Reserve(ctx, orderRef, item.ProductID, item.Quantity)
				if err != nil {
					return err
				}
				handles[i] = h
				return nil
			},
			func(ctx context.Context) error {
				return c.ledger.Release(ctx, handles[i])
			},
		)
	}

	if err := s.Execute(ctx); err != nil {
		var stepErr *saga.StepError
		if !errors.As(err, &stepErr) {
			return nil, err
		}
		if stepErr.Index > 0 {
			metrics.SagaCompensationsTotal.Inc()
		}
		if stepErr.CompensationErr != nil {
			// 释放失败意味着有预留残留，需要人工处理
			c.logger.Error("批量预留补偿失败",
				zap.String("order_ref", orderRef),
				zap.Error(stepErr.CompensationErr),
			)
			return nil, errors.Join(stepErr.Err, stepErr.CompensationErr)
		}
		return nil, stepErr.Err
	}
	return handles, nil
}

// CommitAll 逐个提交预留
//
// 第一个失败即停止：已提交的不回滚（提交是终态），其余句柄保持active。
// 至少一个已提交时返回*stock.FulfillmentInconsistencyError；一个都没提交时原样返回错误。
// 提交过程不受调用方取消影响，避免在批次中途被打断
func (c *Coordinator) CommitAll(ctx context.Context, handles []*stock.Reservation, orderRef, actor string) ([]*stock.MutationEntry, error) {
	ordered := sortHandles(handles)
	ctx = context.WithoutCancel(ctx)

	entries := make([]*stock.MutationEntry, 0, len(ordered))
	for i, h := range ordered {
		entry, err := c.ledger.Commit(ctx, h, orderRef, actor)
		if err == nil {
			entries = append(entries, entry)
			continue
		}
		if i == 0 {
			return nil, err
		}

		inconsistency := &stock.FulfillmentInconsistencyError{
			OrderRef:        orderRef,
			Committed:       productIDs(ordered[:i]),
			FailedProductID: h.ProductID,
			Pending:         productIDs(ordered[i+1:]),
			Err:             err,
		}
		metrics.FulfillmentInconsistenciesTotal.Inc()
		c.logger.Error("订单部分提交失败，需人工介入",
			zap.String("order_ref", orderRef),
			zap.Uints("committed", inconsistency.Committed),
			zap.Uint("failed_product_id", h.ProductID),
			zap.Uints("pending", inconsistency.Pending),
			zap.Error(err),
		)
		return entries, inconsistency
	}
	return entries, nil
}

// ReleaseAll 释放全部预留
// 已提交或已释放的句柄是no-op；单个失败不影响其余句柄，错误合并返回
func (c *Coordinator) ReleaseAll(ctx context.Context, handles []*stock.Reservation) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, h := range sortHandles(handles) {
		if err := c.ledger.Release(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("释放商品%d的预留失败: %w", h.ProductID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Error("释放预留失败", zap.Error(err))
		return err
	}
	return nil
}

// normalize 校验、合并重复商品并按商品ID升序
func normalize(items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, stock.ErrInvalidQuantity
	}
	merged := make(map[uint]int, len(items))
	for _, it := range items {
		if it.ProductID == 0 {
			return nil, stock.ErrInvalidProductID
		}
		if it.Quantity <= 0 {
			return nil, stock.ErrInvalidQuantity
		}
		merged[it.ProductID] += it.Quantity
	}
	out := make([]Item, 0, len(merged))
	for id, qty := range merged {
		out = append(out, Item{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// sortHandles 复制并按商品ID升序，跳过nil
func sortHandles(handles []*stock.Reservation) []*stock.Reservation {
	out := make([]*stock.Reservation, 0, len(handles))
	for _, h := range handles {
		if h != nil {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func productIDs(handles []*stock.Reservation) []uint {
	ids := make([]uint, len(handles))
	for i, h := range handles {
		ids[i] = h.ProductID
	}
	return ids
}
