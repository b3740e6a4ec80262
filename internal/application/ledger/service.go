package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/stock"
	"github.com/xiebiao/stockledger/pkg/metrics"
)

// MutationObserver 账本变更观察者（告警评估器实现）
// 每次成功的adjust/reserve/release/commit之后、调用返回之前同步调用
type MutationObserver interface {
	OnMutation(ctx context.Context, productID uint)
}

// Options 账本参数
type Options struct {
	DefaultReorderThreshold int
	HistoryPageSize         int
	Clock                   func() time.Time // 测试注入，默认time.Now
}

// Service 库存账本
//
// 教学要点：
// 1. 商品数量的唯一写入口，每个原语都是单商品事务：
//    SELECT ... FOR UPDATE锁定库存行 → 校验 → 写记录 → 写流水 → COMMIT
// 2. 不同商品的操作互不阻塞，没有全局锁
// 3. 只有adjust和commit写流水；reserve/release只改reserved
// 4. 事务提交后才通知告警评估器，评估器读到的一定是已提交状态
type Service struct {
	repo     stock.Repository
	tx       stock.Transactor
	observer MutationObserver
	logger   *zap.Logger
	opts     Options
}

// NewService 创建账本服务，observer可以为nil
func NewService(repo stock.Repository, tx stock.Transactor, observer MutationObserver, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = 100
	}
	if opts.DefaultReorderThreshold < 0 {
		opts.DefaultReorderThreshold = 0
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		repo:     repo,
		tx:       tx,
		observer: observer,
		logger:   logger.Named("ledger"),
		opts:     opts,
	}
}

// OpenRecord 商品创建时建立库存记录（在库0，默认补货阈值）
func (s *Service) OpenRecord(ctx context.Context, productID uint) (*stock.Record, error) {
	rec, err := stock.NewRecord(productID, s.opts.DefaultReorderThreshold, s.opts.Clock())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info("库存记录已创建",
		zap.Uint("product_id", productID),
		zap.Int("reorder_threshold", rec.ReorderThreshold),
	)
	s.notify(ctx, productID)
	return rec, nil
}

// Adjust 直接调整在库数量并写一条流水
//
// 检查规则：
//   - sale扣减与可用库存（on_hand - reserved）比较
//   - manual_adjustment扣减与在库比较，且不能低于已预留
//   - restock / cancellation_release只增不减
func (s *Service) Adjust(ctx context.Context, cmd stock.AdjustCommand) (*stock.MutationEntry, error) {
	defer metrics.ObserveLedgerOp("adjust", time.Now())

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var entry *stock.MutationEntry
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		rec, err := s.repo.LockByProductID(ctx, cmd.ProductID)
		if err != nil {
			return err
		}

		now := s.opts.Clock()
		if err := rec.ApplyAdjustment(cmd.Delta, cmd.Reason, now); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, rec); err != nil {
			return err
		}

		entry = stock.NewMutationEntry(rec, cmd.Delta, cmd.Reason, cmd.Actor, cmd.OrderRef, now)
		return s.repo.AppendEntry(ctx, entry)
	})
	if err != nil {
		s.logger.Warn("库存调整失败",
			zap.Uint("product_id", cmd.ProductID),
			zap.Int("delta", cmd.Delta),
			zap.String("reason", cmd.Reason.String()),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.LedgerMutationsTotal.WithLabelValues(entry.Reason.String()).Inc()
	s.logger.Info("库存已调整",
		zap.Uint("product_id", entry.ProductID),
		zap.Uint("entry_id", entry.ID),
		zap.Int("delta", entry.Delta),
		zap.String("reason", entry.Reason.String()),
		zap.Int("on_hand", entry.ResultingOnHand),
		zap.String("actor", entry.Actor),
	)
	s.notify(ctx, cmd.ProductID)
	return entry, nil
}

// Reserve 为订单预留库存
// 可用库存不足返回*stock.InsufficientStockError
func (s *Service) Reserve(ctx context.Context, orderRef string, productID uint, quantity int) (*stock.Reservation, error) {
	defer metrics.ObserveLedgerOp("reserve", time.Now())

	if productID == 0 {
		return nil, stock.ErrInvalidProductID
	}
	if quantity <= 0 {
		return nil, stock.ErrInvalidQuantity
	}
	if orderRef == "" {
		return nil, stock.ErrOrderRefRequired
	}

	var handle *stock.Reservation
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		rec, err := s.repo.LockByProductID(ctx, productID)
		if err != nil {
			return err
		}

		now := s.opts.Clock()
		if err := rec.Reserve(quantity, now); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, rec); err != nil {
			return err
		}

		handle = stock.NewReservation(orderRef, productID, quantity, now)
		return s.repo.CreateReservation(ctx, handle)
	})
	if err != nil {
		result := "error"
		if isInsufficient(err) {
			result = "insufficient"
		}
		metrics.LedgerReservationsTotal.WithLabelValues(result).Inc()
		s.logger.Info("库存预留失败",
			zap.String("order_ref", orderRef),
			zap.Uint("product_id", productID),
			zap.Int("quantity", quantity),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.LedgerReservationsTotal.WithLabelValues("reserved").Inc()
	s.logger.Debug("库存已预留",
		zap.String("reservation_id", handle.ID),
		zap.String("order_ref", orderRef),
		zap.Uint("product_id", productID),
		zap.Int("quantity", quantity),
	)
	s.notify(ctx, productID)
	return handle, nil
}

// Release 释放预留
// 幂等：句柄已释放或已提交时什么都不做，返回nil
func (s *Service) Release(ctx context.Context, handle *stock.Reservation) error {
	defer metrics.ObserveLedgerOp("release", time.Now())

	if handle == nil || handle.ID == "" {
		return stock.ErrReservationNotFound
	}

	var settled *stock.Reservation
	released := false
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		// 先锁商品再锁预留，与commit的加锁顺序一致
		rec, err := s.repo.LockByProductID(ctx, handle.ProductID)
		if err != nil {
			return err
		}
		r, err := s.lockReservation(ctx, handle)
		if err != nil {
			return err
		}
		settled = r

		now := s.opts.Clock()
		if !r.MarkReleased(now) {
			return nil
		}
		if err := rec.ReleaseReserved(r.Quantity, now); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, rec); err != nil {
			return err
		}
		if err := s.repo.SaveReservation(ctx, r); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		metrics.LedgerReservationsTotal.WithLabelValues("error").Inc()
		s.logger.Error("释放预留失败",
			zap.String("reservation_id", handle.ID),
			zap.Uint("product_id", handle.ProductID),
			zap.Error(err),
		)
		return err
	}

	syncHandle(handle, settled)
	if !released {
		s.logger.Debug("预留已结束，忽略重复释放",
			zap.String("reservation_id", handle.ID),
			zap.String("status", string(settled.Status)),
		)
		return nil
	}

	metrics.LedgerReservationsTotal.WithLabelValues("released").Inc()
	s.notify(ctx, handle.ProductID)
	return nil
}

// Commit 预留转为永久扣减，写一条sale流水
// 句柄已提交或已释放返回*stock.InvalidReservationError
func (s *Service) Commit(ctx context.Context, handle *stock.Reservation, orderRef, actor string) (*stock.MutationEntry, error) {
	defer metrics.ObserveLedgerOp("commit", time.Now())

	if handle == nil || handle.ID == "" {
		return nil, stock.ErrReservationNotFound
	}
	if actor == "" {
		return nil, stock.ErrActorRequired
	}

	var (
		entry   *stock.MutationEntry
		settled *stock.Reservation
	)
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		rec, err := s.repo.LockByProductID(ctx, handle.ProductID)
		if err != nil {
			return err
		}
		r, err := s.lockReservation(ctx, handle)
		if err != nil {
			return err
		}
		if orderRef == "" {
			orderRef = r.OrderRef
		}
		if orderRef != r.OrderRef {
			return fmt.Errorf("%w: 预留%s属于订单%s，不能用于%s",
				stock.ErrInvalidReservation, r.ID, r.OrderRef, orderRef)
		}

		now := s.opts.Clock()
		if err := r.MarkCommitted(now); err != nil {
			return err
		}
		if err := rec.CommitReserved(r.Quantity, now); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, rec); err != nil {
			return err
		}
		if err := s.repo.SaveReservation(ctx, r); err != nil {
			return err
		}
		settled = r

		entry = stock.NewMutationEntry(rec, -r.Quantity, stock.ReasonSale, actor, orderRef, now)
		return s.repo.AppendEntry(ctx, entry)
	})
	if err != nil {
		s.logger.Warn("提交预留失败",
			zap.String("reservation_id", handle.ID),
			zap.Uint("product_id", handle.ProductID),
			zap.String("order_ref", orderRef),
			zap.Error(err),
		)
		return nil, err
	}

	syncHandle(handle, settled)
	metrics.LedgerReservationsTotal.WithLabelValues("committed").Inc()
	metrics.LedgerMutationsTotal.WithLabelValues(stock.ReasonSale.String()).Inc()
	s.logger.Info("库存已出库",
		zap.Uint("product_id", entry.ProductID),
		zap.Uint("entry_id", entry.ID),
		zap.Int("delta", entry.Delta),
		zap.String("order_ref", orderRef),
		zap.Int("on_hand", entry.ResultingOnHand),
	)
	s.notify(ctx, handle.ProductID)
	return entry, nil
}

// History 商品流水游标
// 只包含调用时已提交的流水，按ID（即创建顺序）升序
func (s *Service) History(ctx context.Context, productID uint) (*stock.HistoryCursor, error) {
	if _, err := s.repo.FindByProductID(ctx, productID); err != nil {
		return nil, err
	}
	upTo, err := s.repo.LatestEntryID(ctx, productID)
	if err != nil {
		return nil, err
	}
	return stock.NewHistoryCursor(s.repo, productID, upTo, s.opts.HistoryPageSize), nil
}

// EntriesForOrder 订单关联的全部流水（开票、报表使用，只读）
func (s *Service) EntriesForOrder(ctx context.Context, orderRef string) ([]*stock.MutationEntry, error) {
	if orderRef == "" {
		return nil, stock.ErrOrderRefRequired
	}
	return s.repo.ListEntriesByOrderRef(ctx, orderRef)
}

// Stock 读取已提交的库存记录
func (s *Service) Stock(ctx context.Context, productID uint) (*stock.Record, error) {
	return s.repo.FindByProductID(ctx, productID)
}

// SetReorderThreshold 修改补货阈值并重新评估告警，不写流水
func (s *Service) SetReorderThreshold(ctx context.Context, productID uint, threshold int) (*stock.Record, error) {
	var out *stock.Record
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		rec, err := s.repo.LockByProductID(ctx, productID)
		if err != nil {
			return err
		}
		if err := rec.SetReorderThreshold(threshold, s.opts.Clock()); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("补货阈值已修改",
		zap.Uint("product_id", productID),
		zap.Int("reorder_threshold", threshold),
	)
	s.notify(ctx, productID)
	return out, nil
}

func (s *Service) notify(ctx context.Context, productID uint) {
	if s.observer != nil {
		s.observer.OnMutation(ctx, productID)
	}
}

// lockReservation 锁定预留并核对所属商品
func (s *Service) lockReservation(ctx context.Context, handle *stock.Reservation) (*stock.Reservation, error) {
	r, err := s.repo.LockReservation(ctx, handle.ID)
	if err != nil {
		return nil, err
	}
	if r.ProductID != handle.ProductID {
		return nil, fmt.Errorf("%w: 预留%s属于商品%d", stock.ErrReservationNotFound, r.ID, r.ProductID)
	}
	return r, nil
}

func isInsufficient(err error) bool {
	return errors.Is(err, stock.ErrInsufficientStock)
}

// syncHandle 把存储中的最终状态回写到调用方持有的句柄
func syncHandle(handle, settled *stock.Reservation) {
	if settled == nil {
		return
	}
	handle.Status = settled.Status
	handle.SettledAt = settled.SettledAt
	handle.Quantity = settled.Quantity
	handle.OrderRef = settled.OrderRef
}
