package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/application/reservation"
	"github.com/xiebiao/stockledger/internal/domain/order"
	"github.com/xiebiao/stockledger/internal/domain/product"
	"github.com/xiebiao/stockledger/internal/domain/stock"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
	"github.com/xiebiao/stockledger/pkg/metrics"
	"github.com/xiebiao/stockledger/pkg/tracing"
)

const tracerName = "order.lifecycle"

// ErrValidationTimeout 校验并预留超过期限，订单已取消
var ErrValidationTimeout = apperrors.New(apperrors.ErrCodeValidationTimeout, "订单校验超时，已取消")

// Coordinator 生命周期依赖的批量预留协调器
type Coordinator interface {
	ReserveAll(ctx context.Context, orderRef string, items []reservation.Item) ([]*stock.Reservation, error)
	CommitAll(ctx context.Context, handles []*stock.Reservation, orderRef, actor string) ([]*stock.MutationEntry, error)
	ReleaseAll(ctx context.Context, handles []*stock.Reservation) error
}

// CreateOrderRequest 下单请求
type CreateOrderRequest struct {
	CustomerID uint              // 客户ID（从JWT中提取）
	Items      []CreateOrderItem // 订单明细
	Notes      string
}

// CreateOrderItem 订单明细项
type CreateOrderItem struct {
	ProductID uint
	Quantity  int
}

// LifecycleManager 销售订单状态机
//
// 教学要点：
// 1. draft → validating → reserved → committed，或从前三个状态 → cancelled
// 2. 每次状态写入都按版本号比较并交换，并发的Commit/Cancel/Validate只有一个能赢
// 3. 库存正确性完全交给账本的单商品原子操作，这里不持有任何锁
// 4. 预留一旦拿到，要么记录到订单上，要么立即释放，不会遗失
type LifecycleManager struct {
	orders      order.Repository
	catalog     product.Catalog
	coordinator Coordinator
	logger      *zap.Logger
	clock       func() time.Time
}

// NewLifecycleManager 创建订单生命周期管理器
func NewLifecycleManager(orders order.Repository, catalog product.Catalog, coordinator Coordinator, logger *zap.Logger) *LifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleManager{
		orders:      orders,
		catalog:     catalog,
		coordinator: coordinator,
		logger:      logger.Named("order"),
		clock:       time.Now,
	}
}

// Create 创建草稿订单
// 数量非正或商品不存在返回*order.ValidationError，订单不会落库
func (m *LifecycleManager) Create(ctx context.Context, req CreateOrderRequest) (o *order.SalesOrder, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "Create")
	defer func() { tracing.End(span, err) }()

	if len(req.Items) == 0 {
		return nil, order.ErrInvalidOrderItems
	}

	items := make([]order.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, &order.ValidationError{Field: "quantity", ProductID: it.ProductID, Reason: "购买数量必须大于0"}
		}
		p, err := m.catalog.FindByID(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrProductNotFound) {
				return nil, &order.ValidationError{Field: "product_id", ProductID: it.ProductID, Reason: "商品不存在"}
			}
			return nil, err
		}
		items = append(items, order.LineItem{ProductID: p.ID, Quantity: it.Quantity, UnitPrice: p.Price})
	}

	o, err = order.NewSalesOrder(order.GenerateOrderNo(), req.CustomerID, items, req.Notes, m.clock())
	if err != nil {
		return nil, err
	}
	if err := m.orders.Create(ctx, o); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("order.no", o.OrderNo))
	m.transitioned(o)
	return o, nil
}

// ValidateAndReserve draft → validating → reserved
//
// 预留失败时订单转为cancelled并记录原因，同时返回预留错误。
// 校验期间订单被并发取消时，释放刚拿到的预留
func (m *LifecycleManager) ValidateAndReserve(ctx context.Context, id uint) (o *order.SalesOrder, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "ValidateAndReserve")
	defer func() { tracing.End(span, err) }()

	o, err = m.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.no", o.OrderNo))

	if err := o.StartValidation(m.clock()); err != nil {
		return o, err
	}
	if err := m.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	m.transitioned(o)

	handles, reserveErr := m.coordinator.ReserveAll(ctx, o.OrderNo, reservationItems(o))

	// 预留已经结算（成功或失败），后续状态写入不受调用方取消影响
	settleCtx := context.WithoutCancel(ctx)
	if reserveErr != nil {
		if err := o.Cancel(failureReason(reserveErr), m.clock()); err != nil {
			return o, errors.Join(reserveErr, err)
		}
		if err := m.orders.Update(settleCtx, o); err != nil {
			m.logger.Warn("预留失败后取消订单未写入",
				zap.String("order_no", o.OrderNo),
				zap.Error(err),
			)
			return m.reload(settleCtx, id, o), reserveErr
		}
		m.transitioned(o)
		m.logger.Info("预留失败，订单已取消",
			zap.String("order_no", o.OrderNo),
			zap.Error(reserveErr),
		)
		return o, reserveErr
	}

	if err := o.MarkReserved(toRefs(handles), m.clock()); err != nil {
		return o, err
	}
	if err := m.orders.Update(settleCtx, o); err != nil {
		// 订单已被并发取消，刚拿到的预留没有归属，立即释放
		if relErr := m.coordinator.ReleaseAll(settleCtx, handles); relErr != nil {
			err = errors.Join(err, relErr)
		}
		m.logger.Warn("订单状态已变化，释放预留",
			zap.String("order_no", o.OrderNo),
			zap.Error(err),
		)
		return m.reload(settleCtx, id, o), err
	}
	m.transitioned(o)
	return o, nil
}

// ValidateWithDeadline 在期限内校验并预留
// 期限到达时订单转为cancelled（释放已拿到的预留），返回ErrValidationTimeout
func (m *LifecycleManager) ValidateWithDeadline(ctx context.Context, id uint, timeout time.Duration) (*order.SalesOrder, error) {
	if timeout <= 0 {
		return m.ValidateAndReserve(ctx, id)
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	o, err := m.ValidateAndReserve(dctx, id)
	if !errors.Is(dctx.Err(), context.DeadlineExceeded) || ctx.Err() != nil {
		return o, err
	}

	settleCtx := context.WithoutCancel(ctx)
	current, findErr := m.orders.FindByID(settleCtx, id)
	if findErr != nil {
		return o, errors.Join(err, findErr)
	}
	if current.Status.IsTerminal() {
		if current.Status == order.OrderStatusCancelled && errors.Is(err, context.DeadlineExceeded) {
			return current, fmt.Errorf("%w: %w", ErrValidationTimeout, context.DeadlineExceeded)
		}
		return current, err
	}

	cancelled, cancelErr := m.Cancel(settleCtx, id, "校验超时")
	if cancelErr != nil {
		return m.reload(settleCtx, id, current), errors.Join(err, cancelErr)
	}
	return cancelled, fmt.Errorf("%w: %w", ErrValidationTimeout, context.DeadlineExceeded)
}

// Commit reserved → committed
//
// 只有全部预留提交成功才转为committed。部分提交失败返回
// *stock.FulfillmentInconsistencyError，订单保留提交标记等待人工处理
func (m *LifecycleManager) Commit(ctx context.Context, id uint, actor string) (o *order.SalesOrder, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "Commit")
	defer func() { tracing.End(span, err) }()

	if actor == "" {
		return nil, stock.ErrActorRequired
	}

	o, err = m.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.no", o.OrderNo))

	if err := o.BeginCommit(m.clock()); err != nil {
		return o, err
	}
	if err := m.orders.Update(ctx, o); err != nil {
		return nil, err
	}

	entries, commitErr := m.coordinator.CommitAll(ctx, toHandles(o), o.OrderNo, actor)

	settleCtx := context.WithoutCancel(ctx)
	if commitErr != nil {
		if errors.Is(commitErr, stock.ErrFulfillmentInconsistency) {
			o.FailureReason = commitErr.Error()
			o.UpdatedAt = m.clock()
		} else {
			o.AbortCommit(m.clock())
		}
		if err := m.orders.Update(settleCtx, o); err != nil {
			m.logger.Error("提交失败后订单未写入",
				zap.String("order_no", o.OrderNo),
				zap.Error(err),
			)
		}
		return o, commitErr
	}

	if err := o.MarkCommitted(m.clock()); err != nil {
		return o, err
	}
	if err := m.orders.Update(settleCtx, o); err != nil {
		// 库存已全部出库但订单状态没写入
		metrics.FulfillmentInconsistenciesTotal.Inc()
		m.logger.Error("库存已出库但订单状态写入失败，需人工介入",
			zap.String("order_no", o.OrderNo),
			zap.Error(err),
		)
		return o, &stock.FulfillmentInconsistencyError{
			OrderRef:  o.OrderNo,
			Committed: entryProductIDs(entries),
			Err:       err,
		}
	}

	m.transitioned(o)
	m.logger.Info("订单已提交",
		zap.String("order_no", o.OrderNo),
		zap.Int("entries", len(entries)),
		zap.String("actor", actor),
	)
	return o, nil
}

// Cancel 取消订单（draft/validating/reserved）
// 先按版本号写入cancelled，阻止并发提交；再释放订单持有的预留
func (m *LifecycleManager) Cancel(ctx context.Context, id uint, reason string) (o *order.SalesOrder, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "Cancel")
	defer func() { tracing.End(span, err) }()

	o, err = m.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.no", o.OrderNo))

	if err := o.Cancel(reason, m.clock()); err != nil {
		return o, err
	}
	if err := m.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	m.transitioned(o)

	if o.HasReservations() {
		if err := m.coordinator.ReleaseAll(context.WithoutCancel(ctx), toHandles(o)); err != nil {
			m.logger.Error("订单已取消但预留释放失败",
				zap.String("order_no", o.OrderNo),
				zap.Error(err),
			)
			return o, err
		}
	}

	m.logger.Info("订单已取消",
		zap.String("order_no", o.OrderNo),
		zap.String("reason", reason),
	)
	return o, nil
}

// Get 查询订单
func (m *LifecycleManager) Get(ctx context.Context, id uint) (*order.SalesOrder, error) {
	return m.orders.FindByID(ctx, id)
}

// GetByOrderNo 按订单号查询
func (m *LifecycleManager) GetByOrderNo(ctx context.Context, orderNo string) (*order.SalesOrder, error) {
	return m.orders.FindByOrderNo(ctx, orderNo)
}

// ListByCustomer 分页查询客户订单
func (m *LifecycleManager) ListByCustomer(ctx context.Context, customerID uint, page, pageSize int) ([]*order.SalesOrder, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return m.orders.ListByCustomer(ctx, customerID, page, pageSize)
}

func (m *LifecycleManager) transitioned(o *order.SalesOrder) {
	metrics.OrderTransitionsTotal.WithLabelValues(o.Status.String()).Inc()
	m.logger.Debug("订单状态变更",
		zap.Uint("order_id", o.ID),
		zap.String("order_no", o.OrderNo),
		zap.String("status", o.Status.String()),
	)
}

// reload 写入冲突后读取最新状态，失败时返回fallback
func (m *LifecycleManager) reload(ctx context.Context, id uint, fallback *order.SalesOrder) *order.SalesOrder {
	o, err := m.orders.FindByID(ctx, id)
	if err != nil {
		return fallback
	}
	return o
}

func reservationItems(o *order.SalesOrder) []reservation.Item {
	items := make([]reservation.Item, len(o.Items))
	for i, it := range o.Items {
		items[i] = reservation.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return items
}

func toRefs(handles []*stock.Reservation) []order.ReservationRef {
	refs := make([]order.ReservationRef, len(handles))
	for i, h := range handles {
		refs[i] = order.ReservationRef{ID: h.ID, ProductID: h.ProductID, Quantity: h.Quantity}
	}
	return refs
}

// toHandles 由订单上的引用还原句柄，实际状态以存储为准
func toHandles(o *order.SalesOrder) []*stock.Reservation {
	handles := make([]*stock.Reservation, len(o.Reservations))
	for i, ref := range o.Reservations {
		handles[i] = &stock.Reservation{
			ID:        ref.ID,
			OrderRef:  o.OrderNo,
			ProductID: ref.ProductID,
			Quantity:  ref.Quantity,
			Status:    stock.ReservationActive,
		}
	}
	return handles
}

func entryProductIDs(entries []*stock.MutationEntry) []uint {
	ids := make([]uint, len(entries))
	for i, e := range entries {
		ids[i] = e.ProductID
	}
	return ids
}

func failureReason(err error) string {
	var insufficient *stock.InsufficientStockError
	if errors.As(err, &insufficient) {
		return fmt.Sprintf("库存不足: 商品%d需要%d，可用%d", insufficient.ProductID, insufficient.Requested, insufficient.Available)
	}
	return err.Error()
}
