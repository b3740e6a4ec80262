package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/application/ledger"
	"github.com/xiebiao/stockledger/internal/application/reservation"
	"github.com/xiebiao/stockledger/internal/domain/order"
	"github.com/xiebiao/stockledger/internal/domain/product"
	"github.com/xiebiao/stockledger/internal/domain/stock"
	"github.com/xiebiao/stockledger/internal/infrastructure/persistence/memory"
)

type env struct {
	manager *LifecycleManager
	ledger  *ledger.Service
	orders  *memory.OrderRepository
}

// newEnv 商品1单价500在库10，商品2单价300在库2
func newEnv(t *testing.T, wrap func(Coordinator) Coordinator) *env {
	t.Helper()
	stocks := memory.NewStockRepository()
	svc := ledger.NewService(stocks, stocks, nil, zap.NewNop(), ledger.Options{})
	catalog := memory.NewCatalog(
		&product.Product{ID: 1, Name: "Go程序设计语言", SKU: "BK-1", Price: 500},
		&product.Product{ID: 2, Name: "数据密集型应用系统设计", SKU: "BK-2", Price: 300},
	)

	ctx := context.Background()
	for id, qty := range map[uint]int{1: 10, 2: 2} {
		_, err := svc.OpenRecord(ctx, id)
		require.NoError(t, err)
		_, err = svc.Adjust(ctx, stock.AdjustCommand{ProductID: id, Delta: qty, Reason: stock.ReasonRestock, Actor: "user:1"})
		require.NoError(t, err)
	}

	var coordinator Coordinator = reservation.NewCoordinator(svc, zap.NewNop())
	if wrap != nil {
		coordinator = wrap(coordinator)
	}
	orders := memory.NewOrderRepository()
	return &env{
		manager: NewLifecycleManager(orders, catalog, coordinator, zap.NewNop()),
		ledger:  svc,
		orders:  orders,
	}
}

func (e *env) create(t *testing.T, items ...CreateOrderItem) *order.SalesOrder {
	t.Helper()
	o, err := e.manager.Create(context.Background(), CreateOrderRequest{CustomerID: 7, Items: items})
	require.NoError(t, err)
	return o
}

func (e *env) stock(t *testing.T, productID uint) *stock.Record {
	t.Helper()
	rec, err := e.ledger.Stock(context.Background(), productID)
	require.NoError(t, err)
	return rec
}

func TestLifecycle_CreateValidatesInput(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := e.manager.Create(ctx, CreateOrderRequest{CustomerID: 7, Items: []CreateOrderItem{{ProductID: 1, Quantity: 0}}})
	var verr *order.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "quantity", verr.Field)

	_, err = e.manager.Create(ctx, CreateOrderRequest{CustomerID: 7, Items: []CreateOrderItem{{ProductID: 99, Quantity: 1}}})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "product_id", verr.Field)
	assert.Equal(t, uint(99), verr.ProductID)

	_, err = e.manager.Create(ctx, CreateOrderRequest{CustomerID: 7})
	assert.ErrorIs(t, err, order.ErrInvalidOrderItems)

	// 校验失败的订单不落库
	list, total, err := e.manager.ListByCustomer(ctx, 7, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
}

func TestLifecycle_CreateSnapshotsPrices(t *testing.T) {
	e := newEnv(t, nil)
	o := e.create(t, CreateOrderItem{ProductID: 1, Quantity: 2}, CreateOrderItem{ProductID: 2, Quantity: 1}, CreateOrderItem{ProductID: 1, Quantity: 1})

	assert.Equal(t, order.OrderStatusDraft, o.Status)
	require.Len(t, o.Items, 2)
	assert.Equal(t, 3, o.Items[0].Quantity)
	assert.Equal(t, int64(1800), o.Total)

	got, err := e.manager.GetByOrderNo(context.Background(), o.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}

func TestLifecycle_HappyPath(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	o := e.create(t, CreateOrderItem{ProductID: 1, Quantity: 4}, CreateOrderItem{ProductID: 2, Quantity: 2})

	o, err := e.manager.ValidateAndReserve(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderStatusReserved, o.Status)
	require.Len(t, o.Reservations, 2)
	assert.Equal(t, 6, e.stock(t, 1).Available())
	assert.Equal(t, 0, e.stock(t, 2).Available())

	o, err = e.manager.Commit(ctx, o.ID, "user:7")
	require.NoError(t, err)
	assert.Equal(t, order.OrderStatusCommitted, o.Status)
	assert.NotNil(t, o.CommittedAt)

	assert.Equal(t, 6, e.stock(t, 1).OnHand)
	assert.Equal(t, 0, e.stock(t, 1).Reserved)
	assert.Equal(t, 0, e.stock(t, 2).OnHand)

	entries, err := e.ledger.EntriesForOrder(ctx, o.OrderNo)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, stock.ReasonSale, entry.Reason)
		assert.Equal(t, "user:7", entry.Actor)
	}
}

func TestLifecycle_ReserveFailureCancelsOrder(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	o := e.create(t, CreateOrderItem{ProductID: 1, Quantity: 5}, CreateOrderItem{ProductID: 2, Quantity: 3})

	o, err := e.manager.ValidateAndReserve(ctx, o.ID)
	var insufficient *stock.InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, uint(2), insufficient.ProductID)

	require.NotNil(t, o)
	assert.Equal(t, order.OrderStatusCancelled, o.Status)
	assert.Contains(t, o.FailureReason, "库存不足")
	assert.Empty(t, o.Reservations)

	// 商品1的预留已释放
	assert.Equal(t, 10, e.stock(t, 1).Available())
	assert.Equal(t, 2, e.stock(t, 2).Available())

	stored, err := e.manager.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderStatusCancelled, stored.Status)
}

func TestLifecycle_CancelReleasesReservations(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	o := e.create(t, CreateOrderItem{ProductID: 1, Quantity: 6})

	_, err := e.manager.ValidateAndReserve(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, e.stock(t, 1).Available())

	o, err = e.manager.Cancel(ctx, o.ID, "客户撤单")
	require.NoError(t, err)
	assert.Equal(t, order.OrderStatusCancelled, o.Status)
	assert.Equal(t, "客户撤单", o.FailureReason)

	rec := e.stock(t, 1)
	assert.Equal(t, 10, rec.OnHand)
	assert.Equal(t, 0, rec.Reserved)

	entries, err := e.ledger.EntriesForOrder(ctx, o.OrderNo)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	draft := e.create(t, CreateOrderItem{ProductID: 1, Quantity: 1})
	_, err := e.manager.Commit(ctx, draft.ID, "user:7")
	assert.ErrorIs(t, err, order.ErrInvalidStatusTransition)

	_, err = e.manager.ValidateAndReserve(ctx, draft.ID)
	require.NoError(t, err)
	_, err = e.manager.ValidateAndReserve(ctx, draft.ID)
	assert.ErrorIs(t, err, order.ErrInvalidStatusTransition)

	_, err = e.manager.Commit(ctx, draft.ID, "user:7")
	require.NoError(t, err)
	_, err = e.manager.Cancel(ctx, draft.ID, "太晚了")
	var terr *order.InvalidTransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, order.OrderStatusCommitted, terr.From)
	assert.Equal(t, order.OrderStatusCancelled, terr.To)

	_, err = e.manager.Commit(ctx, draft.ID, "user:7")
	assert.ErrorIs(t, err, order.ErrInvalidStatusTransition)

	_, err = e.manager.Commit(ctx, draft.ID, "")
	assert.ErrorIs(t, err, stock.ErrActorRequired)

	_, err = e.manager.Cancel(ctx, 999, "x")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	// 已提交订单的库存不受影响
	assert.Equal(t, 9, e.stock(t, 1).OnHand)
}

func TestLifecycle_CancelDraft(t *testing.T) {
	e := newEnv(t, nil)
	o := e.create(t, CreateOrderItem{ProductID: 1, Quantity: 1})

	o, err := e.manager.Cancel(context.Background(), o.ID, "下错单")
	require.NoError(t, err)
	assert.Equal(t, order.OrderStatusCancelled, o.Status)

	_, err = e.manager.ValidateAndReserve(context.Background(), o.ID)
	assert.ErrorIs(t, err, order.ErrInvalidStatusTransition)
}

// stallingCoordinator 让ReserveAll一直等到ctx结束
type stallingCoordinator struct {
	Coordinator
}

func (s stallingCoordinator) ReserveAll(ctx context.Context, orderRef string, items []reservation.Item) ([]*stock.Reservation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLifecycle_ValidateWithDeadline(t *testing.T) {
	e := newEnv(t, func(c Coordinator) Coordinator { return stallingCoordinator{c} })
	o := e.create(t, CreateOrderItem{ProductID: 1, Quantity: 1})

	o, err := e.manager.ValidateWithDeadline(context.Background(), o.ID, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrValidationTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, o)
	assert.Equal(t, order.OrderStatusCancelled, o.Status)
	assert.Equal(t, 10, e.stock(t, 1).Available())
}

func TestLifecycle_ValidateWithDeadlineInTime(t *testing.T) {
	e := newEnv(t, nil)
	o := e.create(t, CreateOrderItem{ProductID: 1, Quantity: 1})

	o, err := e.manager.ValidateWithDeadline(context.Background(), o.ID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, order.OrderStatusReserved, o.Status)
}

// gatedCoordinator 让CommitAll在gate关闭前阻塞
type gatedCoordinator struct {
	Coordinator
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedCoordinator) CommitAll(ctx context.Context, handles []*stock.Reservation, orderRef, actor string) ([]*stock.MutationEntry, error) {
	close(g.entered)
	<-g.gate
	return g.Coordinator.CommitAll(ctx, handles, orderRef, actor)
}

func TestLifecycle_CancelRefusedWhileCommitInProgress(t *testing.T) {
	gated := &gatedCoordinator{entered: make(chan struct{}), gate: make(chan struct{})}
	e := newEnv(t, func(c Coordinator) Coordinator {
		gated.Coordinator = c
		return gated
	})
	ctx := context.Background()
	o := e.create(t, CreateOrderItem{ProductID: 1, Quantity: 3})
	_, err := e.manager.ValidateAndReserve(ctx, o.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var commitErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, commitErr = e.manager.Commit(ctx, o.ID, "user:7")
	}()
	<-gated.entered

	_, err = e.manager.Cancel(ctx, o.ID, "客户撤单")
	assert.ErrorIs(t, err, order.ErrInvalidStatusTransition)

	close(gated.gate)
	wg.Wait()
	require.NoError(t, commitErr)

	stored, err := e.manager.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderStatusCommitted, stored.Status)
	assert.Equal(t, 7, e.stock(t, 1).OnHand)
}

// failingCommitCoordinator err非空时CommitAll直接返回err
type failingCommitCoordinator struct {
	Coordinator
	err error
}

func (f *failingCommitCoordinator) CommitAll(ctx context.Context, handles []*stock.Reservation, orderRef, actor string) ([]*stock.MutationEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.Coordinator.CommitAll(ctx, handles, orderRef, actor)
}

func TestLifecycle_CommitInconsistencyKeepsClaim(t *testing.T) {
	inconsistency := &stock.FulfillmentInconsistencyError{
		OrderRef:        "SO1",
		Committed:       []uint{1},
		FailedProductID: 2,
		Err:             errors.New("db down"),
	}
	e := newEnv(t, func(c Coordinator) Coordinator { return &failingCommitCoordinator{c, inconsistency} })
	ctx := context.Background()
	o := e.create(t, CreateOrderItem{ProductID: 1, Quantity: 1}, CreateOrderItem{ProductID: 2, Quantity: 1})
	_, err := e.manager.ValidateAndReserve(ctx, o.ID)
	require.NoError(t, err)

	_, err = e.manager.Commit(ctx, o.ID, "user:7")
	assert.ErrorIs(t, err, stock.ErrFulfillmentInconsistency)

	stored, err := e.manager.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderStatusReserved, stored.Status)
	assert.NotNil(t, stored.CommitStartedAt)
	assert.NotEmpty(t, stored.FailureReason)

	// 部分提交的订单不能取消
	_, err = e.manager.Cancel(ctx, o.ID, "x")
	assert.ErrorIs(t, err, order.ErrInvalidStatusTransition)
}

func TestLifecycle_CommitFailureBeforeAnyCommitCanRetry(t *testing.T) {
	boom := errors.New("db down")
	failing := &failingCommitCoordinator{err: boom}
	e := newEnv(t, func(c Coordinator) Coordinator {
		failing.Coordinator = c
		return failing
	})
	ctx := context.Background()
	o := e.create(t, CreateOrderItem{ProductID: 1, Quantity: 2})
	_, err := e.manager.ValidateAndReserve(ctx, o.ID)
	require.NoError(t, err)

	_, err = e.manager.Commit(ctx, o.ID, "user:7")
	assert.ErrorIs(t, err, boom)

	stored, err := e.manager.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CommitStartedAt)

	failing.err = nil
	o, err = e.manager.Commit(ctx, o.ID, "user:7")
	require.NoError(t, err)
	assert.Equal(t, order.OrderStatusCommitted, o.Status)
	assert.Equal(t, 8, e.stock(t, 1).OnHand)
}

func TestLifecycle_ConcurrentCommitAndCancel(t *testing.T) {
	for i := 0; i < 20; i++ {
		e := newEnv(t, nil)
		ctx := context.Background()
		o := e.create(t, CreateOrderItem{ProductID: 1, Quantity: 3})
		_, err := e.manager.ValidateAndReserve(ctx, o.ID)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var commitErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, commitErr = e.manager.Commit(ctx, o.ID, "user:7")
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = e.manager.Cancel(ctx, o.ID, "客户撤单")
		}()
		wg.Wait()

		stored, err := e.manager.Get(ctx, o.ID)
		require.NoError(t, err)
		rec := e.stock(t, 1)
		assert.Equal(t, 0, rec.Reserved)

		switch stored.Status {
		case order.OrderStatusCommitted:
			assert.NoError(t, commitErr)
			assert.Error(t, cancelErr)
			assert.Equal(t, 7, rec.OnHand)
		case order.OrderStatusCancelled:
			assert.NoError(t, cancelErr)
			assert.Error(t, commitErr)
			assert.Equal(t, 10, rec.OnHand)
		default:
			t.Fatalf("unexpected status %s", stored.Status)
		}
	}
}
