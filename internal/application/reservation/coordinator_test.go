package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/application/ledger"
	"github.com/xiebiao/stockledger/internal/domain/stock"
	"github.com/xiebiao/stockledger/internal/infrastructure/persistence/memory"
)

func newLedger(t *testing.T, stocks map[uint]int) (*ledger.Service, *memory.StockRepository) {
	t.Helper()
	repo := memory.NewStockRepository()
	svc := ledger.NewService(repo, repo, nil, zap.NewNop(), ledger.Options{})
	ctx := context.Background()
	for id, qty := range stocks {
		_, err := svc.OpenRecord(ctx, id)
		require.NoError(t, err)
		_, err = svc.Adjust(ctx, stock.AdjustCommand{ProductID: id, Delta: qty, Reason: stock.ReasonRestock, Actor: "u"})
		require.NoError(t, err)
	}
	return svc, repo
}

func available(t *testing.T, svc *ledger.Service, productID uint) int {
	t.Helper()
	rec, err := svc.Stock(context.Background(), productID)
	require.NoError(t, err)
	return rec.Available()
}

func TestCoordinator_ReserveAllIsAllOrNothing(t *testing.T) {
	svc, repo := newLedger(t, map[uint]int{1: 10, 2: 2})
	c := NewCoordinator(svc, zap.NewNop())

	handles, err := c.ReserveAll(context.Background(), "O1", []Item{{ProductID: 1, Quantity: 5}, {ProductID: 2, Quantity: 3}})
	assert.Nil(t, handles)

	var insufficient *stock.InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, uint(2), insufficient.ProductID)
	assert.Equal(t, 3, insufficient.Requested)
	assert.Equal(t, 2, insufficient.Available)

	assert.Equal(t, 10, available(t, svc, 1))
	assert.Equal(t, 2, available(t, svc, 2))

	// A的预留被补偿释放
	list := repo.ReservationsForOrder("O1")
	require.Len(t, list, 1)
	assert.Equal(t, stock.ReservationReleased, list[0].Status)
}

func TestCoordinator_ReserveAllMergesAndSorts(t *testing.T) {
	svc, _ := newLedger(t, map[uint]int{1: 10, 2: 10, 3: 10})
	c := NewCoordinator(svc, zap.NewNop())

	handles, err := c.ReserveAll(context.Background(), "O1", []Item{
		{ProductID: 3, Quantity: 1},
		{ProductID: 1, Quantity: 2},
		{ProductID: 3, Quantity: 4},
	})
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, uint(1), handles[0].ProductID)
	assert.Equal(t, 2, handles[0].Quantity)
	assert.Equal(t, uint(3), handles[1].ProductID)
	assert.Equal(t, 5, handles[1].Quantity)
	assert.Equal(t, 5, available(t, svc, 3))
}

func TestCoordinator_ReserveAllRejectsBadItems(t *testing.T) {
	c := NewCoordinator(&fakeLedger{}, nil)
	ctx := context.Background()

	_, err := c.ReserveAll(ctx, "O1", nil)
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)
	_, err = c.ReserveAll(ctx, "O1", []Item{{ProductID: 1, Quantity: 0}})
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)
	_, err = c.ReserveAll(ctx, "O1", []Item{{ProductID: 0, Quantity: 1}})
	assert.ErrorIs(t, err, stock.ErrInvalidProductID)
}

func TestCoordinator_OverlappingOrdersDoNotDeadlock(t *testing.T) {
	svc, _ := newLedger(t, map[uint]int{1: 100, 2: 100, 3: 100})
	c := NewCoordinator(svc, zap.NewNop())

	orders := [][]Item{
		{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}, {ProductID: 3, Quantity: 1}},
		{{ProductID: 3, Quantity: 1}, {ProductID: 2, Quantity: 1}, {ProductID: 1, Quantity: 1}},
		{{ProductID: 2, Quantity: 1}, {ProductID: 3, Quantity: 1}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := fmt.Sprintf("O%d", i)
			handles, err := c.ReserveAll(ctx, ref, orders[i%len(orders)])
			if !assert.NoError(t, err) {
				return
			}
			_, err = c.CommitAll(ctx, handles, ref, "order:"+ref)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 80, available(t, svc, 1))
	assert.Equal(t, 70, available(t, svc, 2))
	assert.Equal(t, 70, available(t, svc, 3))
}

func TestCoordinator_CommitAllAndReleaseAll(t *testing.T) {
	svc, _ := newLedger(t, map[uint]int{1: 10, 2: 10})
	c := NewCoordinator(svc, zap.NewNop())
	ctx := context.Background()

	handles, err := c.ReserveAll(ctx, "O1", []Item{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 3}})
	require.NoError(t, err)

	entries, err := c.CommitAll(ctx, handles, "O1", "order:O1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, -2, entries[0].Delta)
	assert.Equal(t, -3, entries[1].Delta)

	// 已提交的句柄释放是no-op
	require.NoError(t, c.ReleaseAll(ctx, handles))
	assert.Equal(t, 8, available(t, svc, 1))
	assert.Equal(t, 7, available(t, svc, 2))

	other, err := c.ReserveAll(ctx, "O2", []Item{{ProductID: 1, Quantity: 8}})
	require.NoError(t, err)
	require.NoError(t, c.ReleaseAll(ctx, other))
	require.NoError(t, c.ReleaseAll(ctx, other))
	assert.Equal(t, 8, available(t, svc, 1))
}

func TestCoordinator_CommitAllSurvivesCallerCancellation(t *testing.T) {
	svc, _ := newLedger(t, map[uint]int{1: 10, 2: 10})
	c := NewCoordinator(svc, zap.NewNop())

	handles, err := c.ReserveAll(context.Background(), "O1", []Item{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	entries, err := c.CommitAll(ctx, handles, "O1", "order:O1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// fakeLedger 按商品注入提交失败，并记录调用顺序
type fakeLedger struct {
	mu         sync.Mutex
	failCommit map[uint]error
	failRel    map[uint]error
	calls      []string
}

func (f *fakeLedger) record(op string, productID uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", op, productID))
}

func (f *fakeLedger) Reserve(ctx context.Context, orderRef string, productID uint, quantity int) (*stock.Reservation, error) {
	f.record("reserve", productID)
	return stock.NewReservation(orderRef, productID, quantity, time.Now()), nil
}

func (f *fakeLedger) Release(ctx context.Context, h *stock.Reservation) error {
	f.record("release", h.ProductID)
	return f.failRel[h.ProductID]
}

func (f *fakeLedger) Commit(ctx context.Context, h *stock.Reservation, orderRef, actor string) (*stock.MutationEntry, error) {
	f.record("commit", h.ProductID)
	if err := f.failCommit[h.ProductID]; err != nil {
		return nil, err
	}
	return &stock.MutationEntry{ProductID: h.ProductID, Delta: -h.Quantity, Reason: stock.ReasonSale, OrderRef: orderRef}, nil
}

func handlesFor(ids ...uint) []*stock.Reservation {
	out := make([]*stock.Reservation, len(ids))
	for i, id := range ids {
		out[i] = stock.NewReservation("O1", id, 1, time.Now())
	}
	return out
}

func TestCoordinator_CommitAllReportsInconsistency(t *testing.T) {
	cause := &stock.InvalidReservationError{ReservationID: "r2", ProductID: 2, Status: stock.ReservationReleased}
	fake := &fakeLedger{failCommit: map[uint]error{2: cause}}
	c := NewCoordinator(fake, zap.NewNop())

	entries, err := c.CommitAll(context.Background(), handlesFor(3, 1, 2), "O1", "order:O1")
	require.Len(t, entries, 1)

	var inconsistency *stock.FulfillmentInconsistencyError
	require.True(t, errors.As(err, &inconsistency))
	assert.Equal(t, []uint{1}, inconsistency.Committed)
	assert.Equal(t, uint(2), inconsistency.FailedProductID)
	assert.Equal(t, []uint{3}, inconsistency.Pending)
	assert.ErrorIs(t, err, stock.ErrInvalidReservation)
	assert.ErrorIs(t, err, stock.ErrFulfillmentInconsistency)

	// 第一个失败后不再尝试后续商品
	assert.Equal(t, []string{"commit:1", "commit:2"}, fake.calls)
}

func TestCoordinator_CommitAllFirstFailureReturnsRawError(t *testing.T) {
	boom := errors.New("db down")
	fake := &fakeLedger{failCommit: map[uint]error{1: boom}}
	c := NewCoordinator(fake, zap.NewNop())

	entries, err := c.CommitAll(context.Background(), handlesFor(1, 2), "O1", "order:O1")
	assert.Empty(t, entries)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, stock.ErrFulfillmentInconsistency)
}

func TestCoordinator_ReleaseAllContinuesOnFailure(t *testing.T) {
	boom := errors.New("db down")
	fake := &fakeLedger{failRel: map[uint]error{1: boom}}
	c := NewCoordinator(fake, zap.NewNop())

	err := c.ReleaseAll(context.Background(), handlesFor(2, 1, 3))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"release:1", "release:2", "release:3"}, fake.calls)
}

func TestCoordinator_ReserveAllCompensatesInReverse(t *testing.T) {
	svcErr := &stock.InsufficientStockError{ProductID: 3, Requested: 1, Available: 0}
	fake := &reserveFailLedger{fakeLedger: &fakeLedger{}, failOn: 3, err: svcErr}
	c := NewCoordinator(fake, zap.NewNop())

	_, err := c.ReserveAll(context.Background(), "O1", []Item{{ProductID: 3, Quantity: 1}, {ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}})
	assert.ErrorIs(t, err, stock.ErrInsufficientStock)
	assert.Equal(t, []string{"reserve:1", "reserve:2", "reserve:3", "release:2", "release:1"}, fake.calls)
}

type reserveFailLedger struct {
	*fakeLedger
	failOn uint
	err    error
}

func (f *reserveFailLedger) Reserve(ctx context.Context, orderRef string, productID uint, quantity int) (*stock.Reservation, error) {
	f.record("reserve", productID)
	if productID == f.failOn {
		return nil, f.err
	}
	return stock.NewReservation(orderRef, productID, quantity, time.Now()), nil
}
