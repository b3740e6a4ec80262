package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiebiao/stockledger/internal/domain/alert"
	"github.com/xiebiao/stockledger/internal/domain/stock"
)

// stubReader 可以直接改记录的Reader
type stubReader struct {
	mu      sync.Mutex
	records map[uint]*stock.Record
	err     error
}

func newStubReader(records ...*stock.Record) *stubReader {
	r := &stubReader{records: make(map[uint]*stock.Record)}
	for _, rec := range records {
		r.records[rec.ProductID] = rec
	}
	return r
}

func (r *stubReader) FindByProductID(ctx context.Context, productID uint) (*stock.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	rec, ok := r.records[productID]
	if !ok {
		return nil, stock.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (r *stubReader) ProductIDs(ctx context.Context) ([]uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *stubReader) set(productID uint, onHand int, version uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[productID]
	rec.OnHand = onHand
	rec.Version = version
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []alert.Notification
}

func (n *recordingNotifier) Notify(x alert.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, x)
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, x := range n.sent {
		out[i] = x.Event()
	}
	return out
}

func record(productID uint, onHand, threshold int, version uint) *stock.Record {
	return &stock.Record{ProductID: productID, OnHand: onHand, ReorderThreshold: threshold, Version: version, UpdatedAt: time.Now()}
}

func TestEvaluator_NotifiesOnLevelChange(t *testing.T) {
	reader := newStubReader(record(1, 10, 5, 1))
	notifier := &recordingNotifier{}
	e := NewEvaluator(reader, notifier, nil)
	ctx := context.Background()

	// 首次评估不低库存，不通知
	e.OnMutation(ctx, 1)
	assert.False(t, e.IsLowStock(1))
	assert.Empty(t, notifier.events())

	reader.set(1, 5, 2)
	e.OnMutation(ctx, 1)
	assert.True(t, e.IsLowStock(1))

	// 水位没变不重复通知
	reader.set(1, 4, 3)
	e.OnMutation(ctx, 1)

	reader.set(1, 0, 4)
	e.OnMutation(ctx, 1)
	st, ok := e.Status(1)
	require.True(t, ok)
	assert.Equal(t, alert.LevelOutOfStock, st.Level)

	reader.set(1, 20, 5)
	e.OnMutation(ctx, 1)
	assert.False(t, e.IsLowStock(1))

	assert.Equal(t, []string{"stock.low", "stock.level_changed", "stock.recovered"}, notifier.events())
}

func TestEvaluator_IgnoresStaleVersion(t *testing.T) {
	reader := newStubReader(record(1, 3, 5, 7))
	e := NewEvaluator(reader, nil, nil)
	e.OnMutation(context.Background(), 1)
	require.True(t, e.IsLowStock(1))

	assert.False(t, e.store(alert.Evaluate(record(1, 50, 5, 6), time.Now())))
	assert.True(t, e.IsLowStock(1))

	assert.True(t, e.store(alert.Evaluate(record(1, 50, 5, 8), time.Now())))
	assert.False(t, e.IsLowStock(1))
}

func TestEvaluator_ReadFailureKeepsPreviousState(t *testing.T) {
	reader := newStubReader(record(1, 3, 5, 1))
	e := NewEvaluator(reader, nil, nil)
	e.OnMutation(context.Background(), 1)

	reader.err = errors.New("db down")
	e.OnMutation(context.Background(), 1)
	assert.True(t, e.IsLowStock(1))

	_, ok := e.Status(2)
	assert.False(t, ok)
	assert.False(t, e.IsLowStock(2))
}

func TestEvaluator_CancelledContextStillEvaluates(t *testing.T) {
	reader := newStubReader(record(1, 3, 5, 1))
	e := NewEvaluator(reader, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.OnMutation(ctx, 1)
	assert.True(t, e.IsLowStock(1))
}

func TestEvaluator_RebuildAndList(t *testing.T) {
	reader := newStubReader(
		record(3, 0, 5, 1),
		record(1, 2, 5, 1),
		record(2, 50, 5, 1),
	)
	notifier := &recordingNotifier{}
	e := NewEvaluator(reader, notifier, nil)

	require.NoError(t, e.Rebuild(context.Background()))

	low := e.LowStockProducts()
	require.Len(t, low, 2)
	assert.Equal(t, uint(1), low[0].ProductID)
	assert.Equal(t, alert.LevelLowStock, low[0].Level)
	assert.Equal(t, uint(3), low[1].ProductID)
	assert.Equal(t, alert.LevelOutOfStock, low[1].Level)
	assert.Len(t, notifier.events(), 2)
}
