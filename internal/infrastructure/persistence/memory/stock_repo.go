// Package memory 进程内存储
//
// 实现与mysql包相同的仓储契约，供单元测试和storage=memory模式使用。
// 事务语义对齐MySQL的InnoDB行锁：
//   - LockByProductID获取商品行锁，持有到事务结束
//   - 事务内的写入先进入写集，提交时一次性应用，回滚时丢弃
//   - 事务外的读只能看到已提交的数据
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xiebiao/stockledger/internal/domain/stock"
)

// StockRepository 内存库存仓储，同时提供事务边界
type StockRepository struct {
	mu           sync.RWMutex
	records      map[uint]*stock.Record
	entries      map[uint][]*stock.MutationEntry // 每个商品按ID升序
	byOrder      map[string][]*stock.MutationEntry
	reservations map[string]*stock.Reservation
	nextEntryID  uint

	locksMu  sync.Mutex
	rowLocks map[uint]chan struct{}
}

var (
	_ stock.Repository = (*StockRepository)(nil)
	_ stock.Transactor = (*StockRepository)(nil)
)

// NewStockRepository 创建内存库存仓储
func NewStockRepository() *StockRepository {
	return &StockRepository{
		records:      make(map[uint]*stock.Record),
		entries:      make(map[uint][]*stock.MutationEntry),
		byOrder:      make(map[string][]*stock.MutationEntry),
		reservations: make(map[string]*stock.Reservation),
		rowLocks:     make(map[uint]chan struct{}),
	}
}

type txKey struct{}

// txState 一个事务的行锁和写集
type txState struct {
	held         map[uint]chan struct{}
	records      map[uint]*stock.Record
	entries      []*stock.MutationEntry
	reservations map[string]*stock.Reservation
}

func txFrom(ctx context.Context) (*txState, bool) {
	t, ok := ctx.Value(txKey{}).(*txState)
	return t, ok
}

// Transaction 执行事务
// fn返回error时丢弃写集；嵌套调用加入外层事务
func (r *StockRepository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	t := &txState{
		held:         make(map[uint]chan struct{}),
		records:      make(map[uint]*stock.Record),
		reservations: make(map[string]*stock.Reservation),
	}
	defer func() {
		for _, l := range t.held {
			<-l
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	r.apply(t)
	return nil
}

// apply 提交写集
func (r *StockRepository) apply(t *txState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rec := range t.records {
		r.records[id] = rec
	}
	for _, e := range t.entries {
		r.nextEntryID++
		e.ID = r.nextEntryID
		c := *e
		r.entries[c.ProductID] = append(r.entries[c.ProductID], &c)
		if c.OrderRef != "" {
			r.byOrder[c.OrderRef] = append(r.byOrder[c.OrderRef], &c)
		}
	}
	for id, res := range t.reservations {
		r.reservations[id] = res
	}
}

// rowLock 商品行锁（容量1的channel，获取时可被ctx取消）
func (r *StockRepository) rowLock(productID uint) chan struct{} {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.rowLocks[productID]
	if !ok {
		l = make(chan struct{}, 1)
		r.rowLocks[productID] = l
	}
	return l
}

// Create 创建库存记录
func (r *StockRepository) Create(ctx context.Context, rec *stock.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ProductID]; ok {
		return stock.ErrRecordExists
	}
	r.records[rec.ProductID] = rec.Clone()
	return nil
}

// FindByProductID 读取记录：事务内优先读写集
func (r *StockRepository) FindByProductID(ctx context.Context, productID uint) (*stock.Record, error) {
	if t, ok := txFrom(ctx); ok {
		if rec, ok := t.records[productID]; ok {
			return rec.Clone(), nil
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[productID]
	if !ok {
		return nil, stock.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// ProductIDs 全部商品ID
func (r *StockRepository) ProductIDs(ctx context.Context) ([]uint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// LockByProductID 获取行锁后读取
func (r *StockRepository) LockByProductID(ctx context.Context, productID uint) (*stock.Record, error) {
	t, ok := txFrom(ctx)
	if !ok {
		return nil, stock.ErrNoTransaction
	}
	if _, held := t.held[productID]; !held {
		l := r.rowLock(productID)
		select {
		case l <- struct{}{}:
			t.held[productID] = l
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.FindByProductID(ctx, productID)
}

// Save 写入写集，要求已持有行锁
func (r *StockRepository) Save(ctx context.Context, rec *stock.Record) error {
	t, err := lockedTx(ctx, rec.ProductID)
	if err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	t.records[rec.ProductID] = rec.Clone()
	return nil
}

// AppendEntry 追加流水，提交时分配ID并回填
func (r *StockRepository) AppendEntry(ctx context.Context, entry *stock.MutationEntry) error {
	t, err := lockedTx(ctx, entry.ProductID)
	if err != nil {
		return err
	}
	t.entries = append(t.entries, entry)
	return nil
}

// CreateReservation 保存新预留
func (r *StockRepository) CreateReservation(ctx context.Context, res *stock.Reservation) error {
	t, err := lockedTx(ctx, res.ProductID)
	if err != nil {
		return err
	}
	t.reservations[res.ID] = res.Clone()
	return nil
}

// LockReservation 读取预留
// 预留由所属商品的行锁保护，调用方必须先LockByProductID
func (r *StockRepository) LockReservation(ctx context.Context, id string) (*stock.Reservation, error) {
	t, ok := txFrom(ctx)
	if !ok {
		return nil, stock.ErrNoTransaction
	}
	if res, ok := t.reservations[id]; ok {
		return res.Clone(), nil
	}

	r.mu.RLock()
	res, ok := r.reservations[id]
	r.mu.RUnlock()
	if !ok {
		return nil, stock.ErrReservationNotFound
	}
	if _, held := t.held[res.ProductID]; !held {
		return nil, stock.ErrNoTransaction
	}
	return res.Clone(), nil
}

// SaveReservation 保存预留状态
func (r *StockRepository) SaveReservation(ctx context.Context, res *stock.Reservation) error {
	t, err := lockedTx(ctx, res.ProductID)
	if err != nil {
		return err
	}
	t.reservations[res.ID] = res.Clone()
	return nil
}

// LatestEntryID 已提交的最大流水ID
func (r *StockRepository) LatestEntryID(ctx context.Context, productID uint) (uint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.entries[productID]
	if len(list) == 0 {
		return 0, nil
	}
	return list[len(list)-1].ID, nil
}

// ListEntries 分页读取流水
func (r *StockRepository) ListEntries(ctx context.Context, productID uint, afterID, upToID uint, limit int) ([]*stock.MutationEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.entries[productID]
	start := sort.Search(len(list), func(i int) bool { return list[i].ID > afterID })
	out := make([]*stock.MutationEntry, 0, limit)
	for _, e := range list[start:] {
		if e.ID > upToID || len(out) >= limit {
			break
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

// ListEntriesByOrderRef 订单关联流水
func (r *StockRepository) ListEntriesByOrderRef(ctx context.Context, orderRef string) ([]*stock.MutationEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byOrder[orderRef]
	out := make([]*stock.MutationEntry, len(list))
	for i, e := range list {
		c := *e
		out[i] = &c
	}
	return out, nil
}

// ReservationsForOrder 订单的全部预留（测试和对账使用）
func (r *StockRepository) ReservationsForOrder(orderRef string) []*stock.Reservation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*stock.Reservation
	for _, res := range r.reservations {
		if res.OrderRef == orderRef {
			out = append(out, res.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func lockedTx(ctx context.Context, productID uint) (*txState, error) {
	t, ok := txFrom(ctx)
	if !ok {
		return nil, stock.ErrNoTransaction
	}
	if _, held := t.held[productID]; !held {
		return nil, stock.ErrNoTransaction
	}
	return t, nil
}
