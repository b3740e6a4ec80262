package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xiebiao/stockledger/internal/domain/order"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

// OrderRepository 内存订单仓储
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[uint]*order.SalesOrder
	byNo   map[string]uint
	nextID uint
}

var _ order.Repository = (*OrderRepository)(nil)

// NewOrderRepository 创建内存订单仓储
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[uint]*order.SalesOrder),
		byNo:   make(map[string]uint),
	}
}

// Create 创建订单，回填ID
func (r *OrderRepository) Create(ctx context.Context, o *order.SalesOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byNo[o.OrderNo]; ok {
		return apperrors.New(apperrors.ErrCodeDuplicateEntry, "订单号已存在")
	}
	r.nextID++
	o.ID = r.nextID
	if o.Version == 0 {
		o.Version = 1
	}
	r.orders[o.ID] = o.Clone()
	r.byNo[o.OrderNo] = o.ID
	return nil
}

// FindByID 根据ID查找订单
func (r *OrderRepository) FindByID(ctx context.Context, id uint) (*order.SalesOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// FindByOrderNo 根据订单号查找订单
func (r *OrderRepository) FindByOrderNo(ctx context.Context, orderNo string) (*order.SalesOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byNo[orderNo]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return r.orders[id].Clone(), nil
}

// Update 比较版本号后写入
func (r *OrderRepository) Update(ctx context.Context, o *order.SalesOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.orders[o.ID]
	if !ok {
		return order.ErrOrderNotFound
	}
	if cur.Version != o.Version {
		return order.ErrConcurrentModification
	}
	o.Version++
	r.orders[o.ID] = o.Clone()
	return nil
}

// ListByCustomer 按创建时间倒序分页
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID uint, page, pageSize int) ([]*order.SalesOrder, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*order.SalesOrder
	for _, o := range r.orders {
		if o.CustomerID == customerID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	start, end := pageBounds(len(all), page, pageSize)
	out := make([]*order.SalesOrder, 0, end-start)
	for _, o := range all[start:end] {
		out = append(out, o.Clone())
	}
	return out, total, nil
}

func pageBounds(n, page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start > n {
		start = n
	}
	end := start + pageSize
	if end > n {
		end = n
	}
	return start, end
}
