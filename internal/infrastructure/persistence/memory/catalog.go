package memory

import (
	"context"
	"sync"

	"github.com/xiebiao/stockledger/internal/domain/product"
)

// Catalog 内存商品目录
type Catalog struct {
	mu       sync.RWMutex
	products map[uint]*product.Product
	nextID   uint
}

var _ product.Repository = (*Catalog)(nil)

// NewCatalog 创建商品目录，可传入初始商品
func NewCatalog(products ...*product.Product) *Catalog {
	c := &Catalog{products: make(map[uint]*product.Product)}
	for _, p := range products {
		c.Put(p)
	}
	return c
}

// Put 新增或覆盖商品（测试预置数据）
func (c *Catalog) Put(p *product.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *p
	c.products[p.ID] = &cp
	if p.ID > c.nextID {
		c.nextID = p.ID
	}
}

// Create 创建商品，分配ID
func (c *Catalog) Create(ctx context.Context, p *product.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.products {
		if existing.SKU == p.SKU {
			return product.ErrSKUDuplicate
		}
	}
	c.nextID++
	p.ID = c.nextID
	cp := *p
	c.products[p.ID] = &cp
	return nil
}

// FindByID 查找商品
func (c *Catalog) FindByID(ctx context.Context, id uint) (*product.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, product.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}
