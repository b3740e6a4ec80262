package product

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

var (
	// ErrProductNotFound 商品不存在
	ErrProductNotFound = apperrors.New(apperrors.ErrCodeProductNotFound, "商品不存在")

	// ErrSKUDuplicate SKU已存在
	ErrSKUDuplicate = apperrors.New(apperrors.ErrCodeDuplicateEntry, "SKU已存在")

	// ErrInvalidProduct 商品信息不合法
	ErrInvalidProduct = apperrors.New(apperrors.ErrCodeValidation, "商品信息不合法")
)

// Product 商品目录中与库存相关的字段
// 商品的完整资料由目录服务负责,这里只关心名称、SKU和单价
type Product struct {
	ID        uint
	Name      string
	SKU       string
	Price     int64 // 单价(分)
	CreatedAt time.Time
}

// NewProduct 校验并创建商品
func NewProduct(name, sku string, price int64, now time.Time) (*Product, error) {
	name = strings.TrimSpace(name)
	sku = strings.TrimSpace(sku)
	if name == "" || sku == "" || price < 0 {
		return nil, ErrInvalidProduct
	}
	return &Product{Name: name, SKU: sku, Price: price, CreatedAt: now}, nil
}

// Catalog 商品查询接口
type Catalog interface {
	// FindByID 不存在返回ErrProductNotFound
	FindByID(ctx context.Context, id uint) (*Product, error)
}

// Repository 商品仓储
type Repository interface {
	Catalog

	// Create 创建商品,回填ID;SKU重复返回ErrSKUDuplicate
	Create(ctx context.Context, p *Product) error
}
