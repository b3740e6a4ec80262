package product

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/product"
	"github.com/xiebiao/stockledger/internal/domain/stock"
)

// StockOpener 商品上架时建立库存记录
type StockOpener interface {
	OpenRecord(ctx context.Context, productID uint) (*stock.Record, error)
	SetReorderThreshold(ctx context.Context, productID uint, threshold int) (*stock.Record, error)
}

// RegisterProductUseCase 商品上架用例
// 设计说明:
// 1. 写入商品目录后立即建立在库为0的库存记录
// 2. 初始库存必须通过restock调整录入,保证每个单位都有流水
type RegisterProductUseCase struct {
	products product.Repository
	ledger   StockOpener
	logger   *zap.Logger
}

// NewRegisterProductUseCase 创建上架用例
func NewRegisterProductUseCase(products product.Repository, ledger StockOpener, logger *zap.Logger) *RegisterProductUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegisterProductUseCase{
		products: products,
		ledger:   ledger,
		logger:   logger.Named("product"),
	}
}

// RegisterProductRequest 上架请求
type RegisterProductRequest struct {
	Name             string
	SKU              string
	Price            int64 // 单价(分)
	ReorderThreshold *int  // 为空时使用默认补货阈值
}

// RegisterProductResponse 上架响应
type RegisterProductResponse struct {
	ID               uint   `json:"id"`
	Name             string `json:"name"`
	SKU              string `json:"sku"`
	Price            int64  `json:"price"`
	OnHand           int    `json:"on_hand"`
	ReorderThreshold int    `json:"reorder_threshold"`
	CreatedAt        string `json:"created_at"`
}

// Execute 执行上架用例
func (uc *RegisterProductUseCase) Execute(ctx context.Context, req RegisterProductRequest) (*RegisterProductResponse, error) {
	if req.ReorderThreshold != nil && *req.ReorderThreshold < 0 {
		return nil, stock.ErrInvalidThreshold
	}

	p, err := product.NewProduct(req.Name, req.SKU, req.Price, time.Now())
	if err != nil {
		return nil, err
	}
	if err := uc.products.Create(ctx, p); err != nil {
		return nil, err
	}

	rec, err := uc.ledger.OpenRecord(ctx, p.ID)
	if err != nil {
		uc.logger.Error("商品已创建但库存记录建立失败",
			zap.Uint("product_id", p.ID),
			zap.Error(err),
		)
		return nil, err
	}
	if req.ReorderThreshold != nil && *req.ReorderThreshold != rec.ReorderThreshold {
		if rec, err = uc.ledger.SetReorderThreshold(ctx, p.ID, *req.ReorderThreshold); err != nil {
			return nil, err
		}
	}

	return &RegisterProductResponse{
		ID:               p.ID,
		Name:             p.Name,
		SKU:              p.SKU,
		Price:            p.Price,
		OnHand:           rec.OnHand,
		ReorderThreshold: rec.ReorderThreshold,
		CreatedAt:        p.CreatedAt.Format("2006-01-02 15:04:05"),
	}, nil
}
