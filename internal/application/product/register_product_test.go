package product

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/application/ledger"
	"github.com/xiebiao/stockledger/internal/domain/product"
	"github.com/xiebiao/stockledger/internal/domain/stock"
	"github.com/xiebiao/stockledger/internal/infrastructure/persistence/memory"
)

func newUseCase() (*RegisterProductUseCase, *ledger.Service, *memory.Catalog) {
	repo := memory.NewStockRepository()
	svc := ledger.NewService(repo, repo, nil, zap.NewNop(), ledger.Options{DefaultReorderThreshold: 5})
	catalog := memory.NewCatalog()
	return NewRegisterProductUseCase(catalog, svc, zap.NewNop()), svc, catalog
}

func TestRegisterProduct_OpensEmptyRecord(t *testing.T) {
	uc, svc, catalog := newUseCase()
	ctx := context.Background()

	resp, err := uc.Execute(ctx, RegisterProductRequest{Name: "Go语言圣经", SKU: "BK-1", Price: 8900})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.OnHand)
	assert.Equal(t, 5, resp.ReorderThreshold)

	p, err := catalog.FindByID(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8900), p.Price)

	rec, err := svc.Stock(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.OnHand)

	cur, err := svc.History(ctx, resp.ID)
	require.NoError(t, err)
	entries, err := cur.Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegisterProduct_CustomThreshold(t *testing.T) {
	uc, _, _ := newUseCase()
	threshold := 12

	resp, err := uc.Execute(context.Background(), RegisterProductRequest{Name: "A", SKU: "BK-2", Price: 100, ReorderThreshold: &threshold})
	require.NoError(t, err)
	assert.Equal(t, 12, resp.ReorderThreshold)

	negative := -1
	_, err = uc.Execute(context.Background(), RegisterProductRequest{Name: "B", SKU: "BK-3", ReorderThreshold: &negative})
	assert.ErrorIs(t, err, stock.ErrInvalidThreshold)
}

func TestRegisterProduct_Invalid(t *testing.T) {
	uc, _, _ := newUseCase()
	ctx := context.Background()

	_, err := uc.Execute(ctx, RegisterProductRequest{Name: "", SKU: "BK-1"})
	assert.ErrorIs(t, err, product.ErrInvalidProduct)

	_, err = uc.Execute(ctx, RegisterProductRequest{Name: "A", SKU: "BK-1"})
	require.NoError(t, err)
	_, err = uc.Execute(ctx, RegisterProductRequest{Name: "B", SKU: "BK-1"})
	assert.ErrorIs(t, err, product.ErrSKUDuplicate)
}
