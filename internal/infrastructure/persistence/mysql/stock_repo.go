package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xiebiao/stockledger/internal/domain/stock"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

// stockRepository 库存仓储实现(MySQL)
// 教学要点:
// 1. 行锁用SELECT ... FOR UPDATE,锁持有到事务提交
// 2. 所有写方法必须通过dbFrom(ctx)拿到事务DB,否则写入不在同一事务
// 3. 流水ID由自增主键分配;同一商品的插入被行锁串行化,ID顺序即提交顺序
type stockRepository struct {
	db *gorm.DB
}

// NewStockRepository 创建库存仓储
func NewStockRepository(db *gorm.DB) stock.Repository {
	return &stockRepository{db: db}
}

// Create 创建库存记录
func (r *stockRepository) Create(ctx context.Context, rec *stock.Record) error {
	model := toStockRecordModel(rec)
	if err := dbFrom(ctx, r.db).Create(model).Error; err != nil {
		if isDuplicateError(err) {
			return stock.ErrRecordExists
		}
		return apperrors.Wrap(err, "创建库存记录失败")
	}
	return nil
}

// FindByProductID 读取已提交的库存记录
func (r *stockRepository) FindByProductID(ctx context.Context, productID uint) (*stock.Record, error) {
	var model StockRecordModel
	err := dbFrom(ctx, r.db).Where("product_id = ?", productID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, stock.ErrRecordNotFound
		}
		return nil, apperrors.Wrap(err, "查询库存记录失败")
	}
	return toStockRecord(&model), nil
}

// ProductIDs 全部有库存记录的商品
func (r *stockRepository) ProductIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := dbFrom(ctx, r.db).Model(&StockRecordModel{}).Order("product_id ASC").Pluck("product_id", &ids).Error
	if err != nil {
		return nil, apperrors.Wrap(err, "查询商品列表失败")
	}
	return ids, nil
}

// LockByProductID 悲观锁读取库存记录
// SELECT * FROM stock_records WHERE product_id = ? FOR UPDATE
func (r *stockRepository) LockByProductID(ctx context.Context, productID uint) (*stock.Record, error) {
	tx, ok := txFrom(ctx)
	if !ok {
		return nil, stock.ErrNoTransaction
	}

	var model StockRecordModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ?", productID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, stock.ErrRecordNotFound
		}
		return nil, apperrors.Wrap(err, "锁定库存记录失败")
	}
	return toStockRecord(&model), nil
}

// Save 保存已锁定的库存记录
func (r *stockRepository) Save(ctx context.Context, rec *stock.Record) error {
	tx, ok := txFrom(ctx)
	if !ok {
		return stock.ErrNoTransaction
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	result := tx.Model(&StockRecordModel{}).
		Where("product_id = ?", rec.ProductID).
		Updates(map[string]interface{}{
			"on_hand":           rec.OnHand,
			"reserved":          rec.Reserved,
			"reorder_threshold": rec.ReorderThreshold,
			"version":           rec.Version,
			"updated_at":        rec.UpdatedAt,
		})
	if result.Error != nil {
		return apperrors.Wrap(result.Error, "更新库存记录失败")
	}
	if result.RowsAffected == 0 {
		return stock.ErrRecordNotFound
	}
	return nil
}

// AppendEntry 追加流水,回填自增ID
func (r *stockRepository) AppendEntry(ctx context.Context, entry *stock.MutationEntry) error {
	tx, ok := txFrom(ctx)
	if !ok {
		return stock.ErrNoTransaction
	}

	model := &MutationEntryModel{
		ProductID:       entry.ProductID,
		Delta:           entry.Delta,
		Reason:          entry.Reason.String(),
		ResultingOnHand: entry.ResultingOnHand,
		Actor:           entry.Actor,
		OrderRef:        entry.OrderRef,
		CreatedAt:       entry.CreatedAt,
	}
	if err := tx.Create(model).Error; err != nil {
		return apperrors.Wrap(err, "写入库存流水失败")
	}
	entry.ID = model.ID
	return nil
}

// CreateReservation 保存新预留
func (r *stockRepository) CreateReservation(ctx context.Context, res *stock.Reservation) error {
	tx, ok := txFrom(ctx)
	if !ok {
		return stock.ErrNoTransaction
	}
	if err := tx.Create(toReservationModel(res)).Error; err != nil {
		return apperrors.Wrap(err, "创建预留失败")
	}
	return nil
}

// LockReservation 悲观锁读取预留
// 调用方已持有商品行锁,这里的锁只防止绕过账本的并发写
func (r *stockRepository) LockReservation(ctx context.Context, id string) (*stock.Reservation, error) {
	tx, ok := txFrom(ctx)
	if !ok {
		return nil, stock.ErrNoTransaction
	}

	var model ReservationModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, stock.ErrReservationNotFound
		}
		return nil, apperrors.Wrap(err, "锁定预留失败")
	}
	return toReservation(&model), nil
}

// SaveReservation 保存预留状态
func (r *stockRepository) SaveReservation(ctx context.Context, res *stock.Reservation) error {
	tx, ok := txFrom(ctx)
	if !ok {
		return stock.ErrNoTransaction
	}

	result := tx.Model(&ReservationModel{}).
		Where("id = ?", res.ID).
		Updates(map[string]interface{}{
			"status":     string(res.Status),
			"settled_at": res.SettledAt,
		})
	if result.Error != nil {
		return apperrors.Wrap(result.Error, "更新预留失败")
	}
	if result.RowsAffected == 0 {
		return stock.ErrReservationNotFound
	}
	return nil
}

// LatestEntryID 商品当前最大流水ID
func (r *stockRepository) LatestEntryID(ctx context.Context, productID uint) (uint, error) {
	var id uint
	err := dbFrom(ctx, r.db).Model(&MutationEntryModel{}).
		Select("COALESCE(MAX(id), 0)").
		Where("product_id = ?", productID).
		Scan(&id).Error
	if err != nil {
		return 0, apperrors.Wrap(err, "查询流水失败")
	}
	return id, nil
}

// ListEntries 按ID升序分页读取流水
func (r *stockRepository) ListEntries(ctx context.Context, productID uint, afterID, upToID uint, limit int) ([]*stock.MutationEntry, error) {
	var models []MutationEntryModel
	err := dbFrom(ctx, r.db).
		Where("product_id = ? AND id > ? AND id <= ?", productID, afterID, upToID).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, apperrors.Wrap(err, "查询流水失败")
	}
	return toEntries(models), nil
}

// ListEntriesByOrderRef 订单关联流水
func (r *stockRepository) ListEntriesByOrderRef(ctx context.Context, orderRef string) ([]*stock.MutationEntry, error) {
	var models []MutationEntryModel
	err := dbFrom(ctx, r.db).
		Where("order_ref = ?", orderRef).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, apperrors.Wrap(err, "查询订单流水失败")
	}
	return toEntries(models), nil
}

// =========================================
// 辅助函数:模型转换
// =========================================

func toStockRecordModel(rec *stock.Record) *StockRecordModel {
	return &StockRecordModel{
		ProductID:        rec.ProductID,
		OnHand:           rec.OnHand,
		Reserved:         rec.Reserved,
		ReorderThreshold: rec.ReorderThreshold,
		Version:          rec.Version,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}

func toStockRecord(model *StockRecordModel) *stock.Record {
	return &stock.Record{
		ProductID:        model.ProductID,
		OnHand:           model.OnHand,
		Reserved:         model.Reserved,
		ReorderThreshold: model.ReorderThreshold,
		Version:          model.Version,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}
}

func toEntries(models []MutationEntryModel) []*stock.MutationEntry {
	entries := make([]*stock.MutationEntry, len(models))
	for i, m := range models {
		entries[i] = &stock.MutationEntry{
			ID:              m.ID,
			ProductID:       m.ProductID,
			Delta:           m.Delta,
			Reason:          stock.Reason(m.Reason),
			ResultingOnHand: m.ResultingOnHand,
			Actor:           m.Actor,
			OrderRef:        m.OrderRef,
			CreatedAt:       m.CreatedAt,
		}
	}
	return entries
}

func toReservationModel(res *stock.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:        res.ID,
		OrderRef:  res.OrderRef,
		ProductID: res.ProductID,
		Quantity:  res.Quantity,
		Status:    string(res.Status),
		CreatedAt: res.CreatedAt,
		SettledAt: res.SettledAt,
	}
}

func toReservation(model *ReservationModel) *stock.Reservation {
	return &stock.Reservation{
		ID:        model.ID,
		OrderRef:  model.OrderRef,
		ProductID: model.ProductID,
		Quantity:  model.Quantity,
		Status:    stock.ReservationStatus(model.Status),
		CreatedAt: model.CreatedAt,
		SettledAt: model.SettledAt,
	}
}
