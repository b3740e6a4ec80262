package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/xiebiao/stockledger/internal/domain/order"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

// orderRepository 订单仓储实现(MySQL)
// 教学要点:
// 1. SalesOrder和明细是聚合关系,必须一起保存
// 2. 查询时使用Preload预加载明细,避免N+1问题
// 3. Update是比较并交换:WHERE id = ? AND version = ?
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(db *gorm.DB) order.Repository {
	return &orderRepository{db: db}
}

// Create 创建订单
// 教学要点:GORM会自动保存关联的Items(通过foreignKey)
func (r *orderRepository) Create(ctx context.Context, o *order.SalesOrder) error {
	if o.Version == 0 {
		o.Version = 1
	}
	model := toSalesOrderModel(o)

	if err := dbFrom(ctx, r.db).Create(model).Error; err != nil {
		if isDuplicateError(err) {
			return apperrors.New(apperrors.ErrCodeDuplicateEntry, "订单号已存在")
		}
		return apperrors.Wrap(err, "创建订单失败")
	}

	o.ID = model.ID
	return nil
}

// FindByID 根据ID查找订单
func (r *orderRepository) FindByID(ctx context.Context, id uint) (*order.SalesOrder, error) {
	var model SalesOrderModel
	err := dbFrom(ctx, r.db).Preload("Items").First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, order.ErrOrderNotFound
		}
		return nil, apperrors.Wrap(err, "查询订单失败")
	}
	return toSalesOrder(&model), nil
}

// FindByOrderNo 根据订单号查找订单
func (r *orderRepository) FindByOrderNo(ctx context.Context, orderNo string) (*order.SalesOrder, error) {
	var model SalesOrderModel
	err := dbFrom(ctx, r.db).Preload("Items").Where("order_no = ?", orderNo).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, order.ErrOrderNotFound
		}
		return nil, apperrors.Wrap(err, "查询订单失败")
	}
	return toSalesOrder(&model), nil
}

// Update 按版本号更新订单状态
// 教学要点:
// 1. 明细创建后不再变化,这里只更新状态相关的列
// 2. RowsAffected为0时再查一次,区分订单不存在和版本冲突
func (r *orderRepository) Update(ctx context.Context, o *order.SalesOrder) error {
	db := dbFrom(ctx, r.db)

	result := db.Model(&SalesOrderModel{}).
		Where("id = ? AND version = ?", o.ID, o.Version).
		Updates(map[string]interface{}{
			"status":            int(o.Status),
			"failure_reason":    o.FailureReason,
			"reservations":      mustJSON(toReservationColumns(o.Reservations)),
			"version":           o.Version + 1,
			"validating_at":     o.ValidatingAt,
			"reserved_at":       o.ReservedAt,
			"commit_started_at": o.CommitStartedAt,
			"committed_at":      o.CommittedAt,
			"cancelled_at":      o.CancelledAt,
			"updated_at":        o.UpdatedAt,
		})
	if result.Error != nil {
		return apperrors.Wrap(result.Error, "更新订单失败")
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&SalesOrderModel{}).Where("id = ?", o.ID).Count(&count).Error; err != nil {
			return apperrors.Wrap(err, "查询订单失败")
		}
		if count == 0 {
			return order.ErrOrderNotFound
		}
		return order.ErrConcurrentModification
	}

	o.Version++
	return nil
}

// ListByCustomer 查询客户的订单列表
func (r *orderRepository) ListByCustomer(ctx context.Context, customerID uint, page, pageSize int) ([]*order.SalesOrder, int64, error) {
	var (
		models []SalesOrderModel
		total  int64
	)

	query := dbFrom(ctx, r.db).Model(&SalesOrderModel{}).Where("customer_id = ?", customerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Wrap(err, "查询订单总数失败")
	}

	offset := (page - 1) * pageSize
	err := query.Preload("Items").
		Order("created_at DESC").
		Order("id DESC").
		Limit(pageSize).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, 0, apperrors.Wrap(err, "查询订单列表失败")
	}

	orders := make([]*order.SalesOrder, len(models))
	for i := range models {
		orders[i] = toSalesOrder(&models[i])
	}
	return orders, total, nil
}

// =========================================
// 辅助函数:模型转换
// =========================================

func toSalesOrderModel(o *order.SalesOrder) *SalesOrderModel {
	items := make([]SalesOrderItemModel, len(o.Items))
	for i, item := range o.Items {
		items[i] = SalesOrderItemModel{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}

	return &SalesOrderModel{
		ID:              o.ID,
		OrderNo:         o.OrderNo,
		CustomerID:      o.CustomerID,
		Status:          int(o.Status),
		Notes:           o.Notes,
		Total:           o.Total,
		FailureReason:   o.FailureReason,
		Reservations:    toReservationColumns(o.Reservations),
		Version:         o.Version,
		Items:           items,
		ValidatingAt:    o.ValidatingAt,
		ReservedAt:      o.ReservedAt,
		CommitStartedAt: o.CommitStartedAt,
		CommittedAt:     o.CommittedAt,
		CancelledAt:     o.CancelledAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toSalesOrder(model *SalesOrderModel) *order.SalesOrder {
	items := make([]order.LineItem, len(model.Items))
	for i, item := range model.Items {
		items[i] = order.LineItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}

	refs := make([]order.ReservationRef, len(model.Reservations))
	for i, c := range model.Reservations {
		refs[i] = order.ReservationRef{ID: c.ID, ProductID: c.ProductID, Quantity: c.Quantity}
	}

	return &order.SalesOrder{
		ID:              model.ID,
		OrderNo:         model.OrderNo,
		CustomerID:      model.CustomerID,
		Items:           items,
		Status:          order.OrderStatus(model.Status),
		Notes:           model.Notes,
		Total:           model.Total,
		FailureReason:   model.FailureReason,
		Reservations:    refs,
		Version:         model.Version,
		CreatedAt:       model.CreatedAt,
		ValidatingAt:    model.ValidatingAt,
		ReservedAt:      model.ReservedAt,
		CommitStartedAt: model.CommitStartedAt,
		CommittedAt:     model.CommittedAt,
		CancelledAt:     model.CancelledAt,
		UpdatedAt:       model.UpdatedAt,
	}
}

func toReservationColumns(refs []order.ReservationRef) []reservationColumn {
	cols := make([]reservationColumn, len(refs))
	for i, ref := range refs {
		cols[i] = reservationColumn{ID: ref.ID, ProductID: ref.ProductID, Quantity: ref.Quantity}
	}
	return cols
}
