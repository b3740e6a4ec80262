package order

import (
	"context"
)

// Repository 订单仓储接口(依赖倒置原则)
// 教学要点:
// 1. 由domain层定义接口,infrastructure层实现
// 2. Update是比较并交换:只有存储中的Version等于order.Version时才写入,
//    成功后order.Version递增;否则返回ErrConcurrentModification
type Repository interface {
	// Create 创建订单(包含明细)
	Create(ctx context.Context, order *SalesOrder) error

	// FindByID 根据ID查找订单
	FindByID(ctx context.Context, id uint) (*SalesOrder, error)

	// FindByOrderNo 根据订单号查找订单
	FindByOrderNo(ctx context.Context, orderNo string) (*SalesOrder, error)

	// Update 按版本号更新订单状态
	Update(ctx context.Context, order *SalesOrder) error

	// ListByCustomer 分页查询客户订单,按创建时间倒序
	ListByCustomer(ctx context.Context, customerID uint, page, pageSize int) ([]*SalesOrder, int64, error)
}
