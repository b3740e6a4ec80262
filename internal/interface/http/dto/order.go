package dto

import (
	"github.com/xiebiao/stockledger/internal/domain/order"
)

// CreateOrderRequest HTTP下单请求
// 同一商品出现多次时数量合并
type CreateOrderRequest struct {
	Items []OrderItemRequest `json:"items" binding:"required,min=1,max=100,dive"`
	Notes string             `json:"notes" binding:"max=500" example:"周五前送达"`
}

// OrderItemRequest 订单明细
type OrderItemRequest struct {
	ProductID uint `json:"product_id" binding:"required,min=1" example:"1"`
	Quantity  int  `json:"quantity" binding:"required,min=1,max=9999" example:"2"`
}

// CancelOrderRequest 取消订单请求
type CancelOrderRequest struct {
	Reason string `json:"reason" binding:"max=200" example:"客户取消"`
}

// ListOrdersRequest 订单列表请求
type ListOrdersRequest struct {
	Page     int `form:"page" binding:"omitempty,min=1" example:"1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100" example:"20"`
}

// OrderItemResponse 订单明细响应
type OrderItemResponse struct {
	ProductID uint   `json:"product_id" example:"1"`
	Quantity  int    `json:"quantity" example:"2"`
	UnitPrice int64  `json:"unit_price" example:"5900"` // 下单时单价(分)
	Subtotal  int64  `json:"subtotal" example:"11800"`
	PriceYuan string `json:"price_yuan" example:"59.00"`
}

// ReservationResponse 订单持有的预留
type ReservationResponse struct {
	ID        string `json:"id" example:"7f9c2ba4-e88f-11ee-a951-0242ac120002"`
	ProductID uint   `json:"product_id" example:"1"`
	Quantity  int    `json:"quantity" example:"2"`
}

// OrderResponse 订单详情
type OrderResponse struct {
	ID            uint                  `json:"id" example:"1"`
	OrderNo       string                `json:"order_no" example:"SO1700000000123456"`
	CustomerID    uint                  `json:"customer_id" example:"42"`
	Status        string                `json:"status" example:"reserved"`
	Items         []OrderItemResponse   `json:"items"`
	Reservations  []ReservationResponse `json:"reservations,omitempty"`
	Total         int64                 `json:"total" example:"11800"`
	TotalYuan     string                `json:"total_yuan" example:"118.00"`
	Notes         string                `json:"notes,omitempty"`
	FailureReason string                `json:"failure_reason,omitempty"`
	CreatedAt     string                `json:"created_at" example:"2024-01-15 10:30:00"`
	ReservedAt    string                `json:"reserved_at,omitempty"`
	CommittedAt   string                `json:"committed_at,omitempty"`
	CancelledAt   string                `json:"cancelled_at,omitempty"`
	UpdatedAt     string                `json:"updated_at" example:"2024-01-15 10:30:00"`
}

// NewOrderResponse 领域对象转响应
func NewOrderResponse(o *order.SalesOrder) *OrderResponse {
	items := make([]OrderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal(),
			PriceYuan: FormatYuan(it.UnitPrice),
		}
	}

	var refs []ReservationResponse
	for _, r := range o.Reservations {
		refs = append(refs, ReservationResponse{ID: r.ID, ProductID: r.ProductID, Quantity: r.Quantity})
	}

	return &OrderResponse{
		ID:            o.ID,
		OrderNo:       o.OrderNo,
		CustomerID:    o.CustomerID,
		Status:        o.Status.String(),
		Items:         items,
		Reservations:  refs,
		Total:         o.Total,
		TotalYuan:     FormatYuan(o.Total),
		Notes:         o.Notes,
		FailureReason: o.FailureReason,
		CreatedAt:     FormatTime(o.CreatedAt),
		ReservedAt:    FormatTimePtr(o.ReservedAt),
		CommittedAt:   FormatTimePtr(o.CommittedAt),
		CancelledAt:   FormatTimePtr(o.CancelledAt),
		UpdatedAt:     FormatTime(o.UpdatedAt),
	}
}

// OrderListItem 订单列表项（不含明细）
type OrderListItem struct {
	ID        uint   `json:"id" example:"1"`
	OrderNo   string `json:"order_no" example:"SO1700000000123456"`
	Status    string `json:"status" example:"committed"`
	ItemCount int    `json:"item_count" example:"2"`
	Total     int64  `json:"total" example:"11800"`
	TotalYuan string `json:"total_yuan" example:"118.00"`
	CreatedAt string `json:"created_at" example:"2024-01-15 10:30:00"`
}

// NewOrderListItems 批量转换
func NewOrderListItems(orders []*order.SalesOrder) []OrderListItem {
	list := make([]OrderListItem, len(orders))
	for i, o := range orders {
		list[i] = OrderListItem{
			ID:        o.ID,
			OrderNo:   o.OrderNo,
			Status:    o.Status.String(),
			ItemCount: len(o.Items),
			Total:     o.Total,
			TotalYuan: FormatYuan(o.Total),
			CreatedAt: FormatTime(o.CreatedAt),
		}
	}
	return list
}
