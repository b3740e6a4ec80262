package order

import (
	"time"
)

// OrderStatus 订单状态
// 教学要点:
// 1. 使用int类型存储,String()输出稳定的英文名(日志、接口、指标标签共用)
// 2. 状态值按流转方向递增
type OrderStatus int

const (
	OrderStatusDraft      OrderStatus = 1 // 草稿
	OrderStatusValidating OrderStatus = 2 // 校验并预留中
	OrderStatusReserved   OrderStatus = 3 // 已预留
	OrderStatusCommitted  OrderStatus = 4 // 已提交(终态)
	OrderStatusCancelled  OrderStatus = 5 // 已取消(终态)
)

// String 实现Stringer接口
func (s OrderStatus) String() string {
	switch s {
	case OrderStatusDraft:
		return "draft"
	case OrderStatusValidating:
		return "validating"
	case OrderStatusReserved:
		return "reserved"
	case OrderStatusCommitted:
		return "committed"
	case OrderStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal 是否终态
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCommitted || s == OrderStatusCancelled
}

// transitions 合法的状态转换
// committed和cancelled没有出边
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:      {OrderStatusValidating, OrderStatusCancelled},
	OrderStatusValidating: {OrderStatusReserved, OrderStatusCancelled},
	OrderStatusReserved:   {OrderStatusCommitted, OrderStatusCancelled},
	OrderStatusCommitted:  {},
	OrderStatusCancelled:  {},
}

// SalesOrder 销售订单(聚合根)
// 教学要点:
// 1. LineItem是子实体,只能通过订单访问
// 2. UnitPrice/Total是下单时的价格快照
// 3. Reservations记录已持有的预留句柄,只在reserved状态非空
// 4. Version用于乐观并发控制,仓储Update时比较并递增
type SalesOrder struct {
	ID            uint
	OrderNo       string // 订单号(业务主键),作为库存流水的order_ref
	CustomerID    uint
	Items         []LineItem
	Status        OrderStatus
	Notes         string
	Total         int64  // 订单总金额(分)
	FailureReason string // 取消原因
	Reservations  []ReservationRef
	Version       uint

	CreatedAt       time.Time
	ValidatingAt    *time.Time
	ReservedAt      *time.Time
	CommitStartedAt *time.Time // 非空表示提交进行中（或部分提交失败待人工处理）
	CommittedAt     *time.Time
	CancelledAt     *time.Time
	UpdatedAt       time.Time
}

// LineItem 订单明细
type LineItem struct {
	ProductID uint
	Quantity  int
	UnitPrice int64 // 下单时单价(分)
}

// Subtotal 小计
func (i LineItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// ReservationRef 订单持有的预留句柄引用
type ReservationRef struct {
	ID        string `json:"id"`
	ProductID uint   `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// NewSalesOrder 创建草稿订单(工厂方法)
// 同一商品出现多次时合并数量,单价取第一次出现的值
func NewSalesOrder(orderNo string, customerID uint, items []LineItem, notes string, now time.Time) (*SalesOrder, error) {
	if len(items) == 0 {
		return nil, ErrInvalidOrderItems
	}
	for _, item := range items {
		if item.ProductID == 0 {
			return nil, &ValidationError{Field: "product_id", Reason: "商品ID不能为空"}
		}
		if item.Quantity <= 0 {
			return nil, &ValidationError{Field: "quantity", ProductID: item.ProductID, Reason: "购买数量必须大于0"}
		}
	}

	o := &SalesOrder{
		OrderNo:    orderNo,
		CustomerID: customerID,
		Items:      MergeItems(items),
		Status:     OrderStatusDraft,
		Notes:      notes,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.Total = o.CalculateTotal()
	return o, nil
}

// MergeItems 合并重复商品,保持首次出现的顺序
func MergeItems(items []LineItem) []LineItem {
	index := make(map[uint]int, len(items))
	merged := make([]LineItem, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

// CanTransitionTo 检查是否可以转换到目标状态
func (o *SalesOrder) CanTransitionTo(target OrderStatus) bool {
	for _, allowed := range transitions[o.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// TransitionTo 状态转换,记录对应时间戳
func (o *SalesOrder) TransitionTo(target OrderStatus, now time.Time) error {
	if !o.CanTransitionTo(target) {
		return &InvalidTransitionError{OrderNo: o.OrderNo, From: o.Status, To: target}
	}
	o.Status = target
	o.UpdatedAt = now
	t := now
	switch target {
	case OrderStatusValidating:
		o.ValidatingAt = &t
	case OrderStatusReserved:
		o.ReservedAt = &t
	case OrderStatusCommitted:
		o.CommittedAt = &t
	case OrderStatusCancelled:
		o.CancelledAt = &t
	}
	return nil
}

// StartValidation draft → validating
func (o *SalesOrder) StartValidation(now time.Time) error {
	return o.TransitionTo(OrderStatusValidating, now)
}

// MarkReserved validating → reserved,记录预留句柄
func (o *SalesOrder) MarkReserved(refs []ReservationRef, now time.Time) error {
	if err := o.TransitionTo(OrderStatusReserved, now); err != nil {
		return err
	}
	o.Reservations = refs
	return nil
}

// BeginCommit 标记提交开始(状态仍为reserved)
// 仓储按版本号写入后,并发的Cancel会因版本不匹配或看到标记而失败
func (o *SalesOrder) BeginCommit(now time.Time) error {
	if o.Status != OrderStatusReserved || o.CommitStartedAt != nil {
		return &InvalidTransitionError{OrderNo: o.OrderNo, From: o.Status, To: OrderStatusCommitted, Reason: o.blockReason()}
	}
	t := now
	o.CommitStartedAt = &t
	o.UpdatedAt = now
	return nil
}

// AbortCommit 一个预留都没提交成功时撤销标记,订单可以重试提交或取消
func (o *SalesOrder) AbortCommit(now time.Time) {
	o.CommitStartedAt = nil
	o.UpdatedAt = now
}

// MarkCommitted reserved → committed
// 预留已全部转为扣减,句柄列表保留作为记录
func (o *SalesOrder) MarkCommitted(now time.Time) error {
	return o.TransitionTo(OrderStatusCommitted, now)
}

// Cancel 取消订单,reason记录失败或撤单原因
// 提交已开始的订单不能取消
func (o *SalesOrder) Cancel(reason string, now time.Time) error {
	if o.CommitStartedAt != nil {
		return &InvalidTransitionError{OrderNo: o.OrderNo, From: o.Status, To: OrderStatusCancelled, Reason: o.blockReason()}
	}
	if err := o.TransitionTo(OrderStatusCancelled, now); err != nil {
		return err
	}
	o.FailureReason = reason
	return nil
}

func (o *SalesOrder) blockReason() string {
	if o.CommitStartedAt != nil && o.Status == OrderStatusReserved {
		return "订单提交进行中"
	}
	return ""
}

// HasReservations 是否持有预留
func (o *SalesOrder) HasReservations() bool {
	return len(o.Reservations) > 0
}

// CalculateTotal 根据明细计算总金额
func (o *SalesOrder) CalculateTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Subtotal()
	}
	return total
}

// IsOwnedBy 检查订单是否属于指定客户
func (o *SalesOrder) IsOwnedBy(customerID uint) bool {
	return o.CustomerID == customerID
}

// Clone 深拷贝(内存仓储使用)
func (o *SalesOrder) Clone() *SalesOrder {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	c.Reservations = append([]ReservationRef(nil), o.Reservations...)
	c.ValidatingAt = cloneTime(o.ValidatingAt)
	c.ReservedAt = cloneTime(o.ReservedAt)
	c.CommitStartedAt = cloneTime(o.CommitStartedAt)
	c.CommittedAt = cloneTime(o.CommittedAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
