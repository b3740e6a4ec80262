package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiebiao/stockledger/internal/application/ledger"
	apporder "github.com/xiebiao/stockledger/internal/application/order"
	"github.com/xiebiao/stockledger/internal/domain/order"
	"github.com/xiebiao/stockledger/internal/interface/http/dto"
	"github.com/xiebiao/stockledger/internal/interface/http/middleware"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
	"github.com/xiebiao/stockledger/pkg/response"
)

const defaultCancelReason = "客户取消"

// OrderHandler 销售订单HTTP处理器
type OrderHandler struct {
	lifecycle         *apporder.LifecycleManager
	ledger            *ledger.Service
	validationTimeout time.Duration
}

// NewOrderHandler 创建订单处理器
// validationTimeout为校验并预留的整体期限，0表示不限
func NewOrderHandler(lifecycle *apporder.LifecycleManager, ledger *ledger.Service, validationTimeout time.Duration) *OrderHandler {
	return &OrderHandler{
		lifecycle:         lifecycle,
		ledger:            ledger,
		validationTimeout: validationTimeout,
	}
}

// CreateOrder 创建草稿订单
// @Summary      创建订单
// @Description  创建draft状态的订单，记录商品单价快照；此时不占用库存
// @Tags         订单
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body dto.CreateOrderRequest true "订单明细"
// @Success      201 {object} response.Response{data=dto.OrderResponse}
// @Failure      400 {object} response.Response "参数错误"
// @Failure      404 {object} response.Response "商品不存在"
// @Router       /orders [post]
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrCodeInvalidParams, "参数错误: "+err.Error())
		return
	}

	items := make([]apporder.CreateOrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = apporder.CreateOrderItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	o, err := h.lifecycle.Create(c.Request.Context(), apporder.CreateOrderRequest{
		CustomerID: middleware.GetUserID(c),
		Items:      items,
		Notes:      req.Notes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewOrderResponse(o))
}

// ReserveOrder 校验并预留库存
// @Summary      校验并预留
// @Description  draft → validating → reserved；任一商品库存不足则整单取消，已预留的全部释放
// @Tags         订单
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "订单ID"
// @Success      200 {object} response.Response{data=dto.OrderResponse}
// @Failure      409 {object} response.Response "库存不足（data带商品和缺口）或状态不允许"
// @Failure      504 {object} response.Response "校验超时，订单已取消"
// @Router       /orders/{id}/reserve [post]
func (h *OrderHandler) ReserveOrder(c *gin.Context) {
	id, ok := h.authorize(c)
	if !ok {
		return
	}

	o, err := h.lifecycle.ValidateWithDeadline(c.Request.Context(), id, h.validationTimeout)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewOrderResponse(o))
}

// CommitOrder 提交订单，预留转为销售出库
// @Summary      提交订单
// @Description  reserved → committed，每个商品写一条sale流水
// @Tags         订单
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "订单ID"
// @Success      200 {object} response.Response{data=dto.OrderResponse}
// @Failure      409 {object} response.Response "状态不允许"
// @Failure      500 {object} response.Response "部分提交失败，需人工介入"
// @Router       /orders/{id}/commit [post]
func (h *OrderHandler) CommitOrder(c *gin.Context) {
	id, ok := h.authorize(c)
	if !ok {
		return
	}

	o, err := h.lifecycle.Commit(c.Request.Context(), id, middleware.GetActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewOrderResponse(o))
}

// CancelOrder 取消订单
// @Summary      取消订单
// @Description  draft/validating/reserved → cancelled，持有的预留全部释放
// @Tags         订单
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "订单ID"
// @Param        request body dto.CancelOrderRequest false "取消原因"
// @Success      200 {object} response.Response{data=dto.OrderResponse}
// @Failure      409 {object} response.Response "已提交或已取消"
// @Router       /orders/{id}/cancel [post]
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	id, ok := h.authorize(c)
	if !ok {
		return
	}

	var req dto.CancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ErrorWithCode(c, apperrors.ErrCodeInvalidParams, "参数错误: "+err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = defaultCancelReason
	}

	o, err := h.lifecycle.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewOrderResponse(o))
}

// GetOrder 订单详情
// @Summary      订单详情
// @Tags         订单
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "订单ID"
// @Success      200 {object} response.Response{data=dto.OrderResponse}
// @Failure      404 {object} response.Response "订单不存在"
// @Router       /orders/{id} [get]
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	o, err := h.lifecycle.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !canAccess(c, o) {
		response.Error(c, order.ErrOrderNotFound)
		return
	}

	response.Success(c, dto.NewOrderResponse(o))
}

// ListOrders 当前用户的订单列表
// @Summary      我的订单
// @Tags         订单
// @Produce      json
// @Security     BearerAuth
// @Param        page query int false "页码" default(1)
// @Param        page_size query int false "每页数量" default(20)
// @Success      200 {object} response.Response{data=response.PageData{list=[]dto.OrderListItem}}
// @Router       /orders [get]
func (h *OrderHandler) ListOrders(c *gin.Context) {
	var req dto.ListOrdersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrCodeInvalidParams, "参数错误: "+err.Error())
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	orders, total, err := h.lifecycle.ListByCustomer(c.Request.Context(), middleware.GetUserID(c), req.Page, req.PageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithPage(c, dto.NewOrderListItems(orders), total, req.Page, req.PageSize)
}

// GetOrderEntries 订单产生的库存流水（开票、报表）
// @Summary      订单流水
// @Tags         订单
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "订单ID"
// @Success      200 {object} response.Response{data=[]dto.MutationEntryResponse}
// @Router       /orders/{id}/entries [get]
func (h *OrderHandler) GetOrderEntries(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	o, err := h.lifecycle.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !canAccess(c, o) {
		response.Error(c, order.ErrOrderNotFound)
		return
	}

	entries, err := h.ledger.EntriesForOrder(c.Request.Context(), o.OrderNo)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewMutationEntryResponses(entries))
}

// authorize 解析订单ID并确认当前用户有权操作
// 他人的订单按不存在处理，不暴露订单ID是否有效
func (h *OrderHandler) authorize(c *gin.Context) (uint, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return 0, false
	}
	if middleware.IsStaff(c) {
		return id, true
	}

	o, err := h.lifecycle.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return 0, false
	}
	if !canAccess(c, o) {
		response.Error(c, order.ErrOrderNotFound)
		return 0, false
	}
	return id, true
}

func canAccess(c *gin.Context, o *order.SalesOrder) bool {
	return middleware.IsStaff(c) || o.IsOwnedBy(middleware.GetUserID(c))
}

// parseID 解析路径中的正整数ID
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.ErrorWithCode(c, apperrors.ErrCodeInvalidParams, "无效的"+name)
		return 0, false
	}
	return uint(id), true
}
