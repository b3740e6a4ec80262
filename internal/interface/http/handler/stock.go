package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xiebiao/stockledger/internal/application/ledger"
	"github.com/xiebiao/stockledger/internal/domain/stock"
	"github.com/xiebiao/stockledger/internal/interface/http/dto"
	"github.com/xiebiao/stockledger/internal/interface/http/middleware"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
	"github.com/xiebiao/stockledger/pkg/response"
)

// StockHandler 库存账本HTTP处理器
type StockHandler struct {
	ledger *ledger.Service
}

// NewStockHandler 创建库存处理器
func NewStockHandler(ledger *ledger.Service) *StockHandler {
	return &StockHandler{ledger: ledger}
}

// AdjustStock 人工调整或补货入库
// @Summary      调整库存
// @Description  manual_adjustment可正可负，不能低于已预留量；restock只能为正。每次调整写一条流水
// @Tags         库存
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        product_id path int true "商品ID"
// @Param        request body dto.AdjustStockRequest true "调整量与原因"
// @Success      200 {object} response.Response{data=dto.MutationEntryResponse}
// @Failure      400 {object} response.Response "变更量方向与原因不符"
// @Failure      403 {object} response.Response "需要staff角色"
// @Failure      409 {object} response.Response "库存不足"
// @Router       /stock/{product_id}/adjust [post]
func (h *StockHandler) AdjustStock(c *gin.Context) {
	productID, ok := parseID(c, "product_id")
	if !ok {
		return
	}

	var req dto.AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrCodeInvalidParams, "参数错误: "+err.Error())
		return
	}
	reason, err := stock.ParseReason(req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	entry, err := h.ledger.Adjust(c.Request.Context(), stock.AdjustCommand{
		ProductID: productID,
		Delta:     req.Delta,
		Reason:    reason,
		Actor:     middleware.GetActor(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewMutationEntryResponses([]*stock.MutationEntry{entry})[0])
}

// GetStock 库存记录
// @Summary      库存详情
// @Tags         库存
// @Produce      json
// @Security     BearerAuth
// @Param        product_id path int true "商品ID"
// @Success      200 {object} response.Response{data=dto.StockResponse}
// @Failure      404 {object} response.Response "库存记录不存在"
// @Router       /stock/{product_id} [get]
func (h *StockHandler) GetStock(c *gin.Context) {
	productID, ok := parseID(c, "product_id")
	if !ok {
		return
	}

	rec, err := h.ledger.Stock(c.Request.Context(), productID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewStockResponse(rec))
}

// GetHistory 完整审计流水
// @Summary      库存流水
// @Description  按创建顺序返回调用时已提交的全部流水，各条delta之和等于当前在库
// @Tags         库存
// @Produce      json
// @Security     BearerAuth
// @Param        product_id path int true "商品ID"
// @Success      200 {object} response.Response{data=dto.HistoryResponse}
// @Router       /stock/{product_id}/history [get]
func (h *StockHandler) GetHistory(c *gin.Context) {
	productID, ok := parseID(c, "product_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	cursor, err := h.ledger.History(ctx, productID)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, err := cursor.Collect(ctx)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.HistoryResponse{
		ProductID: productID,
		UpTo:      cursor.UpTo(),
		Entries:   dto.NewMutationEntryResponses(entries),
	})
}

// UpdateThreshold 修改补货阈值
// @Summary      修改补货阈值
// @Description  只改阈值不改数量，不写流水；修改后立即重新评估低库存标记
// @Tags         库存
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        product_id path int true "商品ID"
// @Param        request body dto.UpdateThresholdRequest true "新阈值"
// @Success      200 {object} response.Response{data=dto.StockResponse}
// @Router       /stock/{product_id}/threshold [put]
func (h *StockHandler) UpdateThreshold(c *gin.Context) {
	productID, ok := parseID(c, "product_id")
	if !ok {
		return
	}

	var req dto.UpdateThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrCodeInvalidParams, "参数错误: "+err.Error())
		return
	}

	rec, err := h.ledger.SetReorderThreshold(c.Request.Context(), productID, *req.ReorderThreshold)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewStockResponse(rec))
}
