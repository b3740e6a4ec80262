package handler

import (
	"github.com/gin-gonic/gin"

	appalert "github.com/xiebiao/stockledger/internal/application/alert"
	"github.com/xiebiao/stockledger/internal/interface/http/dto"
	"github.com/xiebiao/stockledger/pkg/response"
)

// AlertHandler 低库存标记（只读）
type AlertHandler struct {
	evaluator *appalert.Evaluator
}

// NewAlertHandler 创建告警处理器
func NewAlertHandler(evaluator *appalert.Evaluator) *AlertHandler {
	return &AlertHandler{evaluator: evaluator}
}

// ListLowStock 当前低库存商品
// @Summary      低库存列表
// @Description  在库<=补货阈值的商品，按商品ID升序；每次库存变更后同步更新
// @Tags         告警
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} response.Response{data=[]dto.AlertStatusResponse}
// @Router       /alerts/low-stock [get]
func (h *AlertHandler) ListLowStock(c *gin.Context) {
	response.Success(c, dto.NewAlertStatusResponses(h.evaluator.LowStockProducts()))
}
