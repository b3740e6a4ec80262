package handler

import (
	"github.com/gin-gonic/gin"

	appproduct "github.com/xiebiao/stockledger/internal/application/product"
	"github.com/xiebiao/stockledger/internal/interface/http/dto"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
	"github.com/xiebiao/stockledger/pkg/response"
)

// ProductHandler 商品HTTP处理器
type ProductHandler struct {
	registerProductUseCase *appproduct.RegisterProductUseCase
}

// NewProductHandler 创建商品处理器
func NewProductHandler(registerProductUseCase *appproduct.RegisterProductUseCase) *ProductHandler {
	return &ProductHandler{registerProductUseCase: registerProductUseCase}
}

// RegisterProduct 商品上架
// @Summary      商品上架
// @Description  登记商品并建立在库为0的库存记录，入库请调用restock
// @Tags         商品
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body dto.RegisterProductRequest true "商品信息"
// @Success      201 {object} response.Response{data=appproduct.RegisterProductResponse}
// @Failure      409 {object} response.Response "SKU已存在"
// @Router       /products [post]
func (h *ProductHandler) RegisterProduct(c *gin.Context) {
	var req dto.RegisterProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrCodeInvalidParams, "参数错误: "+err.Error())
		return
	}

	result, err := h.registerProductUseCase.Execute(c.Request.Context(), appproduct.RegisterProductRequest{
		Name:             req.Name,
		SKU:              req.SKU,
		Price:            req.Price,
		ReorderThreshold: req.ReorderThreshold,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}
