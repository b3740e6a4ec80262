package dto

// RegisterProductRequest HTTP商品上架请求
// 初始在库为0，入库通过restock调整
type RegisterProductRequest struct {
	Name             string `json:"name" binding:"required,max=200" example:"机械键盘"`
	SKU              string `json:"sku" binding:"required,max=64" example:"KB-001"`
	Price            int64  `json:"price" binding:"required,min=1,max=100000000" example:"39900"` // 价格(分)
	ReorderThreshold *int   `json:"reorder_threshold" binding:"omitempty,min=0" example:"5"`
}
