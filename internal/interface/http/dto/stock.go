package dto

import (
	"github.com/xiebiao/stockledger/internal/domain/alert"
	"github.com/xiebiao/stockledger/internal/domain/stock"
)

// AdjustStockRequest 人工调整/补货请求
// sale和cancellation_release只能由订单流程产生
type AdjustStockRequest struct {
	Delta  int    `json:"delta" binding:"required,min=-1000000,max=1000000" example:"50"`
	Reason string `json:"reason" binding:"required,oneof=manual_adjustment restock" example:"restock"`
}

// UpdateThresholdRequest 修改补货阈值
type UpdateThresholdRequest struct {
	ReorderThreshold *int `json:"reorder_threshold" binding:"required,min=0" example:"10"`
}

// StockResponse 库存记录视图
type StockResponse struct {
	ProductID        uint        `json:"product_id" example:"1"`
	OnHand           int         `json:"on_hand" example:"20"`
	Reserved         int         `json:"reserved" example:"3"`
	Available        int         `json:"available" example:"17"`
	ReorderThreshold int         `json:"reorder_threshold" example:"5"`
	LowStock         bool        `json:"low_stock" example:"false"`
	Level            alert.Level `json:"level" example:"in_stock"`
	Version          uint        `json:"version" example:"7"`
	UpdatedAt        string      `json:"updated_at" example:"2024-01-15 10:30:00"`
}

// NewStockResponse 库存记录转响应，level由同一快照推导
func NewStockResponse(rec *stock.Record) *StockResponse {
	st := alert.Evaluate(rec, rec.UpdatedAt)
	return &StockResponse{
		ProductID:        rec.ProductID,
		OnHand:           rec.OnHand,
		Reserved:         rec.Reserved,
		Available:        rec.Available(),
		ReorderThreshold: rec.ReorderThreshold,
		LowStock:         st.LowStock,
		Level:            st.Level,
		Version:          rec.Version,
		UpdatedAt:        FormatTime(rec.UpdatedAt),
	}
}

// MutationEntryResponse 库存流水
type MutationEntryResponse struct {
	ID              uint   `json:"id" example:"12"`
	ProductID       uint   `json:"product_id" example:"1"`
	Delta           int    `json:"delta" example:"-2"`
	Reason          string `json:"reason" example:"sale"`
	ResultingOnHand int    `json:"resulting_on_hand" example:"18"`
	Actor           string `json:"actor" example:"user:42"`
	OrderRef        string `json:"order_ref,omitempty" example:"SO1700000000123456"`
	CreatedAt       string `json:"created_at" example:"2024-01-15 10:30:00"`
}

// NewMutationEntryResponses 批量转换
func NewMutationEntryResponses(entries []*stock.MutationEntry) []MutationEntryResponse {
	list := make([]MutationEntryResponse, len(entries))
	for i, e := range entries {
		list[i] = MutationEntryResponse{
			ID:              e.ID,
			ProductID:       e.ProductID,
			Delta:           e.Delta,
			Reason:          e.Reason.String(),
			ResultingOnHand: e.ResultingOnHand,
			Actor:           e.Actor,
			OrderRef:        e.OrderRef,
			CreatedAt:       FormatTime(e.CreatedAt),
		}
	}
	return list
}

// HistoryResponse 完整审计流水
// up_to是调用时的流水上界，之后写入的流水不在本次结果中
type HistoryResponse struct {
	ProductID uint                    `json:"product_id" example:"1"`
	UpTo      uint                    `json:"up_to" example:"12"`
	Entries   []MutationEntryResponse `json:"entries"`
}

// AlertStatusResponse 低库存标记
type AlertStatusResponse struct {
	ProductID        uint        `json:"product_id" example:"3"`
	Level            alert.Level `json:"level" example:"low_stock"`
	OnHand           int         `json:"on_hand" example:"2"`
	Reserved         int         `json:"reserved" example:"0"`
	ReorderThreshold int         `json:"reorder_threshold" example:"5"`
	EvaluatedAt      string      `json:"evaluated_at" example:"2024-01-15 10:30:00"`
}

// NewAlertStatusResponses 批量转换
func NewAlertStatusResponses(list []alert.Status) []AlertStatusResponse {
	out := make([]AlertStatusResponse, len(list))
	for i, st := range list {
		out[i] = AlertStatusResponse{
			ProductID:        st.ProductID,
			Level:            st.Level,
			OnHand:           st.OnHand,
			Reserved:         st.Reserved,
			ReorderThreshold: st.Threshold,
			EvaluatedAt:      FormatTime(st.EvaluatedAt),
		}
	}
	return out
}
