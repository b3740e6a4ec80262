package messaging

import (
	"context"
	"time"

	"github.com/xiebiao/stockledger/internal/domain/alert"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

// Publisher 消息发布接口，*mq.Publisher实现
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message interface{}) error
}

// StockLevelEvent 发到消息队列的水位事件
// routing key即Event字段：stock.low / stock.recovered / stock.level_changed
type StockLevelEvent struct {
	Event            string      `json:"event"`
	ProductID        uint        `json:"product_id"`
	PreviousLevel    alert.Level `json:"previous_level,omitempty"`
	Level            alert.Level `json:"level"`
	OnHand           int         `json:"on_hand"`
	Reserved         int         `json:"reserved"`
	ReorderThreshold int         `json:"reorder_threshold"`
	Version          uint        `json:"version"`
	OccurredAt       time.Time   `json:"occurred_at"`
}

// NewStockLevelEvent 由告警通知构造事件
func NewStockLevelEvent(n alert.Notification) StockLevelEvent {
	return StockLevelEvent{
		Event:            n.Event(),
		ProductID:        n.Current.ProductID,
		PreviousLevel:    n.Previous,
		Level:            n.Current.Level,
		OnHand:           n.Current.OnHand,
		Reserved:         n.Current.Reserved,
		ReorderThreshold: n.Current.Threshold,
		Version:          n.Current.Version,
		OccurredAt:       n.Current.EvaluatedAt,
	}
}

// AlertPublisher 把水位变化发布到RabbitMQ，采购等下游服务按routing key订阅
type AlertPublisher struct {
	publisher Publisher
}

// NewAlertPublisher 创建告警发布者
func NewAlertPublisher(publisher Publisher) *AlertPublisher {
	return &AlertPublisher{publisher: publisher}
}

// Name 实现alert.Sink
func (p *AlertPublisher) Name() string {
	return "rabbitmq"
}

// Deliver 实现alert.Sink
func (p *AlertPublisher) Deliver(ctx context.Context, n alert.Notification) error {
	ev := NewStockLevelEvent(n)
	if err := p.publisher.Publish(ctx, ev.Event, ev); err != nil {
		return apperrors.Wrapf(err, "发布水位事件失败: product=%d event=%s", ev.ProductID, ev.Event)
	}
	return nil
}
