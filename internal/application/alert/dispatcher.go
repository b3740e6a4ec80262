package alert

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/alert"
	"github.com/xiebiao/stockledger/pkg/metrics"
)

// Dispatcher 异步投递水位变化通知
//
// Notify只做非阻塞入队，队列满时丢弃并计数，账本路径不会被外部系统拖慢。
// Start启动的goroutine逐条投递到所有Sink
type Dispatcher struct {
	queue          chan alert.Notification
	sinks          []alert.Sink
	logger         *zap.Logger
	deliverTimeout time.Duration

	wg sync.WaitGroup
}

// NewDispatcher 创建分发器
func NewDispatcher(size int, logger *zap.Logger, sinks ...alert.Sink) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:          make(chan alert.Notification, size),
		sinks:          sinks,
		logger:         logger.Named("alert.dispatcher"),
		deliverTimeout: 3 * time.Second,
	}
}

// Notify 入队，不阻塞
func (d *Dispatcher) Notify(n alert.Notification) {
	select {
	case d.queue <- n:
	default:
		metrics.AlertNotificationsTotal.WithLabelValues("queue", "dropped").Inc()
		d.logger.Warn("告警队列已满，丢弃通知",
			zap.Uint("product_id", n.Current.ProductID),
			zap.String("event", n.Event()),
		)
	}
}

// Start 启动投递goroutine，ctx取消后投递完队列中剩余通知再退出
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

// Wait 等待投递goroutine退出
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Pending 队列中待投递的通知数
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) drain() {
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(n alert.Notification) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.deliverTimeout)
		err := sink.Deliver(ctx, n)
		cancel()

		if err != nil {
			metrics.AlertNotificationsTotal.WithLabelValues(sink.Name(), "failure").Inc()
			d.logger.Error("告警投递失败",
				zap.String("sink", sink.Name()),
				zap.Uint("product_id", n.Current.ProductID),
				zap.String("event", n.Event()),
				zap.Error(err),
			)
			continue
		}
		metrics.AlertNotificationsTotal.WithLabelValues(sink.Name(), "success").Inc()
	}
}
