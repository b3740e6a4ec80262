// Package metrics 提供基于Prometheus的指标
//
// # 核心概念
//
//   - Counter：只增不减的累计值（流水条数、预留次数）
//   - Gauge：可增可减的瞬时值（当前低库存商品数、熔断器状态）
//   - Histogram：观测值的分布（账本操作耗时）
//
// # 使用方式
//
// 指标在包初始化时创建但不注册，启动时调用一次Register：
//
//	metrics.MustRegister(prometheus.DefaultRegisterer)
//	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
//
// 未注册时指标照常计数，只是不会被抓取，单元测试无需任何初始化
//
// # 命名规范
//
//  1. Counter以_total结尾
//  2. Histogram以单位结尾（_seconds）
//  3. 标签只用有限取值（reason、result、op），不用product_id、order_no
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP请求相关指标

	// HTTPRequestsTotal HTTP请求总数
	// 标签：method、path（路由模板）、status
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration HTTP请求耗时
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP请求耗时（秒）",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInProgress 正在处理的HTTP请求数
	HTTPRequestsInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_progress",
			Help: "正在处理的HTTP请求数",
		},
	)

	// 账本指标

	// LedgerMutationsTotal 写入的库存流水数
	// 标签：reason（sale/manual_adjustment/restock/cancellation_release）
	LedgerMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_mutations_total",
			Help: "库存流水写入总数",
		},
		[]string{"reason"},
	)

	// LedgerReservationsTotal 预留操作次数
	// 标签：result（reserved/insufficient/released/committed/error）
	LedgerReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_reservations_total",
			Help: "库存预留操作总数",
		},
		[]string{"result"},
	)

	// LedgerOperationDuration 账本原子操作耗时（含等待行锁）
	// 标签：op（adjust/reserve/release/commit）
	LedgerOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "账本操作耗时（秒）",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"op"},
	)

	// 订单指标

	// OrderTransitionsTotal 订单状态转换次数
	// 标签：to（目标状态）
	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "订单状态转换总数",
		},
		[]string{"to"},
	)

	// FulfillmentInconsistenciesTotal 批量提交部分失败次数，非0即需要人工介入
	FulfillmentInconsistenciesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_inconsistencies_total",
			Help: "订单部分提交失败总数",
		},
	)

	// SagaCompensationsTotal 批量预留失败触发的补偿次数
	SagaCompensationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_compensations_total",
			Help: "批量预留补偿总数",
		},
	)

	// 告警指标

	// LowStockProducts 当前处于低库存的商品数
	LowStockProducts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "low_stock_products",
			Help: "当前低库存商品数",
		},
	)

	// AlertNotificationsTotal 告警通知投递次数
	// 标签：sink（redis/rabbitmq）、result（success/failure/dropped）
	AlertNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_notifications_total",
			Help: "低库存告警通知投递总数",
		},
		[]string{"sink", "result"},
	)

	// 熔断器指标

	// CircuitBreakerState 熔断器状态（0=CLOSED, 1=OPEN, 2=HALF_OPEN）
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "熔断器状态（0=CLOSED, 1=OPEN, 2=HALF_OPEN）",
		},
		[]string{"name"},
	)

	// CircuitBreakerRequests 熔断器请求总数
	// 标签：name、result（success/failure/rejected）
	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "熔断器请求总数",
		},
		[]string{"name", "result"},
	)

	// 消息队列指标

	// MessagesPublishedTotal 消息发布总数
	// 标签：exchange、routing_key
	MessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_published_total",
			Help: "消息发布总数",
		},
		[]string{"exchange", "routing_key"},
	)
)

// collectors 所有需要注册的指标
func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRequestsInProgress,
		LedgerMutationsTotal,
		LedgerReservationsTotal,
		LedgerOperationDuration,
		OrderTransitionsTotal,
		FulfillmentInconsistenciesTotal,
		SagaCompensationsTotal,
		LowStockProducts,
		AlertNotificationsTotal,
		CircuitBreakerState,
		CircuitBreakerRequests,
		MessagesPublishedTotal,
	}
}

var registerOnce sync.Once

// Register 把所有指标注册到reg，已注册的指标报错返回
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister 注册到reg，进程内只执行一次
func MustRegister(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(collectors()...)
	})
}

// ObserveLedgerOp 记录一次账本操作耗时
//
//	defer metrics.ObserveLedgerOp("reserve", time.Now())
func ObserveLedgerOp(op string, start time.Time) {
	LedgerOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// IncCounter 递增Counter
func IncCounter(counter prometheus.Counter) {
	counter.Inc()
}

// IncCounterVec 递增CounterVec（带标签）
func IncCounterVec(counter *prometheus.CounterVec, labels map[string]string) {
	counter.With(labels).Inc()
}

// SetGauge 设置Gauge值
func SetGauge(gauge prometheus.Gauge, value float64) {
	gauge.Set(value)
}

// SetGaugeVec 设置GaugeVec值（带标签）
func SetGaugeVec(gauge *prometheus.GaugeVec, labels map[string]string, value float64) {
	gauge.With(labels).Set(value)
}

// ObserveHistogramVec 记录HistogramVec观测值（带标签）
func ObserveHistogramVec(histogram *prometheus.HistogramVec, labels map[string]string, value float64) {
	histogram.With(labels).Observe(value)
}
