package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/alert"
	"github.com/xiebiao/stockledger/pkg/circuitbreaker"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
	"github.com/xiebiao/stockledger/pkg/metrics"
)

//go:embed mirror_status.lua
var mirrorStatusLua string

var mirrorStatusScript = redis.NewScript(mirrorStatusLua)

const (
	lowStockSetKey = "stock:low"
	levelKeyPrefix = "stock:level:"
)

// AlertMirror 把低库存状态镜像到Redis，供其他服务直接读取
//
// 教学要点：
// 1. Key设计
//   - stock:low：当前低库存商品ID集合
//   - stock:level:{product_id}：Hash，version + status(JSON)
//
// 2. Lua脚本按version比较后写入，多实例乱序投递时旧状态不会覆盖新状态
// 3. 调用包在熔断器里，Redis不可用时快速失败，不拖慢告警投递队列
// 4. 镜像只是派生数据，权威状态在进程内的告警评估器
type AlertMirror struct {
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewAlertMirror 创建镜像
func NewAlertMirror(client *redis.Client, logger *zap.Logger) *AlertMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &AlertMirror{
		client:  client,
		breaker: circuitbreaker.NewCircuitBreaker("redis-alert-mirror", circuitbreaker.Config{}),
		logger:  logger.Named("redis.mirror"),
	}
	m.breaker.SetStateChangeCallback(m.onBreakerStateChange)
	metrics.CircuitBreakerState.WithLabelValues(m.breaker.Name()).Set(float64(circuitbreaker.StateClosed))
	return m
}

// Name 实现alert.Sink
func (m *AlertMirror) Name() string {
	return "redis"
}

// Deliver 实现alert.Sink
func (m *AlertMirror) Deliver(ctx context.Context, n alert.Notification) error {
	payload, err := json.Marshal(n.Current)
	if err != nil {
		return apperrors.Wrap(err, "序列化告警状态失败")
	}

	low := "0"
	if n.Current.LowStock {
		low = "1"
	}
	keys := []string{levelKey(n.Current.ProductID), lowStockSetKey}
	args := []interface{}{n.Current.Version, payload, low, n.Current.ProductID}

	err = m.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		applied, err := mirrorStatusScript.Run(ctx, m.client, keys, args...).Int()
		if err != nil {
			return err
		}
		if applied == 0 {
			m.logger.Debug("镜像已有更新版本，忽略",
				zap.Uint("product_id", n.Current.ProductID),
				zap.Uint("version", n.Current.Version),
			)
		}
		return nil
	})

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(m.breaker.Name(), "success").Inc()
		return nil
	case errors.Is(err, circuitbreaker.ErrOpenState):
		metrics.CircuitBreakerRequests.WithLabelValues(m.breaker.Name(), "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(m.breaker.Name(), "failure").Inc()
	}
	return apperrors.WithCode(apperrors.ErrCodeRedisError, err, "写入低库存镜像失败")
}

// LowStockProductIDs 读取镜像中的低库存商品，升序
func (m *AlertMirror) LowStockProductIDs(ctx context.Context) ([]uint, error) {
	members, err := m.client.SMembers(ctx, lowStockSetKey).Result()
	if err != nil {
		return nil, apperrors.WithCode(apperrors.ErrCodeRedisError, err, "读取低库存集合失败")
	}

	ids := make([]uint, 0, len(members))
	for _, s := range members {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("低库存集合中有非法成员%q: %w", s, err)
		}
		ids = append(ids, uint(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Status 读取单个商品的镜像状态，不存在返回false
func (m *AlertMirror) Status(ctx context.Context, productID uint) (alert.Status, bool, error) {
	raw, err := m.client.HGet(ctx, levelKey(productID), "status").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return alert.Status{}, false, nil
		}
		return alert.Status{}, false, apperrors.WithCode(apperrors.ErrCodeRedisError, err, "读取水位镜像失败")
	}

	var st alert.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return alert.Status{}, false, fmt.Errorf("解析水位镜像失败: %w", err)
	}
	return st, true, nil
}

// BreakerState 熔断器当前状态
func (m *AlertMirror) BreakerState() circuitbreaker.State {
	return m.breaker.State()
}

func (m *AlertMirror) onBreakerStateChange(name string, from, to circuitbreaker.State) {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	m.logger.Warn("熔断器状态变化",
		zap.String("breaker", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func levelKey(productID uint) string {
	return levelKeyPrefix + strconv.FormatUint(uint64(productID), 10)
}
