package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/alert"
	"github.com/xiebiao/stockledger/pkg/circuitbreaker"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

func lowNotification(productID uint, version uint) alert.Notification {
	return alert.Notification{
		Previous: alert.LevelInStock,
		Current: alert.Status{
			ProductID: productID,
			LowStock:  true,
			Level:     alert.LevelLowStock,
			OnHand:    2,
			Threshold: 5,
			Version:   version,
		},
	}
}

// 指向一个不监听的端口，连接立即被拒绝
func unreachableClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLevelKey(t *testing.T) {
	assert.Equal(t, "stock:level:42", levelKey(42))
}

func TestAlertMirror_BreakerOpensWhenRedisDown(t *testing.T) {
	m := NewAlertMirror(unreachableClient(t), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := m.Deliver(ctx, lowNotification(1, uint(i+2)))
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeRedisError, apperrors.GetAppError(err).Code)
	}
	require.Equal(t, circuitbreaker.StateOpen, m.BreakerState())

	err := m.Deliver(ctx, lowNotification(1, 10))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpenState)
}

func TestAlertMirror_CancelledContextDoesNotTrip(t *testing.T) {
	m := NewAlertMirror(unreachableClient(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, m.Deliver(ctx, lowNotification(1, 2)), context.Canceled)
	}
	assert.Equal(t, circuitbreaker.StateClosed, m.BreakerState())
}

func TestAlertMirror_ImplementsSink(t *testing.T) {
	var sink alert.Sink = NewAlertMirror(unreachableClient(t), nil)
	assert.Equal(t, "redis", sink.Name())
}
