//go:build integration

package redis

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/alert"
)

// 运行：STOCKLEDGER_TEST_REDIS=127.0.0.1:6379 go test -tags integration ./internal/infrastructure/persistence/redis/
func setupMirror(t *testing.T) *AlertMirror {
	addr := os.Getenv("STOCKLEDGER_TEST_REDIS")
	if addr == "" {
		t.Skip("未设置STOCKLEDGER_TEST_REDIS，跳过Redis集成测试")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return NewAlertMirror(client, zap.NewNop())
}

func TestAlertMirror_Integration_LowAndRecovered(t *testing.T) {
	m := setupMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Deliver(ctx, lowNotification(7, 3)))
	require.NoError(t, m.Deliver(ctx, lowNotification(3, 2)))

	ids, err := m.LowStockProductIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{3, 7}, ids)

	recovered := alert.Notification{
		Previous: alert.LevelLowStock,
		Current:  alert.Status{ProductID: 7, Level: alert.LevelInStock, OnHand: 20, Threshold: 5, Version: 4},
	}
	require.NoError(t, m.Deliver(ctx, recovered))

	ids, err = m.LowStockProductIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{3}, ids)

	st, ok, err := m.Status(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alert.LevelInStock, st.Level)
	assert.Equal(t, uint(4), st.Version)
}

func TestAlertMirror_Integration_StaleVersionIgnored(t *testing.T) {
	m := setupMirror(t)
	ctx := context.Background()

	recovered := alert.Notification{
		Previous: alert.LevelLowStock,
		Current:  alert.Status{ProductID: 9, Level: alert.LevelInStock, OnHand: 20, Version: 6},
	}
	require.NoError(t, m.Deliver(ctx, recovered))
	// 迟到的旧版本
	require.NoError(t, m.Deliver(ctx, lowNotification(9, 5)))

	ids, err := m.LowStockProductIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	st, ok, err := m.Status(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint(6), st.Version)

	_, ok, err = m.Status(ctx, 404)
	require.NoError(t, err)
	assert.False(t, ok)
}
