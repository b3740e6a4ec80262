//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiebiao/stockledger/pkg/jwt"
)

// TestOrderCompleteFlow 下单 → 预留 → 提交，流水与库存一致
func TestOrderCompleteFlow(t *testing.T) {
	base := baseURL(t)
	staff := IssueToken(t, 1, jwt.RoleStaff)
	customer := IssueToken(t, 1001, jwt.RoleCustomer)

	productID := SeedProduct(t, base, staff, 10)
	o := CreateOrder(t, base, customer, productID, 3)
	assert.Equal(t, int64(26700), o.Total)

	resp := Do(t, http.MethodPost, fmt.Sprintf("%s/orders/%d/reserve", base, o.ID), nil, customer)
	require.Equal(t, http.StatusOK, resp.Status, resp.Message)

	resp = Do(t, http.MethodPost, fmt.Sprintf("%s/orders/%d/commit", base, o.ID), nil, customer)
	require.Equal(t, http.StatusOK, resp.Status, resp.Message)

	resp = Do(t, http.MethodGet, fmt.Sprintf("%s/stock/%d", base, productID), nil, customer)
	var st StockData
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.Equal(t, StockData{OnHand: 7, Reserved: 0, Available: 7}, st)
}

// TestOrderConcurrency 并发预留防超卖
//
// 测试场景：
// - 库存10，20个订单各买1件，同时预留
// - 预期结果：10个reserved，10个因库存不足取消
//
// 技术要点：
// - 使用 sync.WaitGroup 等待所有goroutine完成
// - 每个商品一把行锁，预留检查和写入在同一事务内
func TestOrderConcurrency(t *testing.T) {
	base := baseURL(t)
	staff := IssueToken(t, 1, jwt.RoleStaff)
	customer := IssueToken(t, 1002, jwt.RoleCustomer)

	productID := SeedProduct(t, base, staff, 10)

	const concurrency = 20
	orders := make([]OrderData, concurrency)
	for i := range orders {
		orders[i] = CreateOrder(t, base, customer, productID, 1)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		reserved  int
		conflicts int
	)
	for _, o := range orders {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			resp := Do(t, http.MethodPost, fmt.Sprintf("%s/orders/%d/reserve", base, id), nil, customer)

			mu.Lock()
			defer mu.Unlock()
			switch resp.Status {
			case http.StatusOK:
				reserved++
			case http.StatusConflict:
				conflicts++
			default:
				t.Errorf("订单%d预留返回意外状态%d: %s", id, resp.Status, resp.Message)
			}
		}(o.ID)
	}
	wg.Wait()

	assert.Equal(t, 10, reserved, "预留成功数应该等于库存数")
	assert.Equal(t, 10, conflicts)

	resp := Do(t, http.MethodGet, fmt.Sprintf("%s/stock/%d", base, productID), nil, customer)
	var st StockData
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.Equal(t, StockData{OnHand: 10, Reserved: 10, Available: 0}, st)
}
