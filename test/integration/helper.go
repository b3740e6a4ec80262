//go:build integration

// Package integration 针对运行中服务的端到端测试
//
// 运行方式：
//
//	STOCKLEDGER_E2E_URL=http://localhost:8080 go test -tags integration ./test/integration/...
//
// Token用与服务相同的JWT密钥本地签发（STOCKLEDGER_JWT_SECRET，默认取配置文件默认值）
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiebiao/stockledger/pkg/jwt"
)

// Timeout HTTP请求超时时间
const Timeout = 10 * time.Second

// Response 统一响应结构
type Response struct {
	Status  int             `json:"-"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// OrderData 订单响应数据
type OrderData struct {
	ID      uint   `json:"id"`
	OrderNo string `json:"order_no"`
	Status  string `json:"status"`
	Total   int64  `json:"total"`
}

// StockData 库存响应数据
type StockData struct {
	OnHand    int `json:"on_hand"`
	Reserved  int `json:"reserved"`
	Available int `json:"available"`
}

// baseURL 未配置时跳过测试
func baseURL(t *testing.T) string {
	url := os.Getenv("STOCKLEDGER_E2E_URL")
	if url == "" {
		t.Skip("STOCKLEDGER_E2E_URL未设置，跳过端到端测试")
	}
	return url + "/api/v1"
}

// IssueToken 本地签发测试Token
func IssueToken(t *testing.T, userID uint, role string) string {
	secret := os.Getenv("STOCKLEDGER_JWT_SECRET")
	if secret == "" {
		secret = "your-secret-key-change-in-production"
	}
	tok, err := jwt.NewManager(secret, time.Hour).GenerateToken(userID, fmt.Sprintf("e2e-%d", userID), role)
	require.NoError(t, err)
	return tok.AccessToken
}

// Do 发送请求并解析JSON响应
//
// 教学说明：
// - 使用require断言，基础设施失败立即终止当前测试
// - 返回*Response而非error，简化调用方代码
func Do(t *testing.T, method, url string, data interface{}, token string) *Response {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		require.NoError(t, err, "JSON序列化失败")
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err, "创建HTTP请求失败")

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: Timeout}
	resp, err := client.Do(req)
	require.NoError(t, err, "发送HTTP请求失败")
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "读取响应体失败")

	result := Response{Status: resp.StatusCode}
	require.NoError(t, json.Unmarshal(raw, &result), "解析JSON响应失败: %s", string(raw))
	return &result
}

// SeedProduct 上架商品并补货，返回商品ID
func SeedProduct(t *testing.T, base, staffToken string, onHand int) uint {
	sku := fmt.Sprintf("E2E-%d", time.Now().UnixNano())
	resp := Do(t, http.MethodPost, base+"/products", map[string]interface{}{
		"name":  "端到端测试商品",
		"sku":   sku,
		"price": 8900,
	}, staffToken)
	require.Equal(t, http.StatusCreated, resp.Status, "商品上架失败: %s", resp.Message)

	var p struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &p))

	resp = Do(t, http.MethodPost, fmt.Sprintf("%s/stock/%d/adjust", base, p.ID), map[string]interface{}{
		"delta":  onHand,
		"reason": "restock",
	}, staffToken)
	require.Equal(t, http.StatusOK, resp.Status, "补货失败: %s", resp.Message)
	return p.ID
}

// CreateOrder 创建单商品订单
func CreateOrder(t *testing.T, base, token string, productID uint, quantity int) OrderData {
	resp := Do(t, http.MethodPost, base+"/orders", map[string]interface{}{
		"items": []map[string]interface{}{{"product_id": productID, "quantity": quantity}},
	}, token)
	require.Equal(t, http.StatusCreated, resp.Status, "创建订单失败: %s", resp.Message)

	var o OrderData
	require.NoError(t, json.Unmarshal(resp.Data, &o))
	return o
}
