package order

import (
	"fmt"
	"math/rand"
	"time"
)

// GenerateOrderNo 生成销售订单号
// 格式:SO + 时间戳(秒) + 6位随机数,例如 SO1699248000123456
// 订单号同时作为库存流水的order_ref
func GenerateOrderNo() string {
	return fmt.Sprintf("SO%d%06d", time.Now().Unix(), rand.Intn(1000000))
}
