// Package router 组装gin引擎：中间件、公开接口和/api/v1业务路由
//
// @title                       StockLedger API
// @version                     1.0
// @description                 库存账本与订单履约
// @BasePath                    /api/v1
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/interface/http/handler"
	"github.com/xiebiao/stockledger/internal/interface/http/middleware"
	"github.com/xiebiao/stockledger/pkg/response"
)

// Handlers 路由依赖的全部处理器
type Handlers struct {
	Order   *handler.OrderHandler
	Stock   *handler.StockHandler
	Product *handler.ProductHandler
	Alert   *handler.AlertHandler
}

// Options 引擎选项
type Options struct {
	Mode    string // debug | release | test
	Storage string // 健康检查中展示
	Swagger bool
}

// New 创建gin引擎并注册路由
//
// 教学要点：
// 1. 中间件顺序：Recovery → 日志 → 指标 → 链路追踪 → 认证
// 2. /ping、/metrics、/swagger不需要登录
// 3. 库存写操作和商品上架额外要求staff角色
func New(opts Options, logger *zap.Logger, auth *middleware.AuthMiddleware, h Handlers) *gin.Engine {
	switch opts.Mode {
	case gin.ReleaseMode, gin.TestMode, gin.DebugMode:
		gin.SetMode(opts.Mode)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestLogger(logger),
		middleware.Metrics(),
		middleware.Tracing(),
	)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{
			"message": "pong",
			"status":  "healthy",
			"storage": opts.Storage,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if opts.Swagger {
		// 访问 http://localhost:8080/swagger/index.html
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := r.Group("/api/v1")
	v1.Use(auth.RequireAuth())
	staff := auth.RequireStaff()

	orders := v1.Group("/orders")
	{
		orders.POST("", h.Order.CreateOrder)
		orders.GET("", h.Order.ListOrders)
		orders.GET("/:id", h.Order.GetOrder)
		orders.POST("/:id/reserve", h.Order.ReserveOrder)
		orders.POST("/:id/commit", h.Order.CommitOrder)
		orders.POST("/:id/cancel", h.Order.CancelOrder)
		orders.GET("/:id/entries", h.Order.GetOrderEntries)
	}

	stocks := v1.Group("/stock")
	{
		stocks.GET("/:product_id", h.Stock.GetStock)
		stocks.GET("/:product_id/history", h.Stock.GetHistory)
		stocks.POST("/:product_id/adjust", staff, h.Stock.AdjustStock)
		stocks.PUT("/:product_id/threshold", staff, h.Stock.UpdateThreshold)
	}

	v1.POST("/products", staff, h.Product.RegisterProduct)
	v1.GET("/alerts/low-stock", h.Alert.ListLowStock)

	return r
}
