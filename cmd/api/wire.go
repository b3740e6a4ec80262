//go:build wireinject
// +build wireinject

// Wire依赖注入配置文件
//
// 教学说明：
// 1. Wire在编译期生成依赖创建代码，零运行时开销
// 2. 本文件只在wireinject标签下编译，运行 `wire gen ./cmd/api` 生成wire_gen.go
// 3. 依赖图与main.go中的buildApp一致，Provider全部定义在app.go
//
// 核心概念：
// - Provider: 提供依赖的构造函数（如newLedgerService）
// - Injector: 声明最终要构造的目标类型（*App）
// - 返回cleanup的Provider（存储、告警投递）由Wire按逆序串联

package main

import (
	"context"

	"github.com/google/wire"

	"github.com/xiebiao/stockledger/internal/infrastructure/config"
)

// infrastructureSet 日志、存储、告警投递
var infrastructureSet = wire.NewSet(
	newLogger,
	newStorage,
	newDispatcher,
)

// applicationSet 账本、告警评估、订单生命周期、商品上架
var applicationSet = wire.NewSet(
	newEvaluator,
	newLedgerService,
	newLifecycleManager,
	newRegisterProductUseCase,
)

// interfaceSet HTTP与gRPC
var interfaceSet = wire.NewSet(
	newJWTManager,
	newHandlers,
	newEngine,
	newHTTPServer,
	newGRPCServer,
)

// initializeApp Injector
func initializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		infrastructureSet,
		applicationSet,
		interfaceSet,
		newApp,
	)
	return nil, nil, nil
}
