package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/infrastructure/config"
	"github.com/xiebiao/stockledger/pkg/metrics"
	"github.com/xiebiao/stockledger/pkg/tracing"
)

// main 库存账本服务入口
//
// 教学要点：
// 1. 启动流程：配置 → 日志 → 链路追踪 → 存储 → 告警投递 → 账本 → 订单 → HTTP/gRPC
// 2. 依赖按 Repository ← Service ← UseCase ← Handler 的顺序组装（见app.go，wire.go声明了同样的依赖图）
// 3. SIGINT/SIGTERM触发优雅关闭：停止接收请求，投递完剩余告警，关闭连接
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := buildApp(ctx, cfg)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	defer cleanup()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			app.logger.Warn("链路追踪初始化失败，继续运行", zap.Error(err))
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					app.logger.Warn("关闭链路追踪失败", zap.Error(err))
				}
			}()
		}
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	app.logger.Info("服务启动",
		zap.Int("http_port", cfg.Server.Port),
		zap.Bool("grpc_enabled", cfg.GRPC.Enabled),
		zap.String("storage", cfg.Ledger.Storage),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Bool("mq_enabled", cfg.MQ.Enabled),
	)

	if err := app.Run(ctx); err != nil {
		app.logger.Error("服务异常退出", zap.Error(err))
		cleanup()
		os.Exit(1)
	}
}

// buildApp 手动组装依赖，与wire.go中initializeApp的依赖图一致
// cleanup按创建的逆序释放资源
func buildApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	logger, cleanupLogger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	store, cleanupStorage, err := newStorage(cfg, logger)
	if err != nil {
		cleanupLogger()
		return nil, nil, err
	}

	dispatcher, cleanupDispatcher, err := newDispatcher(ctx, cfg, logger)
	if err != nil {
		cleanupStorage()
		cleanupLogger()
		return nil, nil, err
	}

	evaluator := newEvaluator(store, dispatcher, logger)
	ledgerService := newLedgerService(cfg, store, evaluator, logger)
	lifecycle := newLifecycleManager(store, ledgerService, logger)
	registerProduct := newRegisterProductUseCase(store, ledgerService, logger)

	handlers := newHandlers(cfg, ledgerService, lifecycle, registerProduct, evaluator)
	engine := newEngine(cfg, store, logger, newJWTManager(cfg), handlers)

	app := newApp(cfg, logger, newHTTPServer(cfg, engine), newGRPCServer(store, logger), dispatcher, evaluator)
	return app, func() {
		cleanupDispatcher()
		cleanupStorage()
		cleanupLogger()
	}, nil
}
