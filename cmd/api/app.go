package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appalert "github.com/xiebiao/stockledger/internal/application/alert"
	"github.com/xiebiao/stockledger/internal/application/ledger"
	apporder "github.com/xiebiao/stockledger/internal/application/order"
	appproduct "github.com/xiebiao/stockledger/internal/application/product"
	"github.com/xiebiao/stockledger/internal/application/reservation"
	"github.com/xiebiao/stockledger/internal/domain/alert"
	"github.com/xiebiao/stockledger/internal/domain/order"
	"github.com/xiebiao/stockledger/internal/domain/product"
	"github.com/xiebiao/stockledger/internal/domain/stock"
	"github.com/xiebiao/stockledger/internal/infrastructure/config"
	"github.com/xiebiao/stockledger/internal/infrastructure/messaging"
	"github.com/xiebiao/stockledger/internal/infrastructure/persistence/memory"
	"github.com/xiebiao/stockledger/internal/infrastructure/persistence/mysql"
	"github.com/xiebiao/stockledger/internal/infrastructure/persistence/redis"
	apigrpc "github.com/xiebiao/stockledger/internal/interface/grpc"
	"github.com/xiebiao/stockledger/internal/interface/http/handler"
	"github.com/xiebiao/stockledger/internal/interface/http/middleware"
	"github.com/xiebiao/stockledger/internal/interface/http/router"
	"github.com/xiebiao/stockledger/pkg/jwt"
	"github.com/xiebiao/stockledger/pkg/logger"
	"github.com/xiebiao/stockledger/pkg/mq"
)

// storage 账本、订单、商品三类仓储，按ledger.storage选择实现
type storage struct {
	Kind     string
	Stocks   stock.Repository
	Tx       stock.Transactor
	Orders   order.Repository
	Products product.Repository
	Ping     apigrpc.Check
}

func newLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	log, err := logger.New(logger.Config{
		Level:        cfg.Log.Level,
		Format:       cfg.Log.Format,
		Output:       cfg.Log.Output,
		EnableCaller: cfg.Log.EnableCaller,
		Service:      cfg.Tracing.ServiceName,
	})
	if err != nil {
		return nil, nil, err
	}
	return log, func() { _ = log.Sync() }, nil
}

// newStorage 学习要点：memory模式不依赖任何外部服务，适合本地调试和演示
func newStorage(cfg *config.Config, log *zap.Logger) (*storage, func(), error) {
	if cfg.Ledger.Storage == config.StorageMemory {
		stocks := memory.NewStockRepository()
		log.Warn("使用内存存储，重启后数据丢失")
		return &storage{
			Kind:     config.StorageMemory,
			Stocks:   stocks,
			Tx:       stocks,
			Orders:   memory.NewOrderRepository(),
			Products: memory.NewCatalog(),
			Ping:     func(context.Context) error { return nil },
		}, func() {}, nil
	}

	db, err := mysql.NewDB(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("获取SQL DB失败: %w", err)
	}

	s := &storage{
		Kind:     config.StorageMySQL,
		Stocks:   mysql.NewStockRepository(db),
		Tx:       mysql.NewTxManager(db),
		Orders:   mysql.NewOrderRepository(db),
		Products: mysql.NewProductRepository(db),
		Ping:     sqlDB.PingContext,
	}
	cleanup := func() {
		if err := sqlDB.Close(); err != nil {
			log.Warn("关闭数据库连接失败", zap.Error(err))
		}
	}
	return s, cleanup, nil
}

// newDispatcher 组装告警投递目标
// Redis和RabbitMQ都是可选的，连不上时记录警告并跳过，不影响账本启动
func newDispatcher(ctx context.Context, cfg *config.Config, log *zap.Logger) (*appalert.Dispatcher, func(), error) {
	var (
		sinks   []alert.Sink
		closers []func() error
	)

	if cfg.Redis.Enabled {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout+time.Second)
		client, err := redis.NewClient(pingCtx, cfg, log)
		cancel()
		if err != nil {
			log.Warn("Redis不可用，跳过告警镜像", zap.Error(err))
		} else {
			sinks = append(sinks, redis.NewAlertMirror(client, log))
			closers = append(closers, client.Close)
		}
	}

	if cfg.MQ.Enabled {
		publisher, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange, "topic", log)
		if err != nil {
			log.Warn("RabbitMQ不可用，跳过告警消息", zap.Error(err))
		} else {
			sinks = append(sinks, messaging.NewAlertPublisher(publisher))
			closers = append(closers, publisher.Close)
		}
	}

	d := appalert.NewDispatcher(cfg.Ledger.AlertQueueSize, log, sinks...)
	cleanup := func() {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		if err := errors.Join(errs...); err != nil {
			log.Warn("关闭告警投递目标失败", zap.Error(err))
		}
	}
	return d, cleanup, nil
}

func newEvaluator(s *storage, d *appalert.Dispatcher, log *zap.Logger) *appalert.Evaluator {
	return appalert.NewEvaluator(s.Stocks, d, log)
}

func newLedgerService(cfg *config.Config, s *storage, evaluator *appalert.Evaluator, log *zap.Logger) *ledger.Service {
	return ledger.NewService(s.Stocks, s.Tx, evaluator, log, ledger.Options{
		DefaultReorderThreshold: cfg.Ledger.DefaultReorderThreshold,
		HistoryPageSize:         cfg.Ledger.HistoryPageSize,
	})
}

func newLifecycleManager(s *storage, svc *ledger.Service, log *zap.Logger) *apporder.LifecycleManager {
	return apporder.NewLifecycleManager(s.Orders, s.Products, reservation.NewCoordinator(svc, log), log)
}

func newRegisterProductUseCase(s *storage, svc *ledger.Service, log *zap.Logger) *appproduct.RegisterProductUseCase {
	return appproduct.NewRegisterProductUseCase(s.Products, svc, log)
}

func newJWTManager(cfg *config.Config) *jwt.Manager {
	return jwt.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpire)
}

func newHandlers(
	cfg *config.Config,
	svc *ledger.Service,
	lifecycle *apporder.LifecycleManager,
	registerProduct *appproduct.RegisterProductUseCase,
	evaluator *appalert.Evaluator,
) router.Handlers {
	return router.Handlers{
		Order:   handler.NewOrderHandler(lifecycle, svc, cfg.Order.ValidationTimeout),
		Stock:   handler.NewStockHandler(svc),
		Product: handler.NewProductHandler(registerProduct),
		Alert:   handler.NewAlertHandler(evaluator),
	}
}

func newEngine(cfg *config.Config, s *storage, log *zap.Logger, jwtManager *jwt.Manager, h router.Handlers) *gin.Engine {
	return router.New(router.Options{
		Mode:    cfg.Server.Mode,
		Storage: s.Kind,
		Swagger: cfg.Server.Swagger,
	}, log, middleware.NewAuthMiddleware(jwtManager), h)
}

func newHTTPServer(cfg *config.Config, engine *gin.Engine) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

func newGRPCServer(s *storage, log *zap.Logger) *apigrpc.Server {
	return apigrpc.NewServer(log, map[string]apigrpc.Check{s.Kind: s.Ping})
}

// App 进程内的全部长期组件
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	grpcServer *apigrpc.Server
	dispatcher *appalert.Dispatcher
	evaluator  *appalert.Evaluator
}

func newApp(
	cfg *config.Config,
	log *zap.Logger,
	httpServer *http.Server,
	grpcServer *apigrpc.Server,
	dispatcher *appalert.Dispatcher,
	evaluator *appalert.Evaluator,
) *App {
	return &App{
		cfg:        cfg,
		logger:     log,
		httpServer: httpServer,
		grpcServer: grpcServer,
		dispatcher: dispatcher,
		evaluator:  evaluator,
	}
}

// Run 启动服务并阻塞到ctx取消
//
// 启动顺序：告警投递 → 重建水位 → HTTP → gRPC
// 关闭顺序相反；dispatcher在ctx取消后投递完队列里的通知再退出
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.dispatcher.Start(ctx)

	if err := a.evaluator.Rebuild(ctx); err != nil {
		cancel()
		a.dispatcher.Wait()
		return fmt.Errorf("重建库存水位失败: %w", err)
	}
	a.logger.Info("库存水位已重建", zap.Int("low_stock", len(a.evaluator.LowStockProducts())))

	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("HTTP服务启动", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP服务异常退出: %w", err)
		}
	}()

	if a.cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.GRPC.Port))
		if err != nil {
			errCh <- fmt.Errorf("监听gRPC端口失败: %w", err)
		} else {
			go a.grpcServer.Watch(ctx, 10*time.Second)
			go func() {
				if err := a.grpcServer.Serve(lis); err != nil {
					errCh <- fmt.Errorf("gRPC服务异常退出: %w", err)
				}
			}()
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("收到关闭信号，开始优雅关闭")
	case runErr = <-errCh:
		a.logger.Error("服务异常，开始关闭", zap.Error(runErr))
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP服务关闭超时", zap.Error(err))
	}
	if a.cfg.GRPC.Enabled {
		a.grpcServer.Stop()
	}
	cancel()
	a.dispatcher.Wait()

	a.logger.Info("服务已安全关闭")
	return runErr
}
