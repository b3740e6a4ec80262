// Package grpc 运维面gRPC服务：标准健康检查 + 反射
//
// 教学要点：
//  1. 使用grpc_health_v1标准协议，k8s探针和grpcurl可以直接调用
//  2. 就绪状态由存储探测决定，探测失败时切换为NOT_SERVING
//  3. 停机时先置为NOT_SERVING，再GracefulStop等待进行中的请求
package grpc

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// LedgerService 健康检查里的服务名
const LedgerService = "stockledger.v1.Ledger"

// Check 依赖探测，返回nil表示可用
type Check func(ctx context.Context) error

// Server gRPC服务器
type Server struct {
	server *grpc.Server
	health *health.Server
	checks map[string]Check
	logger *zap.Logger
}

// NewServer 创建服务器并注册健康检查与反射
// checks按名称记录，用于日志中定位不可用的依赖
func NewServer(logger *zap.Logger, checks map[string]Check) *Server {
	s := &Server{
		server: grpc.NewServer(
			grpc.ChainUnaryInterceptor(unaryLogger(logger)),
			grpc.MaxRecvMsgSize(4*1024*1024),
		),
		health: health.NewServer(),
		checks: checks,
		logger: logger.Named("grpc"),
	}

	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)

	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Probe 执行一次全部探测并更新健康状态
func (s *Server) Probe(ctx context.Context) bool {
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("依赖不可用", zap.String("check", name), zap.Error(err))
			s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
			return false
		}
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch 按interval周期探测，直到ctx取消
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		s.Probe(probeCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Serve 阻塞服务直到Stop
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC服务启动", zap.String("addr", lis.Addr().String()))
	return s.server.Serve(lis)
}

// Stop 置为NOT_SERVING后优雅停止
func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(LedgerService, status)
}

// unaryLogger 记录每次调用的方法、耗时和错误
func unaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("latency", time.Since(start)),
		}
		if err != nil {
			logger.Warn("gRPC调用失败", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("gRPC调用", fields...)
		}
		return resp, err
	}
}
