// Package saga 实现按序执行、失败逆序补偿的步骤编排
//
// 核心思想：
// 1. 一个整体操作拆分为多个独立的原子步骤
// 2. 每个步骤有对应的补偿操作
// 3. 某步失败时，按逆序补偿已完成的步骤
//
// 库存场景：批量预留的每个商品是一步，补偿即释放该商品的预留。
// 每步只持有自己的行锁，整个saga不会同时持有多个商品的锁
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Step 表示Saga中的一个步骤
//
// Action和Compensate都必须幂等：补偿可能在重试中被再次调用
type Step struct {
	Name       string                          // 步骤名称（用于日志和错误）
	Action     func(ctx context.Context) error // 正向操作
	Compensate func(ctx context.Context) error // 补偿操作，可以为nil
}

// StepError 某个步骤失败
// Err是Action的原始错误，CompensationErr汇总补偿阶段的失败
type StepError struct {
	Index           int
	Name            string
	Err             error
	CompensationErr error
}

func (e *StepError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("步骤[%d:%s]执行失败: %v（补偿失败: %v）", e.Index, e.Name, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("步骤[%d:%s]执行失败: %v", e.Index, e.Name, e.Err)
}

// Unwrap 保留原始错误，调用方可以errors.As取出业务错误
func (e *StepError) Unwrap() error {
	return e.Err
}

// Option 配置项
type Option func(*Saga)

// WithLogger 设置日志（默认zap.NewNop）
func WithLogger(logger *zap.Logger) Option {
	return func(s *Saga) {
		s.logger = logger
	}
}

// WithTimeout 设置整体超时，0表示只服从调用方的ctx
func WithTimeout(timeout time.Duration) Option {
	return func(s *Saga) {
		s.timeout = timeout
	}
}

// Saga 一次编排执行
// 非并发安全：一个Saga实例只由一个goroutine执行一次
type Saga struct {
	name     string
	steps    []Step
	executed []Step
	timeout  time.Duration
	logger   *zap.Logger
}

// New 创建Saga
//
// 示例：
//
//	s := saga.New("reserve:SO1699248000123456", saga.WithLogger(logger))
//	s.AddStep("product:1", reserveA, releaseA)
//	s.AddStep("product:2", reserveB, releaseB)
//	err := s.Execute(ctx)
func New(name string, opts ...Option) *Saga {
	s := &Saga{
		name:   name,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddStep 添加步骤，按添加顺序执行，按逆序补偿
func (s *Saga) AddStep(name string, action, compensate func(ctx context.Context) error) {
	s.steps = append(s.steps, Step{
		Name:       name,
		Action:     action,
		Compensate: compensate,
	})
}

// Len 步骤数
func (s *Saga) Len() int {
	return len(s.steps)
}

// Execute 执行全部步骤
//
// 执行流程：
// 1. 每步开始前检查ctx，已取消则不再开始新步骤
// 2. 某步失败或ctx取消时补偿已完成步骤，返回*StepError
// 3. 补偿使用独立的context，调用方的取消不会中断补偿
func (s *Saga) Execute(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	for i, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, i, step.Name, err)
		}

		if step.Action != nil {
			if err := step.Action(ctx); err != nil {
				return s.fail(ctx, i, step.Name, err)
			}
		}
		s.executed = append(s.executed, step)
	}

	s.executed = nil
	return nil
}

func (s *Saga) fail(ctx context.Context, index int, name string, err error) error {
	s.logger.Warn("saga步骤失败，开始补偿",
		zap.String("saga", s.name),
		zap.Int("step", index),
		zap.String("step_name", name),
		zap.Int("compensations", len(s.executed)),
		zap.Error(err),
	)
	return &StepError{
		Index:           index,
		Name:            name,
		Err:             err,
		CompensationErr: s.compensate(context.WithoutCancel(ctx)),
	}
}

// compensate 逆序补偿，单个补偿失败不影响其余补偿
func (s *Saga) compensate(ctx context.Context) error {
	var errs []error
	for i := len(s.executed) - 1; i >= 0; i-- {
		step := s.executed[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			s.logger.Error("saga补偿失败，需人工介入",
				zap.String("saga", s.name),
				zap.String("step_name", step.Name),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
	}
	s.executed = nil
	return errors.Join(errs...)
}
