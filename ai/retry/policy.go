package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy 定义统一的重试策略
// 准入队列和熔断器共用同一套策略，避免"谁在何时重试"的歧义
type Policy struct {
	MaxAttempts  int             // 总尝试次数（含首次执行，最小为 1）
	InitialDelay time.Duration   // 首次重试前的延迟（0 表示立即重试）
	MaxDelay     time.Duration   // 最大延迟时间
	Multiplier   float64         // 延迟倍增因子（指数退避）
	Jitter       bool            // 是否添加随机抖动（防止雪崩）
	RetryIf      func(error) bool // 错误过滤（为空则重试所有错误）
}

// Default 返回适用于后端调用的默认策略
func Default() *Policy {
	return &Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Immediate 返回无延迟的立即重试策略
// 用于准入队列对调度故障的快速重试
func Immediate(attempts int) *Policy {
	if attempts < 1 {
		attempts = 1
	}
	return &Policy{MaxAttempts: attempts}
}

// Retryer 重试器
// 按策略执行函数，失败时按需重试
type Retryer struct {
	policy *Policy
	logger *zap.Logger
}

// NewRetryer 创建重试器
func NewRetryer(policy *Policy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 1.0
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{policy: policy, logger: logger}
}

// Do 执行函数，失败时按策略重试
func (r *Retryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 执行函数并返回结果，失败时按策略重试
func (r *Retryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.delay(attempt)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("retry canceled: %w", ctx.Err())
				case <-time.After(delay):
				}
			}
			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !r.retryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

// delay 计算第 attempt 次尝试前的延迟
func (r *Retryer) delay(attempt int) time.Duration {
	if r.policy.InitialDelay <= 0 {
		return 0
	}

	// 指数退避：delay = initial * multiplier^(attempt-2)
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-2))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}

	// ±25% 随机抖动
	if r.policy.Jitter {
		jitter := d * 0.25
		d = d + (rand.Float64()*2-1)*jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (r *Retryer) retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if r.policy.RetryIf != nil {
		return r.policy.RetryIf(err)
	}
	return true
}

// DoWithResultTyped is a type-safe generic wrapper around Retryer.DoWithResult.
// It eliminates the need for type assertions on the return value.
func DoWithResultTyped[T any](r *Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
