package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kardelitaitu/auto-ai-sub007/ai/retry"
)

// Manager 按后端 key 管理熔断器
// 同一逻辑后端的所有调用共享一份熔断状态
type Manager struct {
	cfg    *Config
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*breaker
}

// NewManager 创建熔断器管理器
func NewManager(cfg *Config, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.HalfOpenTime <= 0 {
		cfg.HalfOpenTime = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*breaker),
	}
}

// Execute 在 key 的熔断保护下执行 fn
// attempts 为本次调用的总尝试次数（含首次，最小 1）；
// 内部重试全部失败只对该 key 计一次失败
func (m *Manager) Execute(ctx context.Context, key string, attempts int, fn func() (any, error)) (any, error) {
	b := m.breaker(key)

	now := time.Now()
	from, to, err := b.beforeCall(m.cfg, now)
	if err != nil {
		return nil, err
	}
	m.notify(key, from, to)
	if from != to && to == StateHalfOpen {
		m.logger.Info("熔断器进入半开状态", zap.String("key", key))
	}

	if attempts < 1 {
		attempts = 1
	}
	// 半开试探只允许触达后端一次，不叠加内部重试
	if to == StateHalfOpen {
		attempts = 1
	}
	retryer := retry.NewRetryer(retry.Immediate(attempts), m.logger)
	result, callErr := retryer.DoWithResult(ctx, fn)

	from, to = b.afterCall(m.cfg, callErr == nil, time.Now())
	m.notify(key, from, to)
	switch {
	case from == StateClosed && to == StateOpen:
		m.logger.Warn("熔断器打开",
			zap.String("key", key),
			zap.Int("threshold", m.cfg.FailureThreshold),
		)
	case from == StateHalfOpen && to == StateOpen:
		m.logger.Warn("熔断器半开试探失败，重新打开", zap.String("key", key))
	case from == StateHalfOpen && to == StateClosed:
		m.logger.Info("熔断器恢复正常", zap.String("key", key))
	}

	if callErr != nil {
		return nil, callErr
	}
	return result, nil
}

// AllStatus 返回所有 key 的状态快照
// 只读操作，不触发任何状态转换
func (m *Manager) AllStatus() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]Status, len(m.breakers))
	for key, b := range m.breakers {
		statuses[key] = b.snapshot()
	}
	return statuses
}

// Status 返回单个 key 的状态快照
// key 尚未使用过时返回 Closed 零值
func (m *Manager) Status(key string) Status {
	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if !ok {
		return Status{State: StateClosed}
	}
	return b.snapshot()
}

// Reset 重置指定 key 的熔断器（手动恢复）
func (m *Manager) Reset(key string) {
	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if !ok {
		return
	}

	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.trialInFlight = false
	b.mu.Unlock()

	m.logger.Info("熔断器已重置",
		zap.String("key", key),
		zap.String("from_state", from.String()),
	)
	m.notify(key, from, StateClosed)
}

// breaker 按需惰性创建 key 对应的熔断器
func (m *Manager) breaker(key string) *breaker {
	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[key]; ok {
		return b
	}
	b = &breaker{state: StateClosed}
	m.breakers[key] = b
	return b
}

func (m *Manager) notify(key string, from, to State) {
	if from == to || m.cfg.OnStateChange == nil {
		return
	}
	go m.cfg.OnStateChange(key, from, to)
}

// ExecuteTyped is a type-safe generic wrapper around Manager.Execute.
func ExecuteTyped[T any](m *Manager, ctx context.Context, key string, attempts int, fn func() (T, error)) (T, error) {
	result, err := m.Execute(ctx, key, attempts, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
