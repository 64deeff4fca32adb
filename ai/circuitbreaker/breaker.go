package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// 错误定义
var (
	// ErrCircuitOpen 熔断器打开，调用被快速拒绝（不触达后端）
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrTrialInFlight 半开状态下试探调用已在进行中
	ErrTrialInFlight = errors.New("half-open trial already in flight")
)

// Config 熔断器配置
type Config struct {
	// FailureThreshold 连续失败次数阈值（触发熔断）
	FailureThreshold int

	// HalfOpenTime 熔断恢复等待时间（从 Open -> HalfOpen）
	HalfOpenTime time.Duration

	// OnStateChange 状态变更回调
	OnStateChange func(key string, from State, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		HalfOpenTime:     60 * time.Second,
	}
}

// breaker 单个后端 key 的熔断状态
// 所有字段由 mu 保护
type breaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// beforeCall 调用前检查
// Open 状态超过 HalfOpenTime 后自动进入半开并放行一次试探
func (b *breaker) beforeCall(cfg *Config, now time.Time) (from, to State, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return b.state, b.state, nil

	case StateOpen:
		if now.Sub(b.openedAt) >= cfg.HalfOpenTime {
			b.state = StateHalfOpen
			b.trialInFlight = true
			return StateOpen, StateHalfOpen, nil
		}
		return b.state, b.state, ErrCircuitOpen

	case StateHalfOpen:
		// 半开状态只允许一次试探调用
		if b.trialInFlight {
			return b.state, b.state, ErrTrialInFlight
		}
		b.trialInFlight = true
		return b.state, b.state, nil

	default:
		return b.state, b.state, ErrCircuitOpen
	}
}

// afterCall 调用后处理
// 一次 Execute 内部的重试风暴最多计为一次失败
func (b *breaker) afterCall(cfg *Config, success bool, now time.Time) (from, to State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from = b.state
	b.trialInFlight = false

	if success {
		// 成功：半开恢复关闭，关闭状态清零计数
		b.state = StateClosed
		b.consecutiveFailures = 0
		return from, b.state
	}

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = now
		}

	case StateHalfOpen:
		// 试探失败，重新打开并重置冷却起点
		b.state = StateOpen
		b.openedAt = now
	}

	return from, b.state
}

// snapshot 返回只读状态快照，不触发任何转换
func (b *breaker) snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
	}
}

// Status 单个 key 的熔断状态快照
type Status struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}
