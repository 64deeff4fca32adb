package ai

import (
	"errors"

	"github.com/kardelitaitu/auto-ai-sub007/ai/circuitbreaker"
	"github.com/kardelitaitu/auto-ai-sub007/ai/queue"
)

// ErrorKind 统一的后端错误分类，供路由层按类别而非错误文本做降级决策
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"      // 后端调用超时/中断
	KindNetwork     ErrorKind = "network"      // 网络层失败
	KindProvider    ErrorKind = "provider"     // 后端返回错误（5xx、模型异常等）
	KindParse       ErrorKind = "parse"        // 响应不是合法的结构化数据
	KindCircuitOpen ErrorKind = "circuit_open" // 熔断快速拒绝，未触达后端
	KindQueueFull   ErrorKind = "queue_full"   // 准入队列等待区已满
	KindUnknown     ErrorKind = "unknown"
)

// Error 带分类的后端错误
// 客户端在边界处将原始传输错误映射为 Kind，上层只依赖 Kind 分支
type Error struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Provider  string    `json:"provider,omitempty"`
	Retryable bool      `json:"retryable"`
}

func (e *Error) Error() string { return e.Message }

// NewError 创建分类错误
func NewError(kind ErrorKind, provider, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Provider:  provider,
		Retryable: kind == KindTimeout || kind == KindNetwork || kind == KindProvider,
	}
}

// KindOf 返回错误的分类
// 熔断与队列的哨兵错误在这里折算为对应类别
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var aiErr *Error
	if errors.As(err, &aiErr) {
		return aiErr.Kind
	}
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen),
		errors.Is(err, circuitbreaker.ErrTrialInFlight):
		return KindCircuitOpen
	case errors.Is(err, queue.ErrQueueFull):
		return KindQueueFull
	}
	return KindUnknown
}

// IsTimeout 判断错误是否为超时类
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsCircuitOpen 判断错误是否为熔断快速拒绝
func IsCircuitOpen(err error) bool { return KindOf(err) == KindCircuitOpen }
