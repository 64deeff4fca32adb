package ai

import (
	"sort"

	"go.uber.org/zap"

	"github.com/kardelitaitu/auto-ai-sub007/ai/circuitbreaker"
)

// CheckStatus 单项健康检查的结论
type CheckStatus string

const (
	HealthHealthy    CheckStatus = "healthy"
	HealthDegraded   CheckStatus = "degraded"
	HealthRecovering CheckStatus = "recovering"
)

// HealthConfig 健康判定阈值
type HealthConfig struct {
	// MinSamples 成功率判定所需的最少样本数
	MinSamples int64 `json:"min_samples"`
	// SuccessRateThreshold 低于该成功率视为降级
	SuccessRateThreshold float64 `json:"success_rate_threshold"`
}

// DefaultHealthConfig 返回默认阈值
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		MinSamples:           10,
		SuccessRateThreshold: 0.8,
	}
}

// QueueCheck 队列维度
type QueueCheck struct {
	Status  CheckStatus `json:"status"`
	Running int         `json:"running"`
	Queued  int         `json:"queued"`
}

// RequestCheck 成功率维度
type RequestCheck struct {
	Status      CheckStatus `json:"status"`
	SuccessRate float64     `json:"success_rate"`
	Samples     int64       `json:"samples"`
}

// CircuitCheck 熔断维度
type CircuitCheck struct {
	Status   CheckStatus `json:"status"`
	Open     []string    `json:"open,omitempty"`
	HalfOpen []string    `json:"half_open,omitempty"`
}

// Health 汇总的健康视图
// Status 取各维度中最差的一项
type Health struct {
	Status   CheckStatus  `json:"status"`
	Queue    QueueCheck   `json:"queue"`
	Requests RequestCheck `json:"requests"`
	Circuits CircuitCheck `json:"circuits"`
}

// Health 汇总健康检查，只读，不触发任何状态迁移
func (o *Orchestrator) Health() Health {
	h := Health{
		Queue:    o.queueCheck(),
		Requests: o.requestCheck(),
		Circuits: o.circuitCheck(),
	}
	h.Status = worst(h.Queue.Status, h.Requests.Status, h.Circuits.Status)
	return h
}

func (o *Orchestrator) queueCheck() QueueCheck {
	qs := o.queue.Stats()
	check := QueueCheck{Status: HealthHealthy, Running: qs.Running, Queued: qs.Queued}
	if qs.Running > 0 || qs.Queued > 0 {
		check.Status = HealthDegraded
	}
	return check
}

func (o *Orchestrator) requestCheck() RequestCheck {
	snap := o.stats.Snapshot()
	check := RequestCheck{
		Status:      HealthHealthy,
		SuccessRate: snap.SuccessRate(),
		Samples:     snap.TotalRequests,
	}
	if snap.TotalRequests >= o.cfg.Health.MinSamples && check.SuccessRate < o.cfg.Health.SuccessRateThreshold {
		check.Status = HealthDegraded
	}
	return check
}

func (o *Orchestrator) circuitCheck() CircuitCheck {
	check := CircuitCheck{Status: HealthHealthy}
	for key, status := range o.breakers.AllStatus() {
		switch status.State {
		case circuitbreaker.StateOpen:
			check.Open = append(check.Open, key)
		case circuitbreaker.StateHalfOpen:
			check.HalfOpen = append(check.HalfOpen, key)
		}
	}
	sort.Strings(check.Open)
	sort.Strings(check.HalfOpen)
	switch {
	case len(check.Open) > 0:
		check.Status = HealthDegraded
	case len(check.HalfOpen) > 0:
		check.Status = HealthRecovering
	}
	return check
}

// worst 取最差结论：degraded > recovering > healthy
func worst(statuses ...CheckStatus) CheckStatus {
	result := HealthHealthy
	for _, s := range statuses {
		switch s {
		case HealthDegraded:
			return HealthDegraded
		case HealthRecovering:
			result = HealthRecovering
		}
	}
	return result
}

// LogHealth 把健康快照写入日志
func (o *Orchestrator) LogHealth() {
	h := o.Health()
	o.logger.Info("健康检查",
		zap.String("status", string(h.Status)),
		zap.Int("queue_running", h.Queue.Running),
		zap.Int("queue_queued", h.Queue.Queued),
		zap.Float64("success_rate", h.Requests.SuccessRate),
		zap.Int64("samples", h.Requests.Samples),
		zap.Strings("circuits_open", h.Circuits.Open),
		zap.Strings("circuits_half_open", h.Circuits.HalfOpen),
	)
}
