// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 编排层指标收集器
type Collector struct {
	// 请求指标
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	fallbacksTotal  *prometheus.CounterVec

	// 队列指标
	queueRunning prometheus.Gauge
	queueWaiting prometheus.Gauge

	// 熔断指标
	circuitState       *prometheus.GaugeVec
	circuitTransitions *prometheus.CounterVec

	// 批处理指标
	batchFill prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 创建指标收集器
// reg 为 nil 时使用默认注册表
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 请求指标
	c.requestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total orchestrated requests by action, backend and outcome",
		},
		[]string{"action", "backend", "outcome"},
	)
	c.requestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"action"},
	)
	c.fallbacksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Fallback transitions between backends",
		},
		[]string{"from", "to"},
	)

	// 队列指标
	c.queueRunning = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_running",
		Help:      "Tasks currently executing in the admission queue",
	})
	c.queueWaiting = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_waiting",
		Help:      "Tasks waiting in the admission queue",
	})

	// 熔断指标
	c.circuitState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit state per backend key (0=closed, 1=open, 2=half-open)",
		},
		[]string{"key"},
	)
	c.circuitTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_transitions_total",
			Help:      "Circuit state transitions per backend key",
		},
		[]string{"key", "from", "to"},
	)

	// 批处理指标
	c.batchFill = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_fill",
		Help:      "Number of requests per dispatched batch",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
	})

	return c
}

// ObserveRequest 记录一次完成的请求
func (c *Collector) ObserveRequest(action, backend string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	if backend == "" {
		backend = "none"
	}
	c.requestsTotal.WithLabelValues(action, backend, outcome).Inc()
	c.requestDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// ObserveFallback 记录一次后端降级
func (c *Collector) ObserveFallback(from, to string) {
	c.fallbacksTotal.WithLabelValues(from, to).Inc()
}

// SetQueueDepth 更新队列负载
func (c *Collector) SetQueueDepth(running, waiting int) {
	c.queueRunning.Set(float64(running))
	c.queueWaiting.Set(float64(waiting))
}

// ObserveCircuitTransition 记录熔断状态变更
func (c *Collector) ObserveCircuitTransition(key, from, to string, stateValue float64) {
	c.circuitTransitions.WithLabelValues(key, from, to).Inc()
	c.circuitState.WithLabelValues(key).Set(stateValue)
}

// ObserveBatchFill 记录一次批处理派发的填充度
func (c *Collector) ObserveBatchFill(size int) {
	c.batchFill.Observe(float64(size))
}
