package ai

import (
	"sync"
	"sync/atomic"
)

// Stats 聚合计数器
// 所有计数在进程生命周期内单调不减，读取不会修改任何状态
type Stats struct {
	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64
	vision  atomic.Int64

	mu         sync.RWMutex
	perBackend map[string]*backendCounters
}

type backendCounters struct {
	requests  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
}

// NewStats 创建统计器
func NewStats() *Stats {
	return &Stats{perBackend: make(map[string]*backendCounters)}
}

// record 记录一次完成的请求
func (s *Stats) record(backend string, success, vision bool) {
	s.total.Add(1)
	if success {
		s.success.Add(1)
	} else {
		s.failed.Add(1)
	}
	if vision {
		s.vision.Add(1)
	}
	if backend == "" {
		return
	}

	s.mu.RLock()
	c, ok := s.perBackend[backend]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if c, ok = s.perBackend[backend]; !ok {
			c = &backendCounters{}
			s.perBackend[backend] = c
		}
		s.mu.Unlock()
	}

	c.requests.Add(1)
	if success {
		c.successes.Add(1)
	} else {
		c.failures.Add(1)
	}
}

// Snapshot 返回当前计数的只读副本
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		TotalRequests:      s.total.Load(),
		SuccessfulRequests: s.success.Load(),
		FailedRequests:     s.failed.Load(),
		VisionRequests:     s.vision.Load(),
		PerBackend:         make(map[string]BackendStats),
	}
	s.mu.RLock()
	for backend, c := range s.perBackend {
		snap.PerBackend[backend] = BackendStats{
			Requests:  c.requests.Load(),
			Successes: c.successes.Load(),
			Failures:  c.failures.Load(),
		}
	}
	s.mu.RUnlock()
	return snap
}

// SuccessRate 返回成功率；无样本时返回 1.0
func (s StatsSnapshot) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 1.0
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests)
}

// StatsSnapshot 统计快照
type StatsSnapshot struct {
	TotalRequests      int64                   `json:"total_requests"`
	SuccessfulRequests int64                   `json:"successful_requests"`
	FailedRequests     int64                   `json:"failed_requests"`
	VisionRequests     int64                   `json:"vision_requests"`
	PerBackend         map[string]BackendStats `json:"per_backend"`
}

// BackendStats 单个后端的计数
type BackendStats struct {
	Requests  int64 `json:"requests"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}
