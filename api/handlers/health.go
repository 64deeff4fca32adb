package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kardelitaitu/auto-ai-sub007/ai"
)

// =============================================================================
// 🏥 健康与统计 Handler
// =============================================================================

// HealthHandler 健康检查与统计处理器
type HealthHandler struct {
	orch   *ai.Orchestrator
	logger *zap.Logger
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(orch *ai.Orchestrator, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{orch: orch, logger: logger}
}

// healthResponse 健康检查响应
type healthResponse struct {
	ai.Health
	Timestamp time.Time `json:"timestamp"`
}

// HandleHealth 处理 /health 请求
// degraded 返回 503，healthy/recovering 返回 200
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.orch.Health()

	status := http.StatusOK
	if health.Status == ai.HealthDegraded {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, healthResponse{Health: health, Timestamp: time.Now()})
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 活跃度探针）
// 只确认进程存活，不看后端状态
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStats 处理 /stats 请求
func (h *HealthHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.orch.Stats())
}

// HandleVersion 处理 /version 请求
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}
