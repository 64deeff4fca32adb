package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/kardelitaitu/auto-ai-sub007/ai"
)

// =============================================================================
// 🤖 请求处理 Handler
// =============================================================================

// ProcessRequest 处理请求体
type ProcessRequest struct {
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload"`
	Context   map[string]any `json:"context,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Priority  int            `json:"priority,omitempty"`
}

// ProcessHandler AI 动作请求处理器
type ProcessHandler struct {
	orch   *ai.Orchestrator
	logger *zap.Logger
}

// NewProcessHandler 创建请求处理器
func NewProcessHandler(orch *ai.Orchestrator, logger *zap.Logger) *ProcessHandler {
	return &ProcessHandler{orch: orch, logger: logger}
}

// HandleProcess 处理 /api/v1/process 请求
// 后端失败通过响应体的 success=false 上报；只有队列满、熔断等
// 准入层拒绝才映射为非 200 状态码
func (h *ProcessHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, ai.KindUnknown, "method not allowed", h.logger)
		return
	}

	var req ProcessRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Action == "" {
		WriteError(w, http.StatusBadRequest, ai.KindParse, "action is required", h.logger)
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	resp := h.orch.Process(r.Context(), &ai.Request{
		Action:    req.Action,
		Payload:   req.Payload,
		Context:   req.Context,
		SessionID: req.SessionID,
		Priority:  req.Priority,
	})

	status := http.StatusOK
	if !resp.Success {
		switch resp.FailureKind() {
		case ai.KindQueueFull, ai.KindCircuitOpen:
			status = StatusForKind(resp.FailureKind())
		}
	}
	WriteJSON(w, status, resp)
}
