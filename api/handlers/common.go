package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kardelitaitu/auto-ai-sub007/ai"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Envelope 统一 API 响应结构
type Envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// 编码失败时响应头已写出，只能放弃
		return
	}
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError 写入错误响应
func WriteError(w http.ResponseWriter, status int, kind ai.ErrorKind, message string, logger *zap.Logger) {
	if logger != nil {
		logger.Warn("API error",
			zap.String("kind", string(kind)),
			zap.String("message", message),
			zap.Int("status", status),
		)
	}

	WriteJSON(w, status, Envelope{
		Success:   false,
		Error:     &ErrorInfo{Kind: string(kind), Message: message},
		Timestamp: time.Now(),
	})
}

// =============================================================================
// 🔄 错误分类到 HTTP 状态码映射
// =============================================================================

// StatusForKind 将后端错误分类映射为 HTTP 状态码
func StatusForKind(kind ai.ErrorKind) int {
	switch kind {
	case ai.KindQueueFull:
		return http.StatusTooManyRequests
	case ai.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case ai.KindTimeout:
		return http.StatusGatewayTimeout
	case ai.KindNetwork, ai.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil {
		WriteError(w, http.StatusBadRequest, ai.KindParse, "request body is empty", logger)
		return errEmptyBody
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, ai.KindParse, "invalid JSON body", logger)
		return err
	}

	return nil
}

var errEmptyBody = errors.New("request body is empty")
