package ai

import (
	"context"
	"time"
)

// 动作标签，决定请求进入哪条处理链
const (
	ActionVisionAnalysis  = "vision-analysis"
	ActionReplyGeneration = "reply-generation"
)

// 后端 key，同一逻辑后端的所有动作共享一份熔断状态
const (
	KeyLocalModel = "local-model"
	KeyCloudModel = "cloud-model"
)

// AgentKey 返回按动作隔离的后端 key（agent-<action>）
func AgentKey(action string) string { return "agent-" + action }

// Request 调用方提交的一个工作单元
type Request struct {
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Priority  int            `json:"priority,omitempty"`
}

// Metadata 结果的来源与路由信息
type Metadata struct {
	RequestID          string        `json:"request_id,omitempty"`
	RoutedTo           string        `json:"routed_to,omitempty"`
	Model              string        `json:"model,omitempty"`
	Duration           time.Duration `json:"duration"`
	VisionEnabled      bool          `json:"vision_enabled,omitempty"`
	FallbackFromVision bool          `json:"fallback_from_vision,omitempty"`
	FallbackFromLocal  bool          `json:"fallback_from_local,omitempty"`
	ProvidersTried     []string      `json:"providers_tried,omitempty"`
	ParsedSuccessfully bool          `json:"parsed_successfully,omitempty"`
	Cached             bool          `json:"cached,omitempty"`
}

// Response 统一的成功/失败结果
// 后端层面的失败通过 Success=false + Error 字段上报，而不是 Go error
type Response struct {
	Success  bool           `json:"success"`
	Content  string         `json:"content,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata Metadata       `json:"metadata"`

	// failureKind 失败时的错误分类
	failureKind ErrorKind
}

// FailureKind 返回失败响应的错误分类，成功响应返回空
func (r *Response) FailureKind() ErrorKind { return r.failureKind }

// BackendRequest 发送给推理后端的请求
type BackendRequest struct {
	Model       string   `json:"model,omitempty"`
	System      string   `json:"system,omitempty"`
	Prompt      string   `json:"prompt"`
	Images      []string `json:"images,omitempty"` // base64 编码的截图
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float32  `json:"temperature,omitempty"`
}

// BackendResponse 推理后端的响应
type BackendResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model,omitempty"`
	Provider         string `json:"provider,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// Client 推理后端客户端
// 超时控制是客户端的职责，编排层只观察返回的错误分类
type Client interface {
	// Send 发起一次同步推理请求
	Send(ctx context.Context, req *BackendRequest) (*BackendResponse, error)

	// Name 返回客户端的唯一标识（用于 providersTried 与日志）
	Name() string
}

// Enablement 单个后端的启用开关
type Enablement struct {
	Enabled bool `json:"enabled"`
}

// Settings 路由开关快照
type Settings struct {
	Local       Enablement `json:"local"`
	LocalVision Enablement `json:"local_vision"`
	Cloud       Enablement `json:"cloud"`
}

// SettingsSupplier 提供路由开关快照
// 获取失败时编排器降级为仅云端路由
type SettingsSupplier interface {
	Settings() (Settings, error)
}

// PromptBuilder 根据目标与页面结构构造视觉后端的提示词
type PromptBuilder interface {
	BuildPrompt(goal string, pageStructure map[string]any) string
}

// ResponseParser 将视觉后端的原始文本解析为结构化数据
type ResponseParser interface {
	Parse(text string) (map[string]any, error)
}
