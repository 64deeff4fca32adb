package providers

import "time"

// LocalConfig 本地推理后端（Ollama 兼容）配置
type LocalConfig struct {
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	TextModel   string        `json:"text_model,omitempty" yaml:"text_model,omitempty"`
	VisionModel string        `json:"vision_model,omitempty" yaml:"vision_model,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// CloudConfig 云端推理后端（OpenAI 兼容）配置
type CloudConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RequestsPerSecond 客户端侧限速（0 表示不限速）
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	// Burst 限速桶容量
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// ChooseModel 按优先级选择模型：请求指定 > 配置指定 > 默认值
func ChooseModel(requestModel, configModel, defaultModel string) string {
	if requestModel != "" {
		return requestModel
	}
	if configModel != "" {
		return configModel
	}
	return defaultModel
}
