// =============================================================================
// 📦 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Local:        DefaultLocalConfig(),
		Cloud:        DefaultCloudConfig(),
		Routing:      DefaultRoutingConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Redis:        DefaultRedisConfig(),
		Store:        DefaultStoreConfig(),
		Log:          DefaultLogConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLocalConfig 返回默认本地后端配置
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		BaseURL:     "http://localhost:11434",
		TextModel:   "llama3.2",
		VisionModel: "llava",
		Timeout:     60 * time.Second,
	}
}

// DefaultCloudConfig 返回默认云端后端配置
func DefaultCloudConfig() CloudConfig {
	return CloudConfig{
		BaseURL:           "https://api.openai.com/v1",
		Model:             "gpt-4o-mini",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 2,
		Burst:             4,
	}
}

// DefaultRoutingConfig 返回默认路由开关配置
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		LocalEnabled:       true,
		LocalVisionEnabled: true,
		CloudEnabled:       true,
		RefreshInterval:    30 * time.Second,
	}
}

// DefaultOrchestratorConfig 返回默认编排器配置
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		QueueMaxConcurrent: 3,
		QueueMaxQueued:     100,
		FailureThreshold:   5,
		HalfOpenTime:       60 * time.Second,
		CallAttempts:       2,
		BatchEnabled:       false,
		BatchSize:          5,
		BatchDelay:         200 * time.Millisecond,
		HealthMinSamples:   10,
		HealthSuccessRate:  0.8,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled: false,
		Addr:    "localhost:6379",
		DB:      0,
		TTL:     10 * time.Minute,
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Enabled: true,
		Path:    "ai_requests.db",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}
