// =============================================================================
// 📦 路由开关快照
// =============================================================================
// 为编排器提供带刷新间隔的路由开关快照。开关来自可替换的 Source，
// 读取方永远拿到完整快照，不会读到半更新状态。
// =============================================================================
package config

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kardelitaitu/auto-ai-sub007/ai"
)

// SettingsSource 返回最新的路由开关
type SettingsSource func() (ai.Settings, error)

// SettingsProvider 缓存路由开关快照，按间隔刷新
// 实现 ai.SettingsSupplier
type SettingsProvider struct {
	mu          sync.Mutex
	source      SettingsSource
	interval    time.Duration
	logger      *zap.Logger
	cached      ai.Settings
	lastErr     error
	lastRefresh time.Time
}

// NewSettingsProvider 创建路由开关提供者
// interval <= 0 时每次读取都刷新
func NewSettingsProvider(source SettingsSource, interval time.Duration, logger *zap.Logger) *SettingsProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsProvider{
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Settings 返回当前快照，超过刷新间隔时重新拉取
// 刷新失败时保留上一份有效快照并返回它
func (p *SettingsProvider) Settings() (ai.Settings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lastRefresh.IsZero() && p.interval > 0 && time.Since(p.lastRefresh) < p.interval {
		return p.cached, p.lastErr
	}

	s, err := p.source()
	if err != nil {
		p.logger.Warn("刷新路由开关失败", zap.Error(err))
		if p.lastRefresh.IsZero() {
			// 从未成功过，错误上抛
			p.lastErr = err
			p.lastRefresh = time.Now()
			return ai.Settings{}, err
		}
		// 保留旧快照
		p.lastRefresh = time.Now()
		return p.cached, nil
	}

	p.cached = s
	p.lastErr = nil
	p.lastRefresh = time.Now()
	return p.cached, nil
}

// Invalidate 使缓存失效，下次读取强制刷新
func (p *SettingsProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRefresh = time.Time{}
}

// StaticSource 返回固定开关的 Source
func StaticSource(s ai.Settings) SettingsSource {
	return func() (ai.Settings, error) { return s, nil }
}

// FileSource 返回从配置文件读取 routing 段的 Source
// 文件修改后在下一个刷新周期生效
func FileSource(path string) SettingsSource {
	return func() (ai.Settings, error) {
		cfg, err := NewLoader().WithConfigPath(path).Load()
		if err != nil {
			return ai.Settings{}, err
		}
		return cfg.Routing.Settings(), nil
	}
}

// Settings 将路由配置转换为开关快照
func (r RoutingConfig) Settings() ai.Settings {
	return ai.Settings{
		Local:       ai.Enablement{Enabled: r.LocalEnabled},
		LocalVision: ai.Enablement{Enabled: r.LocalVisionEnabled},
		Cloud:       ai.Enablement{Enabled: r.CloudEnabled},
	}
}
