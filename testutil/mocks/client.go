// MockClient 推理后端客户端的测试模拟实现。
//
// 支持固定响应、错误注入、延迟与调用记录场景。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kardelitaitu/auto-ai-sub007/ai"
)

// --- MockClient 结构 ---

// MockClient 是 ai.Client 的模拟实现
type MockClient struct {
	mu sync.RWMutex

	// 响应配置
	name     string
	model    string
	response string
	err      error

	// 调用记录
	calls    []MockClientCall
	sendFunc func(ctx context.Context, req *ai.BackendRequest) (*ai.BackendResponse, error)

	// 行为控制
	delay     time.Duration // 模拟延迟
	failFirst int           // 前 N 次调用失败，之后成功
	failAfter int           // 在第 N 次调用后失败
	callCount int
}

// MockClientCall 记录单次调用
type MockClientCall struct {
	Request  *ai.BackendRequest
	Response *ai.BackendResponse
	Error    error
}

// --- 构造函数和 Builder 方法 ---

// NewMockClient 创建新的 MockClient
func NewMockClient(name string) *MockClient {
	return &MockClient{
		name:     name,
		model:    name + "-model",
		response: "mock response",
		calls:    []MockClientCall{},
	}
}

// WithResponse 设置固定响应内容
func (m *MockClient) WithResponse(response string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithModel 设置响应中的模型名
func (m *MockClient) WithModel(model string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
	return m
}

// WithError 设置返回错误
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置响应延迟
func (m *MockClient) WithDelay(d time.Duration) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailFirst 设置前 N 次调用失败，之后恢复成功
func (m *MockClient) WithFailFirst(n int) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
	return m
}

// WithFailAfter 设置在第 N 次调用后失败
func (m *MockClient) WithFailAfter(n int) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithSendFunc 设置自定义 Send 函数
func (m *MockClient) WithSendFunc(fn func(ctx context.Context, req *ai.BackendRequest) (*ai.BackendResponse, error)) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFunc = fn
	return m
}

// --- Client 接口实现 ---

// Name 返回客户端名称
func (m *MockClient) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Send 生成响应
func (m *MockClient) Send(ctx context.Context, req *ai.BackendRequest) (*ai.BackendResponse, error) {
	m.mu.Lock()
	m.callCount++
	count := m.callCount
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ai.NewError(ai.KindTimeout, m.Name(), ctx.Err().Error())
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 前 N 次失败场景（熔断恢复测试用）
	if m.failFirst > 0 && count <= m.failFirst {
		err := errors.New("mock client: configured to fail first N calls")
		m.calls = append(m.calls, MockClientCall{Request: req, Error: err})
		return nil, err
	}

	// 第 N 次之后失败场景
	if m.failAfter > 0 && count > m.failAfter {
		err := errors.New("mock client: configured to fail after N calls")
		m.calls = append(m.calls, MockClientCall{Request: req, Error: err})
		return nil, err
	}

	// 预设错误
	if m.err != nil {
		m.calls = append(m.calls, MockClientCall{Request: req, Error: m.err})
		return nil, m.err
	}

	// 自定义函数
	if m.sendFunc != nil {
		resp, err := m.sendFunc(ctx, req)
		m.calls = append(m.calls, MockClientCall{Request: req, Response: resp, Error: err})
		return resp, err
	}

	resp := &ai.BackendResponse{
		Content:          m.response,
		Model:            m.model,
		Provider:         m.name,
		PromptTokens:     10,
		CompletionTokens: 20,
	}
	m.calls = append(m.calls, MockClientCall{Request: req, Response: resp})
	return resp, nil
}

// --- 查询方法 ---

// GetCalls 获取所有调用记录
func (m *MockClient) GetCalls() []MockClientCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockClientCall{}, m.calls...)
}

// GetCallCount 获取调用次数
func (m *MockClient) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// GetLastCall 获取最后一次调用
func (m *MockClient) GetLastCall() *MockClientCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset 重置所有状态
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = []MockClientCall{}
	m.callCount = 0
	m.err = nil
}

// --- 预设 Client 工厂 ---

// NewSuccessClient 创建总是成功的客户端
func NewSuccessClient(name, response string) *MockClient {
	return NewMockClient(name).WithResponse(response)
}

// NewErrorClient 创建总是失败的客户端
func NewErrorClient(name string, err error) *MockClient {
	return NewMockClient(name).WithError(err)
}

// NewTimeoutClient 创建总是超时的客户端
func NewTimeoutClient(name string) *MockClient {
	return NewMockClient(name).WithError(ai.NewError(ai.KindTimeout, name, "request timed out"))
}

// --- 路由开关模拟 ---

// MockSettings 是 ai.SettingsSupplier 的模拟实现
type MockSettings struct {
	mu       sync.RWMutex
	settings ai.Settings
	err      error
}

// NewMockSettings 创建路由开关模拟，默认全部启用
func NewMockSettings() *MockSettings {
	return &MockSettings{
		settings: ai.Settings{
			Local:       ai.Enablement{Enabled: true},
			LocalVision: ai.Enablement{Enabled: true},
			Cloud:       ai.Enablement{Enabled: true},
		},
	}
}

// Set 覆盖开关快照
func (m *MockSettings) Set(s ai.Settings) *MockSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return m
}

// SetError 让 Settings 返回错误
func (m *MockSettings) SetError(err error) *MockSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Settings 返回当前开关快照
func (m *MockSettings) Settings() (ai.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return ai.Settings{}, m.err
	}
	return m.settings, nil
}
