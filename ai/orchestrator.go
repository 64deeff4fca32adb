package ai

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kardelitaitu/auto-ai-sub007/ai/batch"
	"github.com/kardelitaitu/auto-ai-sub007/ai/cache"
	"github.com/kardelitaitu/auto-ai-sub007/ai/circuitbreaker"
	"github.com/kardelitaitu/auto-ai-sub007/ai/queue"
	"github.com/kardelitaitu/auto-ai-sub007/ai/store"
	"github.com/kardelitaitu/auto-ai-sub007/internal/metrics"
)

// OrchestratorConfig 编排器配置
type OrchestratorConfig struct {
	// Queue 准入队列配置
	// 重试统一由熔断层执行，队列默认只做单次调度
	Queue queue.Config `json:"queue"`

	// FailureThreshold 熔断阈值（连续失败次数）
	FailureThreshold int `json:"failure_threshold"`
	// HalfOpenTime 熔断冷却时间（Open -> HalfOpen）
	HalfOpenTime time.Duration `json:"half_open_time"`
	// CallAttempts 每次熔断保护调用的总尝试次数
	CallAttempts int `json:"call_attempts"`

	// Health 健康检查阈值
	Health HealthConfig `json:"health"`

	// BatchEnabled 是否对直连云端动作启用批处理
	BatchEnabled bool `json:"batch_enabled"`
	// Batch 批处理窗口配置
	Batch batch.Config `json:"batch"`
}

// DefaultOrchestratorConfig 返回默认配置
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Queue: queue.Config{
			MaxConcurrent: 3,
			MaxQueued:     100,
			MaxAttempts:   1,
		},
		FailureThreshold: 5,
		HalfOpenTime:     60 * time.Second,
		CallAttempts:     2,
		Health:           DefaultHealthConfig(),
		Batch:            batch.DefaultConfig(),
	}
}

// Deps 编排器的外部协作者
// Cache、Store、Metrics 可为 nil（按部署裁剪）
type Deps struct {
	Local       Client
	LocalVision Client
	Cloud       Client

	Settings      SettingsSupplier
	PromptBuilder PromptBuilder
	Parser        ResponseParser

	Cache   *cache.ResponseCache
	Store   *store.Store
	Metrics *metrics.Collector
}

// Orchestrator AI 请求编排器
// 所有可变状态由实例持有，进程内构造一次后按引用传递
type Orchestrator struct {
	cfg    OrchestratorConfig
	logger *zap.Logger

	local       Client
	localVision Client
	cloud       Client

	supplier      SettingsSupplier
	promptBuilder PromptBuilder
	parser        ResponseParser

	queue    *queue.AdmissionQueue
	breakers *circuitbreaker.Manager
	batcher  *batch.Batcher

	cache   *cache.ResponseCache
	store   *store.Store
	metrics *metrics.Collector

	stats *Stats
}

// batchItem 批处理窗口内的单项：后端 key + 后端请求
type batchItem struct {
	key  string
	breq *BackendRequest
}

// NewOrchestrator 创建编排器
func NewOrchestrator(cfg OrchestratorConfig, deps Deps, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.HalfOpenTime <= 0 {
		cfg.HalfOpenTime = 60 * time.Second
	}
	if cfg.CallAttempts <= 0 {
		cfg.CallAttempts = 1
	}
	if cfg.Health.MinSamples <= 0 || cfg.Health.SuccessRateThreshold <= 0 {
		cfg.Health = DefaultHealthConfig()
	}

	o := &Orchestrator{
		cfg:           cfg,
		logger:        logger.With(zap.String("component", "orchestrator")),
		local:         deps.Local,
		localVision:   deps.LocalVision,
		cloud:         deps.Cloud,
		supplier:      deps.Settings,
		promptBuilder: deps.PromptBuilder,
		parser:        deps.Parser,
		cache:         deps.Cache,
		store:         deps.Store,
		metrics:       deps.Metrics,
		stats:         NewStats(),
	}

	breakerCfg := &circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		HalfOpenTime:     cfg.HalfOpenTime,
	}
	if o.metrics != nil {
		breakerCfg.OnStateChange = func(key string, from, to circuitbreaker.State) {
			o.metrics.ObserveCircuitTransition(key, from.String(), to.String(), float64(to))
		}
	}
	o.breakers = circuitbreaker.NewManager(breakerCfg, logger)
	o.queue = queue.New(cfg.Queue, logger)

	if cfg.BatchEnabled {
		o.batcher = batch.New(cfg.Batch, map[string]batch.Handler{
			KeyCloudModel: o.cloudBatchHandler,
		}, logger)
	}

	return o
}

// Close 关闭队列与批处理器，在途任务正常完成
func (o *Orchestrator) Close() {
	o.queue.Close()
	if o.batcher != nil {
		o.batcher.Close()
	}
}

// Process 处理一个动作请求
// 后端层面的失败通过 Response.Success/Error 上报，不抛 Go error
func (o *Orchestrator) Process(ctx context.Context, req *Request) *Response {
	start := time.Now()
	requestID := uuid.NewString()

	if req == nil || req.Action == "" {
		resp := &Response{
			Success:  false,
			Error:    "missing action",
			Metadata: Metadata{RequestID: requestID, Duration: time.Since(start)},
		}
		o.finish(ctx, req, resp)
		return resp
	}

	// 确定性请求的缓存命中直接短路
	if cached := o.cachedResponse(ctx, req); cached != nil {
		cached.Metadata.RequestID = requestID
		cached.Metadata.Duration = time.Since(start)
		o.finish(ctx, req, cached)
		return cached
	}

	var resp *Response
	switch req.Action {
	case ActionVisionAnalysis:
		resp = o.handleVision(ctx, req)
	case ActionReplyGeneration:
		resp = o.handleReplyGeneration(ctx, req)
	default:
		resp = o.handleDirect(ctx, req)
	}

	resp.Metadata.RequestID = requestID
	resp.Metadata.Duration = time.Since(start)

	o.storeInCache(ctx, req, resp)
	o.finish(ctx, req, resp)
	return resp
}

// handleReplyGeneration 文本生成处理链：
// 本地视觉 → 本地文本 → 云端，逐级降级
func (o *Orchestrator) handleReplyGeneration(ctx context.Context, req *Request) *Response {
	settings := o.routeSettings()
	images := payloadImages(req.Payload)
	breq := o.textRequest(req)

	md := Metadata{}
	var tried []string

	localAvailable := o.local != nil && (settings.Local.Enabled || settings.LocalVision.Enabled)
	if localAvailable {
		// 携带视觉内容时先尝试视觉增强调用
		if settings.LocalVision.Enabled && o.localVision != nil && len(images) > 0 {
			vreq := *breq
			vreq.Images = images
			bresp, err := o.callBackend(ctx, KeyLocalModel, o.localVision, &vreq, req.Priority)
			tried = append(tried, o.localVision.Name())
			if err == nil {
				md.RoutedTo = "local"
				md.Model = bresp.Model
				md.VisionEnabled = true
				md.ProvidersTried = tried
				return &Response{Success: true, Content: bresp.Content, Metadata: md}
			}
			// 超时签名只影响日志里的原因，降级路径不变
			reason := "error"
			if IsTimeout(err) {
				reason = "timeout"
			}
			o.logger.Warn("本地视觉调用失败，降级为纯文本",
				zap.String("reason", reason),
				zap.String("session_id", req.SessionID),
				zap.Error(err),
			)
			md.FallbackFromVision = true
			o.observeFallback("local-vision", "local")
		}

		if settings.Local.Enabled {
			bresp, err := o.callBackend(ctx, KeyLocalModel, o.local, breq, req.Priority)
			tried = append(tried, o.local.Name())
			if err == nil {
				md.RoutedTo = "local"
				md.Model = bresp.Model
				md.VisionEnabled = false
				md.ProvidersTried = tried
				return &Response{Success: true, Content: bresp.Content, Metadata: md}
			}
			o.logger.Warn("本地文本调用失败，降级为云端",
				zap.String("kind", string(KindOf(err))),
				zap.Error(err),
			)
			o.observeFallback("local", "cloud")
		}
	}

	// 云端兜底，剥离视觉内容
	creq := *breq
	creq.Images = nil
	md.FallbackFromLocal = len(tried) > 0
	md.RoutedTo = "cloud"

	if o.cloud == nil {
		md.ProvidersTried = tried
		return &Response{Success: false, Error: "cloud backend not configured", Metadata: md, failureKind: KindProvider}
	}

	bresp, err := o.callBackend(ctx, KeyCloudModel, o.cloud, &creq, req.Priority)
	tried = append(tried, o.cloud.Name())
	md.ProvidersTried = tried
	if err != nil {
		return &Response{Success: false, Error: err.Error(), Metadata: md, failureKind: KindOf(err)}
	}
	md.Model = bresp.Model
	return &Response{Success: true, Content: bresp.Content, Metadata: md}
}

// handleDirect 其余动作直连云端，按动作隔离熔断 key
func (o *Orchestrator) handleDirect(ctx context.Context, req *Request) *Response {
	key := AgentKey(req.Action)
	breq := o.textRequest(req)
	breq.Images = nil

	if o.cloud == nil {
		return &Response{
			Success:     false,
			Error:       "cloud backend not configured",
			Metadata:    Metadata{RoutedTo: "cloud"},
			failureKind: KindProvider,
		}
	}
	md := Metadata{RoutedTo: "cloud", ProvidersTried: []string{o.cloud.Name()}}

	var bresp *BackendResponse
	var err error
	if o.batcher != nil {
		bresp, err = o.submitBatched(ctx, key, breq)
	} else {
		bresp, err = o.callBackend(ctx, key, o.cloud, breq, req.Priority)
	}
	if err != nil {
		return &Response{Success: false, Error: err.Error(), Metadata: md, failureKind: KindOf(err)}
	}
	md.Model = bresp.Model
	return &Response{Success: true, Content: bresp.Content, Metadata: md}
}

// callBackend 统一的后端调用包装：队列准入 → 熔断保护 → 客户端调用
func (o *Orchestrator) callBackend(ctx context.Context, key string, client Client, breq *BackendRequest, priority int) (*BackendResponse, error) {
	resp, err := queue.EnqueueTyped(o.queue, ctx, priority, func(ctx context.Context) (*BackendResponse, error) {
		return circuitbreaker.ExecuteTyped(o.breakers, ctx, key, o.cfg.CallAttempts, func() (*BackendResponse, error) {
			return client.Send(ctx, breq)
		})
	})
	if o.metrics != nil {
		qs := o.queue.Stats()
		o.metrics.SetQueueDepth(qs.Running, qs.Queued)
	}
	return resp, err
}

// submitBatched 将直连云端请求提交到批处理窗口
func (o *Orchestrator) submitBatched(ctx context.Context, key string, breq *BackendRequest) (*BackendResponse, error) {
	resp, err := o.batcher.SubmitSync(ctx, KeyCloudModel, &batch.Request{
		ID:      uuid.NewString(),
		Payload: &batchItem{key: key, breq: breq},
	})
	if err != nil {
		return nil, err
	}
	return resp.Payload.(*BackendResponse), nil
}

// cloudBatchHandler 把一个窗口整体派发给云端后端
// 窗口内各项仍受各自 key 的熔断保护
func (o *Orchestrator) cloudBatchHandler(ctx context.Context, requests []*batch.Request) []*batch.Response {
	responses := make([]*batch.Response, len(requests))

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Queue.MaxConcurrent)
	for i, r := range requests {
		i, r := i, r
		g.Go(func() error {
			item := r.Payload.(*batchItem)
			bresp, err := circuitbreaker.ExecuteTyped(o.breakers, ctx, item.key, o.cfg.CallAttempts, func() (*BackendResponse, error) {
				return o.cloud.Send(ctx, item.breq)
			})
			responses[i] = &batch.Response{ID: r.ID, Payload: bresp, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if o.metrics != nil {
		o.metrics.ObserveBatchFill(len(requests))
	}
	return responses
}

// routeSettings 获取路由开关快照，失败时降级为仅云端
func (o *Orchestrator) routeSettings() Settings {
	if o.supplier == nil {
		return Settings{Cloud: Enablement{Enabled: true}}
	}
	s, err := o.supplier.Settings()
	if err != nil {
		o.logger.Warn("获取路由配置失败，降级为仅云端", zap.Error(err))
		return Settings{Cloud: Enablement{Enabled: true}}
	}
	return s
}

// cachedResponse 尝试缓存命中，仅对 reply-generation 生效
func (o *Orchestrator) cachedResponse(ctx context.Context, req *Request) *Response {
	if o.cache == nil || req.Action != ActionReplyGeneration {
		return nil
	}
	key, err := cache.Key(req.Action, req.Payload)
	if err != nil {
		return nil
	}
	var cached Response
	if err := o.cache.GetJSON(ctx, key, &cached); err != nil || !cached.Success {
		return nil
	}
	cached.Metadata.Cached = true
	return &cached
}

// storeInCache 把成功结果写入缓存（尽力而为）
func (o *Orchestrator) storeInCache(ctx context.Context, req *Request, resp *Response) {
	if o.cache == nil || req.Action != ActionReplyGeneration || !resp.Success || resp.Metadata.Cached {
		return
	}
	key, err := cache.Key(req.Action, req.Payload)
	if err != nil {
		return
	}
	o.cache.SetJSON(ctx, key, resp)
}

// finish 统一收尾：计数、指标、落库
func (o *Orchestrator) finish(ctx context.Context, req *Request, resp *Response) {
	action, sessionID := "", ""
	if req != nil {
		action = req.Action
		sessionID = req.SessionID
	}
	vision := action == ActionVisionAnalysis || resp.Metadata.VisionEnabled
	o.stats.record(resp.Metadata.RoutedTo, resp.Success, vision)

	if o.metrics != nil {
		o.metrics.ObserveRequest(action, resp.Metadata.RoutedTo, resp.Success, resp.Metadata.Duration)
	}
	if o.store != nil {
		errKind := ""
		if !resp.Success {
			errKind = string(resp.failureKind)
			if errKind == "" {
				errKind = string(KindUnknown)
			}
		}
		o.store.Record(context.WithoutCancel(ctx), &store.RequestLog{
			RequestID:  resp.Metadata.RequestID,
			SessionID:  sessionID,
			Action:     action,
			Backend:    resp.Metadata.RoutedTo,
			Success:    resp.Success,
			ErrorKind:  errKind,
			DurationMs: resp.Metadata.Duration.Milliseconds(),
		})
	}
}

func (o *Orchestrator) observeFallback(from, to string) {
	if o.metrics != nil {
		o.metrics.ObserveFallback(from, to)
	}
}

// Stats 返回编排器的聚合统计，只读
func (o *Orchestrator) Stats() OrchestratorStats {
	s := OrchestratorStats{
		Requests: o.stats.Snapshot(),
		Queue:    o.queue.Stats(),
		Circuits: o.breakers.AllStatus(),
	}
	if o.batcher != nil {
		bs := o.batcher.Stats()
		s.Batch = &bs
	}
	return s
}

// OrchestratorStats 编排器统计视图
type OrchestratorStats struct {
	Requests StatsSnapshot                    `json:"requests"`
	Queue    queue.Stats                      `json:"queue"`
	Batch    *batch.Stats                     `json:"batch,omitempty"`
	Circuits map[string]circuitbreaker.Status `json:"circuits"`
}

// ---------------------------------------------------------------------------
// payload 取值辅助
// ---------------------------------------------------------------------------

// textRequest 从请求载荷构造后端请求
func (o *Orchestrator) textRequest(req *Request) *BackendRequest {
	breq := &BackendRequest{
		Prompt: payloadString(req.Payload, "prompt", "text", "message"),
		System: payloadString(req.Payload, "system"),
	}
	if n, ok := payloadInt(req.Payload, "max_tokens"); ok {
		breq.MaxTokens = n
	}
	if f, ok := payloadFloat(req.Payload, "temperature"); ok {
		breq.Temperature = float32(f)
	}
	return breq
}

func payloadString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func payloadInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func payloadFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// payloadImages 提取视觉内容：images 列表或单张 screenshot
func payloadImages(m map[string]any) []string {
	var images []string
	switch v := m["images"].(type) {
	case []string:
		images = append(images, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				images = append(images, s)
			}
		}
	}
	if s, ok := m["screenshot"].(string); ok && s != "" {
		images = append(images, s)
	}
	return images
}

func payloadMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}
