// Package batch 将发往同一后端的同质请求聚合为批量调度。
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrBatcherClosed = errors.New("batcher closed")
	ErrNoHandler     = errors.New("no handler registered for backend")
)

// Request 批处理窗口中的单个请求
type Request struct {
	ID      string `json:"id"`
	Payload any    `json:"payload,omitempty"`
}

// Response 单个请求的批处理结果
type Response struct {
	ID      string `json:"id"`
	Payload any    `json:"payload,omitempty"`
	Err     error  `json:"error,omitempty"`
}

// Handler 将一个完整窗口一次性派发给后端
type Handler func(ctx context.Context, requests []*Request) []*Response

// Config 配置批处理器
type Config struct {
	BatchSize  int           `json:"batch_size"`  // 单次派发的最大条数
	BatchDelay time.Duration `json:"batch_delay"` // 窗口强制刷新前的最大等待
}

// DefaultConfig 返回合理的默认值
func DefaultConfig() Config {
	return Config{
		BatchSize:  5,
		BatchDelay: 200 * time.Millisecond,
	}
}

// Batcher 按后端聚合请求
// 窗口在达到 BatchSize 或 BatchDelay 到期时刷新，二者先到先触发，
// 且每个窗口只刷新一次
type Batcher struct {
	cfg      Config
	logger   *zap.Logger
	handlers map[string]Handler // 构造时注册，之后只读

	mu      sync.Mutex
	windows map[string]*window
	closed  bool

	// 计量
	submitted  atomic.Int64
	batches    atomic.Int64
	dispatched atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
}

type window struct {
	backend  string
	openedAt time.Time
	items    []*pendingRequest
	timer    *time.Timer
	flushed  bool
}

type pendingRequest struct {
	ctx      context.Context
	request  *Request
	response chan *Response
}

// New 创建批处理器
// handlers 为各后端的派发句柄，注册一次后不再变更
func New(cfg Config, handlers map[string]Handler, logger *zap.Logger) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultConfig().BatchDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registered := make(map[string]Handler, len(handlers))
	for backend, h := range handlers {
		registered[backend] = h
	}
	return &Batcher{
		cfg:      cfg,
		logger:   logger,
		handlers: registered,
		windows:  make(map[string]*window),
	}
}

// Submit 将请求加入 backend 的当前窗口并返回响应通道
func (b *Batcher) Submit(ctx context.Context, backend string, req *Request) <-chan *Response {
	respCh := make(chan *Response, 1)

	if _, ok := b.handlers[backend]; !ok {
		respCh <- &Response{ID: req.ID, Err: ErrNoHandler}
		close(respCh)
		return respCh
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		respCh <- &Response{ID: req.ID, Err: ErrBatcherClosed}
		close(respCh)
		return respCh
	}

	b.submitted.Add(1)

	w, ok := b.windows[backend]
	if !ok {
		// 首条请求开窗，同时启动延迟刷新计时器
		w = &window{backend: backend, openedAt: time.Now()}
		w.timer = time.AfterFunc(b.cfg.BatchDelay, func() {
			b.flushWindow(w, "delay")
		})
		b.windows[backend] = w
	}
	w.items = append(w.items, &pendingRequest{ctx: ctx, request: req, response: respCh})

	if len(w.items) >= b.cfg.BatchSize {
		b.detachLocked(w)
		b.mu.Unlock()
		go b.dispatch(w, "size")
		return respCh
	}
	b.mu.Unlock()

	return respCh
}

// SubmitSync 提交请求并等待结果
func (b *Batcher) SubmitSync(ctx context.Context, backend string, req *Request) (*Response, error) {
	respCh := b.Submit(ctx, backend, req)

	select {
	case resp := <-respCh:
		if resp.Err != nil {
			return nil, resp.Err
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flushWindow 计时器到期触发的刷新
// 窗口若已因 size 触发被摘除，这里什么也不做，保证单次刷新
func (b *Batcher) flushWindow(w *window, reason string) {
	b.mu.Lock()
	if w.flushed || b.windows[w.backend] != w {
		b.mu.Unlock()
		return
	}
	b.detachLocked(w)
	b.mu.Unlock()
	b.dispatch(w, reason)
}

// detachLocked 把窗口从活动集合中摘除并标记，调用方必须持有 b.mu
func (b *Batcher) detachLocked(w *window) {
	w.flushed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	delete(b.windows, w.backend)
}

// dispatch 将整个窗口一次性交给后端句柄并分发结果
func (b *Batcher) dispatch(w *window, reason string) {
	if len(w.items) == 0 {
		return
	}

	b.batches.Add(1)
	b.dispatched.Add(int64(len(w.items)))
	b.logger.Debug("批处理窗口刷新",
		zap.String("backend", w.backend),
		zap.String("reason", reason),
		zap.Int("size", len(w.items)),
		zap.Duration("age", time.Since(w.openedAt)),
	)

	requests := make([]*Request, len(w.items))
	for i, p := range w.items {
		requests[i] = p.request
	}

	// 派发上下文与各提交者的取消解耦，单个调用方取消只作用于它
	// 自己的等待侧，不能让同窗其他请求失败
	dispatchCtx := context.Background()
	if first := w.items[0].ctx; first != nil {
		dispatchCtx = context.WithoutCancel(first)
	}
	responses := b.handlers[w.backend](dispatchCtx, requests)

	responseMap := make(map[string]*Response, len(responses))
	for _, resp := range responses {
		responseMap[resp.ID] = resp
	}

	for _, p := range w.items {
		resp, ok := responseMap[p.request.ID]
		if !ok {
			resp = &Response{
				ID:  p.request.ID,
				Err: fmt.Errorf("no response for request %s", p.request.ID),
			}
		}
		if resp.Err != nil {
			b.failed.Add(1)
		} else {
			b.completed.Add(1)
		}

		select {
		case p.response <- resp:
		default:
		}
		close(p.response)
	}
}

// Close 刷新所有未派发的窗口并拒绝后续提交
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	remaining := make([]*window, 0, len(b.windows))
	for _, w := range b.windows {
		remaining = append(remaining, w)
	}
	for _, w := range remaining {
		b.detachLocked(w)
	}
	b.mu.Unlock()

	for _, w := range remaining {
		b.dispatch(w, "close")
	}
}

// Stats 返回批处理统计
func (b *Batcher) Stats() Stats {
	s := Stats{
		Submitted: b.submitted.Load(),
		Batches:   b.batches.Load(),
		Completed: b.completed.Load(),
		Failed:    b.failed.Load(),
	}
	if s.Batches > 0 {
		s.AverageFill = float64(b.dispatched.Load()) / float64(s.Batches)
	}
	b.mu.Lock()
	for _, w := range b.windows {
		s.Pending += len(w.items)
	}
	b.mu.Unlock()
	return s
}

// Stats 批处理统计
type Stats struct {
	Submitted   int64   `json:"submitted"`
	Batches     int64   `json:"batches"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Pending     int     `json:"pending"`
	AverageFill float64 `json:"average_fill"`
}
