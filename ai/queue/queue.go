// Package queue provides bounded-concurrency, priority-ordered admission
// control for backend calls.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kardelitaitu/auto-ai-sub007/ai/retry"
)

var (
	ErrQueueClosed = errors.New("admission queue closed")
	ErrQueueFull   = errors.New("admission queue full")
)

// Task represents a unit of deferred work.
type Task func(ctx context.Context) (any, error)

// Config configures the admission queue.
type Config struct {
	MaxConcurrent int `json:"max_concurrent"` // tasks running at once
	MaxQueued     int `json:"max_queued"`     // wait list bound; overflow is rejected
	MaxAttempts   int `json:"max_attempts"`   // immediate attempts per task
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 3,
		MaxQueued:     100,
		MaxAttempts:   2,
	}
}

// AdmissionQueue runs tasks with a concurrency ceiling. Waiting tasks are
// released highest priority first, ties broken by enqueue order.
type AdmissionQueue struct {
	cfg     Config
	logger  *zap.Logger
	retryer *retry.Retryer

	mu      sync.Mutex
	waiting entryHeap
	running int
	seq     uint64
	closed  bool
}

type entry struct {
	ctx        context.Context
	task       Task
	priority   int
	seq        uint64
	enqueuedAt time.Time
	result     chan entryResult
}

type entryResult struct {
	value any
	err   error
}

// New creates an admission queue.
func New(cfg Config, logger *zap.Logger) *AdmissionQueue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.MaxQueued <= 0 {
		cfg.MaxQueued = DefaultConfig().MaxQueued
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionQueue{
		cfg:     cfg,
		logger:  logger,
		retryer: retry.NewRetryer(retry.Immediate(cfg.MaxAttempts), logger),
	}
}

// Enqueue submits a task and blocks until it completes or ctx is done.
// If a slot is free the task starts immediately; otherwise it waits in the
// priority-ordered list. A full wait list is rejected with ErrQueueFull.
func (q *AdmissionQueue) Enqueue(ctx context.Context, task Task, priority int) (any, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}

	q.seq++
	e := &entry{
		ctx:        ctx,
		task:       task,
		priority:   priority,
		seq:        q.seq,
		enqueuedAt: time.Now(),
		result:     make(chan entryResult, 1),
	}

	if q.running < q.cfg.MaxConcurrent {
		q.running++
		q.mu.Unlock()
		go q.run(e)
	} else {
		if q.waiting.Len() >= q.cfg.MaxQueued {
			q.mu.Unlock()
			return nil, ErrQueueFull
		}
		heap.Push(&q.waiting, e)
		q.mu.Unlock()
	}

	select {
	case res := <-e.result:
		return res.value, res.err
	case <-ctx.Done():
		// The task may still run to completion; the caller just stops waiting.
		return nil, ctx.Err()
	}
}

func (q *AdmissionQueue) run(e *entry) {
	value, err := q.retryer.DoWithResult(e.ctx, func() (any, error) {
		return e.task(e.ctx)
	})
	e.result <- entryResult{value: value, err: err}
	q.dispatchNext()
}

// dispatchNext frees the finished slot and starts the highest-priority
// waiting task, if any.
func (q *AdmissionQueue) dispatchNext() {
	q.mu.Lock()
	q.running--
	if q.closed || q.waiting.Len() == 0 {
		q.mu.Unlock()
		return
	}
	next := heap.Pop(&q.waiting).(*entry)
	q.running++
	q.mu.Unlock()
	go q.run(next)
}

// Close rejects all waiting tasks. Running tasks complete normally.
func (q *AdmissionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for q.waiting.Len() > 0 {
		e := heap.Pop(&q.waiting).(*entry)
		e.result <- entryResult{err: ErrQueueClosed}
	}
}

// Stats reports the current running and queued counts.
func (q *AdmissionQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Running: q.running, Queued: q.waiting.Len()}
}

// Stats contains queue load counters.
type Stats struct {
	Running int `json:"running"`
	Queued  int `json:"queued"`
}

// EnqueueTyped is a type-safe generic wrapper around Enqueue.
func EnqueueTyped[T any](q *AdmissionQueue, ctx context.Context, priority int, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := q.Enqueue(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, priority)
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// entryHeap orders entries by priority (higher first), then enqueue order.
// All access is guarded by AdmissionQueue.mu.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
