// Package taskqueue 进程内有界后台任务队列，固定数量的 worker 消费，不做持久化
package taskqueue

import (
	"context"
	"errors"
	"exam_eval_backend/pkg/logger"
	"exam_eval_backend/pkg/monitoring"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrFull   = errors.New("task queue is full")
	ErrClosed = errors.New("task queue is closed")
)

type Job func(ctx context.Context)

type task struct {
	name string
	ctx  context.Context
	run  Job
}

type Queue struct {
	tasks chan task
	group errgroup.Group

	mu     sync.RWMutex
	closed bool
}

func New(workers, size int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	q := &Queue{tasks: make(chan task, size)}
	for i := 0; i < workers; i++ {
		q.group.Go(q.work)
	}
	return q
}

// Submit 非阻塞入队，队列已满返回 ErrFull
// 任务拿到的 ctx 与请求生命周期脱钩，但保留其中的 trace 等值
func (q *Queue) Submit(ctx context.Context, name string, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.tasks <- task{name: name, ctx: context.WithoutCancel(ctx), run: job}:
		monitoring.QueueDepth.Set(float64(len(q.tasks)))
		return nil
	default:
		return ErrFull
	}
}

func (q *Queue) Len() int {
	return len(q.tasks)
}

// Shutdown 停止接收新任务，等待已入队任务执行完或 ctx 到期
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- q.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("task queue shutdown: %w", ctx.Err())
	}
}

func (q *Queue) work() error {
	for t := range q.tasks {
		monitoring.QueueDepth.Set(float64(len(q.tasks)))
		q.run(t)
	}
	return nil
}

func (q *Queue) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Background task panicked",
				zap.String("task", t.name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	logger.Log.Debug("Background task started", zap.String("task", t.name))
	t.run(t.ctx)
}
