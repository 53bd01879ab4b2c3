// Package tasks provides the shared background executor and the
// resolve-once futures returned by every engine operation.
package tasks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Future resolves exactly once. Extra Resolve calls are ignored.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) Resolve(v T) {
	f.once.Do(func() {
		f.value = v
		close(f.done)
	})
}

func (f *Future[T]) Done() <-chan struct{} { return f.done }

func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Executor runs one goroutine per submitted task, bounded by a
// semaphore. Tasks may submit follow-up tasks; a follow-up acquires its
// own slot after the submitter finishes, so chains never deadlock.
type Executor struct {
	log    *zap.Logger
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewExecutor(log *zap.Logger, workers int64) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		log:    log.Named("tasks"),
		sem:    semaphore.NewWeighted(workers),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules fn. The task context is the executor's lifetime
// context; cancellable operations layer their own cancel on top.
func (e *Executor) Submit(name string, fn func(ctx context.Context)) {
	taskID := uuid.NewString()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.sem.Acquire(e.ctx, 1); err != nil {
			e.log.Debug("task rejected: executor shut down",
				zap.String("task", name), zap.String("id", taskID))
			return
		}
		defer e.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("task panic",
					zap.String("task", name),
					zap.String("id", taskID),
					zap.Any("panic", r))
			}
		}()
		fn(e.ctx)
	}()
}

// Shutdown cancels the lifetime context and waits for running tasks.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
