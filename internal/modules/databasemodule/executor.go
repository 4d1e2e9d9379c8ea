package databasemodule

import (
	"context"
	"errors"
	"sync"
)

// ErrExecutorStopped is returned when work is submitted after Stop.
var ErrExecutorStopped = errors.New("blocking executor is stopped")

// Executor runs blocking storage work on a bounded pool of dedicated
// goroutines so callers never occupy their own goroutine with database I/O.
// Submission and completion both honor context cancellation; a task already
// handed to a worker runs to completion, but an abandoning caller stops
// waiting for it.
type Executor struct {
	workers int
	tasks   chan executorTask
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

type executorTask struct {
	fn   func() error
	done chan error
}

// NewExecutor creates an executor with the given number of workers. The
// task queue is buffered at twice the worker count.
func NewExecutor(workers int) *Executor {
	if workers < 1 {
		workers = 1
	}
	return &Executor{
		workers: workers,
		tasks:   make(chan executorTask, workers*2),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker goroutines. Idempotent.
func (e *Executor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}
	e.running = true

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
}

// Stop halts the workers and waits for in-flight tasks to finish. Queued
// tasks that never reached a worker fail their callers via the stop signal.
func (e *Executor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
	e.wg.Wait()
}

// Run submits fn to the pool and waits for its result. Returns the context
// error if ctx is cancelled before a worker picks the task up or while
// waiting for completion, and ErrExecutorStopped if the pool shuts down
// first.
func (e *Executor) Run(ctx context.Context, fn func() error) error {
	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return ErrExecutorStopped
	}
	e.mu.RUnlock()

	t := executorTask{fn: fn, done: make(chan error, 1)}

	select {
	case e.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return ErrExecutorStopped
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Workers returns the pool size.
func (e *Executor) Workers() int {
	return e.workers
}

// QueueDepth returns the number of tasks waiting for a worker.
func (e *Executor) QueueDepth() int {
	return len(e.tasks)
}

func (e *Executor) worker() {
	defer e.wg.Done()

	for {
		select {
		case t := <-e.tasks:
			t.done <- t.fn()
		case <-e.stopCh:
			return
		}
	}
}
