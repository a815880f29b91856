// File: internal/concurrency/executor.go
// Package concurrency implements a bounded worker pool with a FIFO backlog.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks to a fixed set of worker goroutines. Tasks that
// arrive while every worker is busy wait in an unbounded FIFO unless a
// backlog limit is configured. A panicking task is logged and does not take
// its worker down.

package concurrency

import (
	"runtime"
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/momentics/hioload-srv/api"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// Executor manages a pool of worker goroutines.
type Executor struct {
	mu         sync.Mutex
	cond       *sync.Cond
	backlog    *queue.Queue
	maxBacklog int
	closed     bool
	wg         sync.WaitGroup
	log        *zap.Logger
	numWorkers int

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	panics         atomic.Int64
}

// NewExecutor creates an Executor with numWorkers goroutines.
// If numWorkers <= 0, defaults to runtime.NumCPU(). maxBacklog <= 0 leaves
// the backlog unbounded.
func NewExecutor(numWorkers, maxBacklog int, log *zap.Logger) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Executor{
		backlog:    queue.New(),
		maxBacklog: maxBacklog,
		log:        log,
		numWorkers: numWorkers,
	}
	e.cond = sync.NewCond(&e.mu)
	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go e.worker()
	}
	return e
}

// Submit enqueues a task for execution.
func (e *Executor) Submit(task TaskFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return api.ErrExecutorClosed
	}
	if e.maxBacklog > 0 && e.backlog.Length() >= e.maxBacklog {
		return api.ErrResourceExhausted
	}
	e.backlog.Add(task)
	e.totalTasks.Inc()
	e.cond.Signal()
	return nil
}

// NumWorkers returns the number of workers.
func (e *Executor) NumWorkers() int { return e.numWorkers }

// Close stops accepting tasks, lets workers finish the backlog and waits
// for them to exit. Safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		e.cond.Broadcast()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	total, done := e.totalTasks.Load(), e.completedTasks.Load()
	return map[string]int64{
		"total_tasks":     total,
		"completed_tasks": done,
		"pending_tasks":   total - done,
		"panics":          e.panics.Load(),
		"num_workers":     int64(e.numWorkers),
	}
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for e.backlog.Length() == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.backlog.Length() == 0 {
			e.mu.Unlock()
			return
		}
		task := e.backlog.Remove().(TaskFunc)
		e.mu.Unlock()
		e.execute(task)
	}
}

// execute runs the task and updates statistics, recovering from panics.
func (e *Executor) execute(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Inc()
			e.log.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		e.completedTasks.Inc()
	}()
	task()
}
