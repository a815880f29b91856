// File: scheduler/concurrent.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package scheduler

import (
	"context"
	"fmt"

	"github.com/momentics/hioload-srv/api"
	"github.com/momentics/hioload-srv/internal/concurrency"
)

// Concurrent hands packages to a worker pool and returns immediately, so a
// slow handler never holds up reads. Packages reach the pool in decode
// order; completion order is not guaranteed.
type Concurrent struct {
	dispatcher
	exec *concurrency.Executor
}

var _ api.PackageScheduler = (*Concurrent)(nil)

// NewConcurrent creates a scheduler backed by workers goroutines. backlog
// bounds the packages waiting for a worker; zero leaves it unbounded.
func NewConcurrent(workers, backlog int, opts Options) *Concurrent {
	c := &Concurrent{dispatcher: newDispatcher(opts, "scheduler.concurrent")}
	c.exec = concurrency.NewExecutor(workers, backlog, c.log)
	return c
}

// Initialize implements api.PackageScheduler.
func (c *Concurrent) Initialize(handler api.PackageHandler, policy api.ErrorPolicy) {
	c.initialize(handler, policy)
}

// HandlePackage queues pkg. The channel closes once the handler finished and
// the error policy ran. A package the pool refuses is treated as a handler
// failure.
func (c *Concurrent) HandlePackage(ctx context.Context, s api.Session, pkg api.Package) <-chan struct{} {
	done := make(chan struct{})
	err := c.exec.Submit(func() {
		defer close(done)
		c.run(ctx, s, pkg)
	})
	if err != nil {
		c.fail(s, pkg, fmt.Errorf("dispatch package: %w", err))
		close(done)
	}
	return done
}

// Close waits for queued packages to finish and stops the workers.
func (c *Concurrent) Close() { c.exec.Close() }

// Stats exposes worker pool counters.
func (c *Concurrent) Stats() map[string]int64 { return c.exec.Stats() }
