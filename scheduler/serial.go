// File: scheduler/serial.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package scheduler

import (
	"context"

	"github.com/momentics/hioload-srv/api"
)

// Serial runs the handler on the caller's goroutine. The connection's
// receive loop therefore waits for each package, which keeps per-session
// handling strictly ordered. A deadline only cancels the handler's context.
type Serial struct {
	dispatcher
}

var _ api.PackageScheduler = (*Serial)(nil)

// NewSerial creates a serial scheduler.
func NewSerial(opts Options) *Serial {
	return &Serial{dispatcher: newDispatcher(opts, "scheduler.serial")}
}

// Initialize implements api.PackageScheduler.
func (s *Serial) Initialize(handler api.PackageHandler, policy api.ErrorPolicy) {
	s.initialize(handler, policy)
}

// HandlePackage returns after the handler and the error policy ran. The
// returned channel is already closed.
func (s *Serial) HandlePackage(ctx context.Context, sess api.Session, pkg api.Package) <-chan struct{} {
	s.run(ctx, sess, pkg)
	return closed
}

// Close implements api.PackageScheduler.
func (s *Serial) Close() {}
