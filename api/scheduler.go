// Package api
// Author: momentics
//
// Scheduler contract for package dispatch.

package api

import "context"

// PackageScheduler invokes the application handler for each decoded package
// under a concurrency and ordering policy.
type PackageScheduler interface {
	// Initialize binds the handler and the error policy. It must be called once
	// before the first HandlePackage.
	Initialize(handler PackageHandler, policy ErrorPolicy)

	// HandlePackage dispatches pkg. The returned channel is closed once the
	// handler result has been observed and the error policy applied.
	HandlePackage(ctx context.Context, s Session, pkg Package) <-chan struct{}

	// Close stops accepting packages and releases workers.
	Close()
}
