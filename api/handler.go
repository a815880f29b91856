// File: api/handler.go
// Package api defines handler contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "context"

// PackageHandler processes decoded packages. Implementations must honor ctx
// cancellation; the scheduler never terminates handler code forcibly.
type PackageHandler interface {
	Handle(ctx context.Context, s Session, pkg Package) error
}

// HandlerFunc adapts a function to PackageHandler.
type HandlerFunc func(ctx context.Context, s Session, pkg Package) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, s Session, pkg Package) error {
	return f(ctx, s, pkg)
}

// ErrorPolicy decides whether a session must be closed after a handler failure.
type ErrorPolicy func(s Session, err error) bool

// ErrorReporter receives every handler failure before the policy is consulted.
type ErrorReporter func(s Session, pkg Package, err error)
