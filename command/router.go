// File: command/router.go
// Package command routes keyed packages to named handlers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Routes are registered explicitly; nothing is discovered at runtime.

package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/momentics/hioload-srv/api"
)

// ErrUnknownCommand is returned for keys without a route or fallback.
var ErrUnknownCommand = fmt.Errorf("%w: unknown command", api.ErrNotFound)

// Router is an api.PackageHandler dispatching on api.KeyedPackage.Key.
type Router struct {
	mu              sync.RWMutex
	routes          map[string]api.PackageHandler
	fallback        api.PackageHandler
	middleware      []Middleware
	caseInsensitive bool
}

// Middleware wraps the handler resolved for a package. It may run code
// before and after next, skip next to cancel the command, or swallow the
// error next returned.
type Middleware func(next api.PackageHandler) api.PackageHandler

// Option configures a Router.
type Option func(*Router)

// IgnoreCase matches keys case-insensitively.
func IgnoreCase() Option {
	return func(r *Router) { r.caseInsensitive = true }
}

// NewRouter creates an empty router.
func NewRouter(opts ...Option) *Router {
	r := &Router{routes: make(map[string]api.PackageHandler)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) key(name string) string {
	if r.caseInsensitive {
		return strings.ToUpper(name)
	}
	return name
}

// Register binds name to h. Registering a name twice fails.
func (r *Router) Register(name string, h api.PackageHandler) error {
	if name == "" || h == nil {
		return fmt.Errorf("register command %q: %w", name, api.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(name)
	if _, ok := r.routes[k]; ok {
		return fmt.Errorf("register command %q: %w", name, api.ErrAlreadyExists)
	}
	r.routes[k] = h
	return nil
}

// HandleFunc registers a function handler.
func (r *Router) HandleFunc(name string, fn func(ctx context.Context, s api.Session, pkg api.Package) error) error {
	return r.Register(name, api.HandlerFunc(fn))
}

// Fallback sets the handler for unmatched or unkeyed packages.
func (r *Router) Fallback(h api.PackageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Use appends middleware. The first one registered is the outermost.
func (r *Router) Use(mw ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw...)
}

// Commands lists registered names in sorted order.
func (r *Router) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.routes))
	for k := range r.routes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Handle implements api.PackageHandler.
func (r *Router) Handle(ctx context.Context, s api.Session, pkg api.Package) error {
	var (
		h    api.PackageHandler
		name string
	)
	r.mu.RLock()
	if kp, ok := pkg.(api.KeyedPackage); ok {
		name = kp.Key()
		h = r.routes[r.key(name)]
	}
	if h == nil {
		h = r.fallback
	}
	mw := r.middleware
	r.mu.RUnlock()

	if h == nil {
		return fmt.Errorf("%w %q", ErrUnknownCommand, name)
	}
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h.Handle(ctx, s, pkg)
}
