// File: connection/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-srv/api"
	"github.com/momentics/hioload-srv/log"
	"github.com/momentics/hioload-srv/pool"
)

// Default values used when Options leave a field zero.
const (
	DefaultMaxRequestLength = 1024
	DefaultSendingQueueSize = 5
	DefaultSendTimeout      = 5 * time.Second
)

// Options wires a Connection to its collaborators.
type Options struct {
	// Filter is the first pipeline filter. Required.
	Filter api.PipelineFilter
	// Pool supplies the receive buffer. Nil allocates a private 4 KiB arena.
	Pool api.BufferPool
	// MaxRequestLength bounds the bytes a filter may hold undecoded.
	MaxRequestLength int
	// SendingQueueSize bounds pending outbound payloads.
	SendingQueueSize int
	// SendTimeout is evaluated on every Send. Nil means DefaultSendTimeout;
	// a non-positive result leaves only the caller's context.
	SendTimeout func() time.Duration

	// OnPackage receives packages in decode order on the receive goroutine.
	// The next read is issued only after it returns.
	OnPackage func(pkg api.Package)
	// OnActivity runs after every successful read and write.
	OnActivity func()
	// OnReceived and OnSent report byte counts.
	OnReceived func(n int)
	OnSent     func(n int64)
	// OnClose runs exactly once with the terminating reason.
	OnClose func(reason api.CloseReason)

	Logger *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Pool == nil {
		o.Pool = pool.NewArena(4096, 1)
	}
	if o.MaxRequestLength <= 0 {
		o.MaxRequestLength = DefaultMaxRequestLength
	}
	if o.SendingQueueSize <= 0 {
		o.SendingQueueSize = DefaultSendingQueueSize
	}
	if o.SendTimeout == nil {
		o.SendTimeout = func() time.Duration { return DefaultSendTimeout }
	}
	if o.OnPackage == nil {
		o.OnPackage = func(api.Package) {}
	}
	if o.OnActivity == nil {
		o.OnActivity = func() {}
	}
	if o.OnReceived == nil {
		o.OnReceived = func(int) {}
	}
	if o.OnSent == nil {
		o.OnSent = func(int64) {}
	}
	if o.OnClose == nil {
		o.OnClose = func(api.CloseReason) {}
	}
	if o.Logger == nil {
		o.Logger = log.Named(nil, "connection")
	}
}
