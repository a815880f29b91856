// File: scheduler/scheduler.go
// Package scheduler runs the application handler for decoded packages under
// a serial or concurrent policy, with a per-package deadline and an error
// policy deciding whether a failing session survives.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-srv/api"
	"github.com/momentics/hioload-srv/log"
)

// CloseOnError is the default policy: any handler failure closes the session.
func CloseOnError(api.Session, error) bool { return true }

// KeepOpen never closes the session on handler failure.
func KeepOpen(api.Session, error) bool { return false }

// Options shared by both schedulers.
type Options struct {
	// Timeout is read per package. Non-positive disables the deadline.
	Timeout func() time.Duration
	// Reporter sees every failure before the error policy runs.
	Reporter api.ErrorReporter
	Logger   *zap.Logger
}

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// dispatcher holds what both schedulers share.
type dispatcher struct {
	handler api.PackageHandler
	policy  api.ErrorPolicy
	opts    Options
	log     *zap.Logger
}

func newDispatcher(opts Options, name string) dispatcher {
	if opts.Timeout == nil {
		opts.Timeout = func() time.Duration { return 0 }
	}
	return dispatcher{opts: opts, log: log.Named(opts.Logger, name)}
}

func (d *dispatcher) initialize(handler api.PackageHandler, policy api.ErrorPolicy) {
	if handler == nil {
		panic("scheduler: nil handler")
	}
	if policy == nil {
		policy = CloseOnError
	}
	d.handler, d.policy = handler, policy
}

// run handles one package to completion, including error reporting.
func (d *dispatcher) run(ctx context.Context, s api.Session, pkg api.Package) {
	if t := d.opts.Timeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	err := d.invoke(ctx, s, pkg)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		cause := err
		if cause == nil {
			cause = ctx.Err()
		}
		err = fmt.Errorf("%w: %w", api.ErrHandlingTimeout, cause)
	}
	if err != nil {
		d.fail(s, pkg, err)
	}
}

func (d *dispatcher) invoke(ctx context.Context, s api.Session, pkg api.Package) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panicked", zap.String("session", s.ID()),
				zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.handler.Handle(ctx, s, pkg)
}

// fail reports err and applies the error policy. A panicking policy counts
// as a decision to close.
func (d *dispatcher) fail(s api.Session, pkg api.Package, err error) {
	d.report(s, pkg, err)
	if d.decide(s, err) {
		s.Close(api.CloseApplicationError)
	}
}

func (d *dispatcher) report(s api.Session, pkg api.Package, err error) {
	if d.opts.Reporter == nil {
		d.log.Warn("handler failed", zap.String("session", s.ID()), zap.Error(err))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("error reporter panicked", zap.Any("panic", r))
		}
	}()
	d.opts.Reporter(s, pkg, err)
}

func (d *dispatcher) decide(s api.Session, err error) (closeSession bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("error policy panicked", zap.String("session", s.ID()), zap.Any("panic", r))
			closeSession = true
		}
	}()
	return d.policy(s, err)
}
