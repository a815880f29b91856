// File: session/sweeper.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Periodic eviction of idle sessions.

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/momentics/hioload-srv/api"
	"github.com/momentics/hioload-srv/log"
)

// SweeperConfig controls idle eviction.
type SweeperConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// Timeout is read on every sweep so it can change at runtime.
	Timeout func() time.Duration
}

// Sweeper closes sessions idle for at least the configured timeout with
// api.CloseTimeOut.
type Sweeper struct {
	reg   *Registry
	cfg   SweeperConfig
	clock clock.Clock
	log   *zap.Logger

	running sync.Mutex
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSweeper creates a stopped sweeper over reg.
func NewSweeper(reg *Registry, cfg SweeperConfig, clk clock.Clock, logger *zap.Logger) *Sweeper {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 120 * time.Second
	}
	if cfg.Timeout == nil {
		cfg.Timeout = func() time.Duration { return 300 * time.Second }
	}
	return &Sweeper{reg: reg, cfg: cfg, clock: clk, log: log.Named(logger, "sweeper")}
}

// Start runs sweeps every interval until ctx is done or Stop is called.
func (w *Sweeper) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	ticker := w.clock.Ticker(w.cfg.Interval)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// A tick that overlaps a running sweep is dropped.
				w.wg.Add(1)
				go func() {
					defer w.wg.Done()
					w.Sweep()
				}()
			}
		}
	}()
}

// Stop halts the ticker and waits for the loop and in-flight sweeps.
func (w *Sweeper) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
		w.wg.Wait()
	}
}

// Sweep runs one eviction pass. It returns the number of sessions closed and
// false when another pass was still running.
func (w *Sweeper) Sweep() (int, bool) {
	if !w.running.TryLock() {
		w.log.Debug("sweep skipped, previous pass still running")
		return 0, false
	}
	defer w.running.Unlock()

	timeout := w.cfg.Timeout()
	if timeout <= 0 {
		return 0, true
	}
	cutoff := w.clock.Now().Add(-timeout)
	idle := lo.Filter(w.reg.Snapshot(), func(s api.Session, _ int) bool {
		return s.State() != api.SessionClosed && !s.LastActiveTime().After(cutoff)
	})

	closed := 0
	for _, s := range idle {
		if err := w.evict(s); err != nil {
			w.log.Error("evict idle session", zap.String("session", s.ID()), zap.Error(err))
			continue
		}
		closed++
	}
	if closed > 0 {
		w.log.Info("idle sessions closed", zap.Int("count", closed), zap.Duration("timeout", timeout))
	}
	return closed, true
}

func (w *Sweeper) evict(s api.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close panicked: %v", r)
		}
	}()
	w.log.Debug("session idle", zap.String("session", s.ID()),
		zap.Time("last_active", s.LastActiveTime()))
	s.Close(api.CloseTimeOut)
	return nil
}
