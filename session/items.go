// Package session
// Author: momentics <momentics@gmail.com>
//
// Thread-safe key/value bag for application data attached to a session.

package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/momentics/hioload-srv/api"
)

type entry struct {
	val    any
	expiry time.Time
}

// items is a thread-safe implementation of api.Items.
type items struct {
	mu    sync.RWMutex
	clock clock.Clock
	store map[string]entry
}

var _ api.Items = (*items)(nil)

func newItems(clk clock.Clock) *items {
	return &items{
		clock: clk,
		store: make(map[string]entry),
	}
}

func (c *items) expired(e entry, now time.Time) bool {
	return !e.expiry.IsZero() && !now.Before(e.expiry)
}

// Set stores a value, clearing any expiration.
func (c *items) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = entry{val: value}
}

// Get retrieves a live value.
func (c *items) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.expired(e, c.clock.Now()) {
		c.mu.Lock()
		if cur, ok := c.store[key]; ok && cur.expiry.Equal(e.expiry) {
			delete(c.store, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.val, true
}

// Delete removes a key.
func (c *items) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
}

// WithExpiration sets the time to live of an existing key.
func (c *items) WithExpiration(key string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.store[key]; ok {
		e.expiry = c.clock.Now().Add(ttl)
		c.store[key] = e
	}
}

// Keys returns all live keys.
func (c *items) Keys() []string {
	now := c.clock.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.store))
	for k, e := range c.store {
		if !c.expired(e, now) {
			keys = append(keys, k)
		}
	}
	return keys
}
