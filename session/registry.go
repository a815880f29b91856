// File: session/registry.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe registry of live sessions.

package session

import (
	"hash/fnv"
	"slices"
	"strings"
	"sync"

	"go.uber.org/atomic"

	"github.com/momentics/hioload-srv/api"
)

// Registry maps session IDs to sessions. An ID is never overwritten.
type Registry struct {
	shards []*registryShard
	mask   uint32
	count  atomic.Int64
}

type registryShard struct {
	mu       sync.RWMutex
	sessions map[string]api.Session
}

// NewRegistry constructs a registry with shardCount shards, rounded up to a
// power of two.
func NewRegistry(shardCount int) *Registry {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*registryShard, m)
	for i := range shards {
		shards[i] = &registryShard{sessions: make(map[string]api.Session)}
	}
	return &Registry{shards: shards, mask: m - 1}
}

func (r *Registry) shard(id string) *registryShard {
	return r.shards[fnv32(id)&r.mask]
}

// Register adds s. It returns false, keeping the existing entry, when the ID
// is already registered.
func (r *Registry) Register(s api.Session) bool {
	sh := r.shard(s.ID())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[s.ID()]; ok {
		return false
	}
	sh.sessions[s.ID()] = s
	r.count.Inc()
	return true
}

// Unregister removes id. Removing an absent ID is a no-op returning false.
func (r *Registry) Unregister(id string) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[id]; !ok {
		return false
	}
	delete(sh.sessions, id)
	r.count.Dec()
	return true
}

// Get fetches a session if present.
func (r *Registry) Get(id string) (api.Session, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int { return int(r.count.Load()) }

// Snapshot returns the registered sessions sorted by ID. Shards are copied
// one at a time, so the result is consistent per shard.
func (r *Registry) Snapshot() []api.Session {
	out := make([]api.Session, 0, r.Len())
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, s := range sh.sessions {
			out = append(out, s)
		}
		sh.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b api.Session) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

// fnv32 hashes a string to uint32.
func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
