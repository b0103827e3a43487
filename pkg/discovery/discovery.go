// SPDX-License-Identifier: AGPL-3.0-only

// Package discovery provides the liveness collaborator the merge index
// consults from its background sweep: "is this source still alive".
package discovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/grafana/mergeidx/pkg/mergeindex"
)

// Checker answers whether source is still alive. Implementations must be
// safe for concurrent use: the liveness sweep calls IsAlive for every
// registered source concurrently.
type Checker interface {
	IsAlive(ctx context.Context, source mergeindex.SourceID) (bool, error)
}

// Static is a fixed healthy/dead set, for tests and for engines that front
// their own discovery system (a k8s endpoints watch, a gossip ring) and
// just need the boolean result plugged in here.
type Static struct {
	mu   sync.RWMutex
	dead map[mergeindex.SourceID]bool
}

// NewStatic returns a Checker that reports every source alive until
// MarkDead is called for it.
func NewStatic() *Static {
	return &Static{dead: make(map[mergeindex.SourceID]bool)}
}

// MarkDead flags source as dead for all future IsAlive calls.
func (s *Static) MarkDead(source mergeindex.SourceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead[source] = true
}

// IsAlive implements Checker.
func (s *Static) IsAlive(_ context.Context, source mergeindex.SourceID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.dead[source], nil
}

// cacheEntry is one source's last-known liveness result and when it was
// observed.
type cacheEntry struct {
	alive    bool
	err      error
	observed time.Time
}

// Polling wraps an inner Checker and caches its answer per source for ttl,
// so a sweep interval shorter than the inner checker's own cost (a network
// probe, a control-plane call) doesn't repeat that cost on every sweep.
// Grounded in the teacher's backoff.Config-driven retry style in
// pkg/storage/ingest/fetcher.go's handleKafkaFetchErr, adapted here from
// "retry on failure" to "cache success/failure for a bounded window".
type Polling struct {
	inner Checker
	ttl   time.Duration

	mu      sync.Mutex
	entries map[mergeindex.SourceID]cacheEntry

	inflight atomic.Int64
}

// NewPolling returns a Checker that delegates to inner but serves cached
// answers younger than ttl.
func NewPolling(inner Checker, ttl time.Duration) *Polling {
	return &Polling{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[mergeindex.SourceID]cacheEntry),
	}
}

// IsAlive implements Checker, consulting the cache before the inner probe.
func (p *Polling) IsAlive(ctx context.Context, source mergeindex.SourceID) (bool, error) {
	p.mu.Lock()
	if e, ok := p.entries[source]; ok && time.Since(e.observed) < p.ttl {
		p.mu.Unlock()
		return e.alive, e.err
	}
	p.mu.Unlock()

	p.inflight.Inc()
	defer p.inflight.Dec()

	alive, err := p.inner.IsAlive(ctx, source)

	p.mu.Lock()
	p.entries[source] = cacheEntry{alive: alive, err: err, observed: time.Now()}
	p.mu.Unlock()

	return alive, err
}

// Inflight reports the number of probes currently delegated to the inner
// Checker, for tests that want to assert the cache is actually suppressing
// duplicate calls.
func (p *Polling) Inflight() int64 {
	return p.inflight.Load()
}
