// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import "go.uber.org/atomic"

// CounterState is the three-state lifecycle tag attached to a SourceCounter.
// Transitions are monotonic: Uninitialized -> Initialized -> Finished.
type CounterState uint32

const (
	// StateUninitialized is the initial state: no first page has been
	// applied yet, so remaining does not yet reflect a real total.
	StateUninitialized CounterState = iota
	// StateInitialized means the first page (carrying AllRows) has been
	// applied; remaining may still be negative due to reordering.
	StateInitialized
	// StateFinished means remaining has reached zero with the counter
	// already initialized, and every page from this source has been
	// enqueued.
	StateFinished
)

func (s CounterState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// SourceCounter tracks the remaining expected row count for one registered
// source, plus its lifecycle state. remaining may transiently go negative
// when a non-first page from a source arrives before its first page; this
// is expected under the documented race, not an error.
//
// remaining and state are independent atomics rather than one struct
// guarded by a mutex: PageIntake.AddPage updates remaining unconditionally
// on every page, but only flips state at well-defined points (after
// enqueueing a first page's rows, and after remaining reaches zero), so
// there is never a need to observe both fields as a single atomic unit.
type SourceCounter struct {
	remaining atomic.Int64
	state     atomic.Uint32
}

// NewSourceCounter returns a counter in StateUninitialized with remaining=0.
func NewSourceCounter() *SourceCounter {
	return &SourceCounter{}
}

// AddAndGet atomically adds delta to remaining and returns the new value.
func (c *SourceCounter) AddAndGet(delta int64) int64 {
	return c.remaining.Add(delta)
}

// Get returns the current remaining count without modifying it.
func (c *SourceCounter) Get() int64 {
	return c.remaining.Load()
}

// State returns the current lifecycle state.
func (c *SourceCounter) State() CounterState {
	return CounterState(c.state.Load())
}

// SetState overwrites the lifecycle state. Callers are responsible for
// respecting monotonicity; SourceCounter does not enforce it so that
// PageIntake can make the enqueue-then-flip ordering explicit at the call
// site instead of hiding it behind a CAS loop.
func (c *SourceCounter) SetState(s CounterState) {
	c.state.Store(uint32(s))
}
