// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Comparator orders two rows for the sorted StreamCursor variant. It
// returns a negative number if a sorts before b, zero if they are equal for
// ordering purposes, and a positive number otherwise — the same contract as
// sort.Interface's Less, generalized to a three-way result so a k-way merge
// can be expressed as a single heap.Interface.
type Comparator func(a, b Row) int

// sortedCursor is the sorted StreamCursor variant: a k-way merge across one
// ordered row-stream per registered source, using container/heap in place
// of the teacher's list-based inflight-want tracking (grounded on
// concurrentFetchers' per-partition ordering, restructured here into a
// proper priority queue since sources, unlike partitions, are not
// consumed in a single fixed order).
//
// Each source contributes at most one candidate row to the heap at a time:
// its current page's next unconsumed row. Popping the heap's root advances
// that source and, if its current page is exhausted, requests the next one
// and refills from its pending queue.
type sortedCursor struct {
	mu   sync.Mutex
	cmp  Comparator
	heap rowHeap

	perSource  map[SourceID]*sourceQueue
	globalDone bool
	err        error
	closed     bool
	notifyCh   chan struct{}

	wg        sync.WaitGroup
	fetchCtx  context.Context
	cancel    context.CancelFunc
	requester nextPageRequester
	metrics   *Metrics
}

type sourceQueue struct {
	source  SourceID
	pending []ResultPage
	current *ResultPage
	idx     int
}

type heapItem struct {
	source SourceID
	row    Row
}

type rowHeap struct {
	items []heapItem
	cmp   Comparator
}

func (h rowHeap) Len() int { return len(h.items) }
func (h rowHeap) Less(i, j int) bool {
	if c := h.cmp(h.items[i].row, h.items[j].row); c != 0 {
		return c < 0
	}
	return h.items[i].source < h.items[j].source
}
func (h rowHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *rowHeap) Push(x interface{}) { h.items = append(h.items, x.(heapItem)) }
func (h *rowHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// NewSortedCursor returns an empty sorted StreamCursor pre-registered for
// sources, ordered by cmp. Call SetRequester before draining it.
func NewSortedCursor(sources []SourceID, cmp Comparator) *sortedCursor {
	ctx, cancel := context.WithCancel(context.Background())
	c := &sortedCursor{
		cmp:       cmp,
		heap:      rowHeap{cmp: cmp},
		perSource: make(map[SourceID]*sourceQueue, len(sources)),
		notifyCh:  make(chan struct{}),
		fetchCtx:  ctx,
		cancel:    cancel,
	}
	for _, s := range sources {
		c.perSource[s] = &sourceQueue{source: s}
	}
	return c
}

// SetRequester wires the PageIntake this cursor asks for more pages
// through. It must be called before the first Next().
func (c *sortedCursor) SetRequester(r nextPageRequester) {
	c.requester = r
}

// SetMetrics wires the instrumentation Next's blocking wait is observed
// against. May be left unset in tests.
func (c *sortedCursor) SetMetrics(m *Metrics) {
	c.metrics = m
}

func (c *sortedCursor) enqueue(page ResultPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	switch {
	case page.IsFail:
		c.err = wrapSourceFailure(page.Err)
	case page.IsLast:
		c.globalDone = true
	default:
		sq, ok := c.perSource[page.Source]
		if !ok {
			return
		}
		sq.pending = append(sq.pending, page)
		if sq.current == nil {
			c.refillSourceLocked(sq)
		}
	}
	c.signalLocked()
}

// refillSourceLocked pops the next non-empty data page for sq off its
// pending queue and pushes its first row onto the heap. Must be called with
// c.mu held and sq.current == nil.
func (c *sortedCursor) refillSourceLocked(sq *sourceQueue) {
	for len(sq.pending) > 0 {
		next := sq.pending[0]
		sq.pending = sq.pending[1:]
		if len(next.Rows) == 0 {
			continue
		}
		page := next
		sq.current = &page
		sq.idx = 0
		heap.Push(&c.heap, heapItem{source: sq.source, row: page.Rows[0]})
		return
	}
}

func (c *sortedCursor) signalLocked() {
	close(c.notifyCh)
	c.notifyCh = make(chan struct{})
}

// Next returns rows across all registered sources in cmp order. Ties in cmp
// are broken by source id (rowHeap.Less), per section 4.D's "tie-breaks
// follow the comparator's secondary key ordering and, if still equal,
// source-id order for determinism".
func (c *sortedCursor) Next(ctx context.Context) (Row, bool, error) {
	for {
		c.mu.Lock()

		if c.err != nil {
			err := c.err
			c.mu.Unlock()
			return nil, false, err
		}

		if c.heap.Len() > 0 {
			top := heap.Pop(&c.heap).(heapItem)
			sq := c.perSource[top.source]
			sq.idx++

			if sq.idx < len(sq.current.Rows) {
				heap.Push(&c.heap, heapItem{source: top.source, row: sq.current.Rows[sq.idx]})
			} else {
				finishedPage := *sq.current
				sq.current = nil
				c.refillSourceLocked(sq)
				c.requestNextAsyncLocked(finishedPage)
			}

			c.mu.Unlock()
			return top.row, true, nil
		}

		if c.globalDone || c.closed {
			c.mu.Unlock()
			return nil, false, nil
		}

		notify := c.notifyCh
		c.mu.Unlock()

		waitStart := time.Now()
		select {
		case <-notify:
		case <-ctx.Done():
			if c.metrics != nil {
				c.metrics.cursorWaitDuration.Observe(time.Since(waitStart).Seconds())
			}
			return nil, false, ctx.Err()
		}
		if c.metrics != nil {
			c.metrics.cursorWaitDuration.Observe(time.Since(waitStart).Seconds())
		}
	}
}

func (c *sortedCursor) requestNextAsyncLocked(page ResultPage) {
	if c.requester == nil || page.FetchNext == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.requester.FetchNextPage(c.fetchCtx, page)
	}()
}

// Close stops accepting new pages, unblocks any pending Next(), and waits
// for in-flight fetchNextPage calls to return. Safe to call more than once.
func (c *sortedCursor) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	c.signalLocked()
	c.mu.Unlock()
	c.wg.Wait()
}
