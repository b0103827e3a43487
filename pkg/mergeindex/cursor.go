// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import (
	"context"
	"sync"
	"time"
)

// nextPageRequester is the narrow slice of PageIntake a StreamCursor needs:
// asking for more data from a source, gated on that source not having
// already drained. Depending on PageIntake through this interface instead
// of the concrete type keeps the dependency direction one-way (intake ->
// sink, cursor -> requester) with no import cycle between the two.
type nextPageRequester interface {
	FetchNextPage(ctx context.Context, page ResultPage) error
}

// fifoCursor is the unsorted StreamCursor variant: pages are consumed in
// arrival order, rows within a page in their on-wire order. It implements
// PageSink directly (enqueue) rather than sharing a base type with the
// sorted variant in cursor_merge.go — capability composition, no
// inheritance, per the variant-point design note.
type fifoCursor struct {
	mu         sync.Mutex
	pending    []ResultPage
	current    *ResultPage
	currentIdx int
	done       bool
	err        error
	closed     bool
	notifyCh   chan struct{}

	wg        sync.WaitGroup
	fetchCtx  context.Context
	cancel    context.CancelFunc
	requester nextPageRequester
	metrics   *Metrics
}

// NewFIFOCursor returns an empty unsorted StreamCursor. Call SetRequester
// before draining it so fetchNextPage calls can be issued lazily.
func NewFIFOCursor() *fifoCursor {
	ctx, cancel := context.WithCancel(context.Background())
	return &fifoCursor{
		notifyCh: make(chan struct{}),
		fetchCtx: ctx,
		cancel:   cancel,
	}
}

// SetRequester wires the PageIntake this cursor asks for more pages
// through. It must be called before the first Next().
func (c *fifoCursor) SetRequester(r nextPageRequester) {
	c.requester = r
}

// SetMetrics wires the instrumentation Next's blocking wait is observed
// against. May be left unset in tests.
func (c *fifoCursor) SetMetrics(m *Metrics) {
	c.metrics = m
}

func (c *fifoCursor) enqueue(page ResultPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending = append(c.pending, page)
	c.signalLocked()
}

func (c *fifoCursor) signalLocked() {
	close(c.notifyCh)
	c.notifyCh = make(chan struct{})
}

// Next blocks until a row is available, the stream terminates, or ctx is
// done. It is the only blocking entry point in the cursor.
func (c *fifoCursor) Next(ctx context.Context) (Row, bool, error) {
	for {
		c.mu.Lock()

		if c.err != nil {
			err := c.err
			c.mu.Unlock()
			return nil, false, err
		}

		if c.current != nil && c.currentIdx < len(c.current.Rows) {
			row := c.current.Rows[c.currentIdx]
			c.currentIdx++
			drained := c.currentIdx == len(c.current.Rows)
			var finishedPage ResultPage
			if drained {
				finishedPage = *c.current
				c.current = nil
			}
			c.mu.Unlock()
			if drained {
				c.requestNextAsync(finishedPage)
			}
			return row, true, nil
		}

		if len(c.pending) > 0 {
			next := c.pending[0]
			c.pending = c.pending[1:]
			switch {
			case next.IsFail:
				c.err = wrapSourceFailure(next.Err)
			case next.IsLast:
				c.done = true
			default:
				page := next
				c.current = &page
				c.currentIdx = 0
			}
			c.mu.Unlock()
			continue
		}

		if c.done || c.closed {
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

func (c *fifoCursor) requestNextAsync(page ResultPage) {
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
func (c *fifoCursor) Close() {
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
