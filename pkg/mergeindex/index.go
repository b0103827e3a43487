// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"
)

// costOffset is the constantOffset spec section 4.E adds on top of
// rowCount so the planner sees a merge index as strictly more expensive
// than an equivalently-sized local scan.
const costOffset = 1

// Cursor is what Find returns to the planner: a row source plus a release
// hook, independent of whether it turned out to be cache-only or a
// FetchingCursor.
type Cursor interface {
	Next(ctx context.Context) (row Row, ok bool, err error)
	Close()
}

// Index is the MergeIndex facade, orchestrating a SourceCounter per
// registered source, a PageIntake, the variant StreamCursor it feeds, and
// the FetchCache/fetchedCount pair Find reads to pick its cache-only vs
// FetchingCursor branch.
//
// fetched and fetchedCount are read and written only by the query-executor
// goroutine that calls Find and drains the returned Cursor — per section 5,
// that single-writer/single-reader contract is why they are plain fields,
// not atomics.
type Index struct {
	sources      map[SourceID]*SourceCounter
	expectedRows atomic.Int64

	intake *PageIntake
	stream StreamCursor
	cmp    Comparator

	cache        *FetchCache
	fetchedCount int

	logger  log.Logger
	metrics *Metrics

	livenessCancel context.CancelFunc
	livenessDone   chan struct{}

	closeOnce sync.Once
}

// NewIndex builds a MergeIndex over the fixed source set sourceIDs.
// cmp selects the StreamCursor variant: nil for unsorted FIFO delivery
// order, non-nil for the sorted k-way merge. maxFetchSize bounds the
// FetchCache (see MergeTableMaxSize). The liveness sweep, if checker is
// non-nil, runs on sweepInterval until Close.
func NewIndex(sourceIDs []SourceID, cmp Comparator, maxFetchSize int, checker sourceChecker, logger log.Logger, metrics *Metrics) *Index {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	sources := make(map[SourceID]*SourceCounter, len(sourceIDs))
	for _, id := range sourceIDs {
		sources[id] = NewSourceCounter()
	}

	var stream StreamCursor
	if cmp == nil {
		stream = NewFIFOCursor()
	} else {
		sc := NewSortedCursor(sourceIDs, cmp)
		stream = sc
	}

	idx := &Index{
		sources: sources,
		stream:  stream,
		cmp:     cmp,
		cache:   NewFetchCache(maxFetchSize),
		logger:  logger,
		metrics: metrics,
	}

	idx.intake = NewPageIntake(sources, stream, &idx.expectedRows, logger, metrics)

	switch c := stream.(type) {
	case *fifoCursor:
		c.SetRequester(idx.intake)
		c.SetMetrics(metrics)
	case *sortedCursor:
		c.SetRequester(idx.intake)
		c.SetMetrics(metrics)
	}

	if checker != nil {
		idx.startLivenessSweep(checker)
	}

	return idx
}

// AddPage admits page from the transport. See PageIntake.AddPage.
func (idx *Index) AddPage(page ResultPage) error {
	return idx.intake.AddPage(page)
}

// Fail fails the whole index, as if every source had died.
func (idx *Index) Fail(cause error) {
	idx.intake.Fail(cause)
}

// FailSource fails the index because source specifically died or errored.
func (idx *Index) FailSource(source SourceID, cause error) {
	idx.intake.FailSource(source, cause)
}

// RowCount returns the current expectedRows estimate. It is monotonic
// non-decreasing as first pages arrive.
func (idx *Index) RowCount() int64 {
	return idx.expectedRows.Load()
}

// Cost returns a flat, size-proportional cost so the planner treats this
// index as a scan. masks and sortOrder are accepted for interface
// compatibility with the planner's cost-model contract but do not change
// the result: this index has exactly one physical access path.
func (idx *Index) Cost(masks interface{}, sortOrder interface{}) int64 {
	return idx.RowCount() + costOffset
}

// Find returns a Cursor over rows in [first, last]. first and last are nil
// for an unbounded end; bounds are only enforced when the index was built
// with a Comparator (the sorted variant) — the unsorted FIFO variant has no
// ordering for bounds to be meaningful against, matching section 4.D.
func (idx *Index) Find(first, last Row) (Cursor, error) {
	if idx.cache.Discarded() {
		return nil, ErrFetchedTooLarge
	}

	it, err := idx.cache.Cursor()
	if err != nil {
		return nil, err
	}

	if int64(idx.fetchedCount) == idx.RowCount() {
		return &cacheCursor{it: it, cmp: idx.cmp, first: first, last: last}, nil
	}

	return &fetchingCursor{
		iter:  it,
		live:  idx.stream,
		cache: idx.cache,
		idx:   idx,
		cmp:   idx.cmp,
		first: first,
		last:  last,
	}, nil
}

// Add is unsupported: a merge index is pure-scan, never mutated.
func (idx *Index) Add(row Row) error { return ErrOperationUnsupported }

// Remove is unsupported.
func (idx *Index) Remove(first, last Row) error { return ErrOperationUnsupported }

// Truncate is unsupported.
func (idx *Index) Truncate() error { return ErrOperationUnsupported }

// Rename is unsupported.
func (idx *Index) Rename(name string) error { return ErrOperationUnsupported }

// FindFirstOrLast is unsupported.
func (idx *Index) FindFirstOrLast(first bool) (Cursor, error) {
	return nil, ErrOperationUnsupported
}

// Close stops the liveness sweep and the stream cursor's background work.
// It is a no-op on index state, per section 3's lifecycle note: the
// underlying rows are owned by the transport, not this index.
func (idx *Index) Close() {
	idx.closeOnce.Do(func() {
		if idx.livenessCancel != nil {
			idx.livenessCancel()
			<-idx.livenessDone
		}
		idx.stream.Close()
		level.Debug(idx.logger).Log("msg", "index closed")
	})
}

// cacheCursor scans only the FetchCache, for the fetchedCount == expectedRows
// branch of Find.
type cacheCursor struct {
	it          *FetchCacheIterator
	cmp         Comparator
	first, last Row
}

func (c *cacheCursor) Next(ctx context.Context) (Row, bool, error) {
	for {
		row, ok := c.it.Next()
		if !ok {
			return nil, false, nil
		}
		if c.inRange(row) {
			return row, true, nil
		}
	}
}

func (c *cacheCursor) inRange(row Row) bool {
	if c.cmp == nil {
		return true
	}
	if c.first != nil && c.cmp(row, c.first) < 0 {
		return false
	}
	if c.last != nil && c.cmp(row, c.last) > 0 {
		return false
	}
	return true
}

func (c *cacheCursor) Close() {}

// fetchingCursor replays FetchCache first, then transparently switches to
// the live StreamCursor, caching each newly-drawn row exactly once — the
// FetchingCursor invariant from section 4.E: once switched, it never goes
// back to the cache.
type fetchingCursor struct {
	iter        *FetchCacheIterator
	live        StreamCursor
	cache       *FetchCache
	idx         *Index
	cmp         Comparator
	first, last Row
	switched    bool
}

func (f *fetchingCursor) Next(ctx context.Context) (Row, bool, error) {
	for {
		if !f.switched {
			row, ok := f.iter.Next()
			if ok {
				f.idx.fetchedCount++
				if f.inRange(row) {
					return row, true, nil
				}
				continue
			}
			f.switched = true
		}

		row, ok, err := f.live.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}

		f.idx.fetchedCount++
		alreadyDiscarded := f.cache.Discarded()
		if f.cache.Append(row) && !alreadyDiscarded && f.idx.metrics != nil {
			f.idx.metrics.cacheDiscards.Inc()
		}
		if f.inRange(row) {
			return row, true, nil
		}
	}
}

func (f *fetchingCursor) inRange(row Row) bool {
	if f.cmp == nil {
		return true
	}
	if f.first != nil && f.cmp(row, f.first) < 0 {
		return false
	}
	if f.last != nil && f.cmp(row, f.last) > 0 {
		return false
	}
	return true
}

func (f *fetchingCursor) Close() {}
