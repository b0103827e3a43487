// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import "sync"

// FetchCache is the bounded, append-only cache of rows a FetchingCursor has
// already drawn from the live stream. It is written by exactly one goroutine
// (the cursor that owns it) and read by exactly one goroutine at a time (a
// Cursor() replay from Find()), so the locking here exists to make that
// single-writer/single-reader contract safe against the *next* Find() call
// racing a still-draining previous cursor, not to support true concurrent
// readers.
//
// Once the cache would exceed its configured capacity it is discarded for
// good: head/tail are dropped and every subsequent Cursor() call fails with
// ErrFetchedTooLarge. fetchedCount (owned by the facade, not this type)
// keeps incrementing past that point — see DESIGN.md's Open Question notes.
type FetchCache struct {
	mu        sync.RWMutex
	head      *rowBatch
	tail      *rowBatch
	length    int
	maxSize   int
	discarded bool
}

// NewFetchCache returns an empty cache that discards itself once it would
// hold more than maxSize rows.
func NewFetchCache(maxSize int) *FetchCache {
	return &FetchCache{maxSize: maxSize}
}

// Append adds row to the cache. It reports whether the cache is discarded
// after this call (either already discarded, or discarded as a result of
// this append pushing length past maxSize).
func (c *FetchCache) Append(row Row) (discarded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.discarded {
		return true
	}

	if c.tail == nil || len(c.tail.rows) == cap(c.tail.rows) {
		next := getRowBatch()
		if c.tail == nil {
			c.head = next
		} else {
			c.tail.next = next
		}
		c.tail = next
	}
	c.tail.rows = append(c.tail.rows, row)
	c.length++

	if c.length > c.maxSize {
		c.discardLocked()
		return true
	}
	return false
}

// Len returns the number of rows currently held (0 once discarded).
func (c *FetchCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.length
}

// Discarded reports whether the cache has been dropped.
func (c *FetchCache) Discarded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.discarded
}

func (c *FetchCache) discardLocked() {
	putRowBatchChain(c.head)
	c.head = nil
	c.tail = nil
	c.length = 0
	c.discarded = true
}

func (c *FetchCache) get(i int) Row {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b := c.head
	idx := i
	for b != nil {
		if idx < len(b.rows) {
			return b.rows[idx]
		}
		idx -= len(b.rows)
		b = b.next
	}
	return nil
}

// Cursor returns a stable forward iterator over the cache, or
// ErrFetchedTooLarge if the cache has already been discarded.
func (c *FetchCache) Cursor() (*FetchCacheIterator, error) {
	if c.Discarded() {
		return nil, ErrFetchedTooLarge
	}
	return &FetchCacheIterator{cache: c}, nil
}

// FetchCacheIterator is an index-based cursor over a FetchCache: it stores
// only its current position, so growth of the cache between calls to Next
// never invalidates it and never causes it to skip or re-observe a row —
// the same avoidance-of-concurrent-modification-faults idiom the original
// distributed merge index itself relies on.
type FetchCacheIterator struct {
	cache *FetchCache
	pos   int
}

// Next returns the row at the iterator's position and advances it, or
// ok=false if the iterator has caught up to the cache's current length.
func (it *FetchCacheIterator) Next() (row Row, ok bool) {
	if it.pos >= it.cache.Len() {
		return nil, false
	}
	row = it.cache.get(it.pos)
	it.pos++
	return row, true
}
