// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import "sync"

// rowBatchCapacity bounds how many rows a single pooled batch holds before
// the cache chains in a new one. There's not too much science behind this
// number: it keeps individual batches small enough to reuse cheaply while
// keeping the chain short for typical page sizes.
const rowBatchCapacity = 256

var rowBatchPool = sync.Pool{New: func() any {
	return &rowBatch{rows: make([]Row, 0, rowBatchCapacity)}
}}

// rowBatch is one fixed-capacity link in FetchCache's backing chain,
// adapted from the teacher's pooled seriesBatch: appending past capacity
// chains in a new batch from the pool instead of reallocating a single
// ever-growing slice.
type rowBatch struct {
	rows []Row
	next *rowBatch
}

func getRowBatch() *rowBatch {
	return rowBatchPool.Get().(*rowBatch)
}

func putRowBatchChain(b *rowBatch) {
	for b != nil {
		next := b.next
		b.rows = b.rows[:0]
		b.next = nil
		rowBatchPool.Put(b)
		b = next
	}
}
