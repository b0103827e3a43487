// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import "context"

// SourceID identifies a contributing remote node. It is opaque to this
// package; the outer query engine assigns it and the set of valid values is
// fixed at index construction time by explicit registration.
type SourceID string

// Row is a single column-indexed result tuple. Schema/typing of the columns
// is owned by the outer SQL engine; this package only ever copies, never
// inspects, row contents (except through the caller-supplied Comparator used
// by the sorted StreamCursor variant).
type Row []interface{}

// ResultPage is one batch of rows delivered from a single source in one
// transport message. AllRows is nil on every page except a source's first
// accepted page, where it carries the total row count that source will ever
// send — a pointer rather than a bare int because "absent" and "zero" are
// both valid and must stay distinguishable.
//
// IsFail and IsLast are mutually exclusive sentinel discriminants: a
// sentinel page carries no rows and FetchNext is never called on it.
type ResultPage struct {
	Source     SourceID
	RowsInPage int
	AllRows    *int
	Rows       []Row

	IsFail bool
	IsLast bool
	// Err is set when IsFail is true; accessing it is the page's way of
	// raising the error that killed its source.
	Err error

	// FetchNext asks the transport for the next page from Source. It is the
	// page's own action, not the index's: pages own only their source id
	// and this thunk, so there are no back-references from a page to the
	// index that admitted it.
	FetchNext func(ctx context.Context) error
}

// PageSink is the capability PageIntake enqueues admitted pages into. Each
// StreamCursor variant (FIFO, sorted merge) implements it directly instead
// of sharing a base type — composition over inheritance, per the variant
// point design note.
type PageSink interface {
	enqueue(page ResultPage)
}

// StreamCursor is the capability MergeIndex drains rows through. Next blocks
// when no row is yet available and the stream has not terminated; it is the
// only blocking entry point in the whole engine.
type StreamCursor interface {
	PageSink
	// Next returns the next row in this cursor's order, or io.EOF-style
	// termination via the returned error being nil and ok being false.
	Next(ctx context.Context) (row Row, ok bool, err error)
	// Close releases any goroutines or buffers owned by the cursor. It is
	// safe to call more than once.
	Close()
}
