// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"
)

// PageIntake admits inbound pages, updates per-source counters, detects
// global completion, and injects the fail/last sentinel pages. It owns no
// row storage itself: admitted pages are handed to a PageSink (the
// variant-specific StreamCursor the facade constructed it with).
type PageIntake struct {
	sources      map[SourceID]*SourceCounter
	sink         PageSink
	expectedRows *atomic.Int64
	lastEmitted  atomic.Bool
	logger       log.Logger
	metrics      *Metrics
}

// NewPageIntake builds a PageIntake over a fixed, already-registered set of
// sources. sources must not be mutated after this call; registration is
// required to complete before any page traffic starts.
func NewPageIntake(sources map[SourceID]*SourceCounter, sink PageSink, expectedRows *atomic.Int64, logger log.Logger, metrics *Metrics) *PageIntake {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &PageIntake{
		sources:      sources,
		sink:         sink,
		expectedRows: expectedRows,
		logger:       logger,
		metrics:      metrics,
	}
}

// AddPage admits page, following spec section 4.C exactly: apply the
// counter delta, enqueue before flipping to Initialized on a first page (so
// a concurrent observer that sees Initialized also sees the page), then run
// completion detection.
func (p *PageIntake) AddPage(page ResultPage) error {
	counter, ok := p.sources[page.Source]
	if !ok {
		level.Error(p.logger).Log("msg", "page from unregistered source", "source", page.Source)
		return errInvariantf("page from unregistered source %q", page.Source)
	}

	var remaining int64
	if page.AllRows != nil {
		if counter.State() != StateUninitialized {
			level.Error(p.logger).Log("msg", "duplicate first page", "source", page.Source)
			return errInvariantf("duplicate first page from source %q", page.Source)
		}

		remaining = counter.AddAndGet(int64(*page.AllRows) - int64(page.RowsInPage))
		p.expectedRows.Add(int64(*page.AllRows))
		if p.metrics != nil {
			p.metrics.expectedRows.Add(float64(*page.AllRows))
		}

		if page.RowsInPage > 0 {
			p.sink.enqueue(page)
		}
		// Flip state only after the page is enqueued: a concurrent reader
		// that observes Initialized must also observe the page.
		counter.SetState(StateInitialized)
	} else {
		remaining = counter.AddAndGet(-int64(page.RowsInPage))
		if page.RowsInPage > 0 {
			p.sink.enqueue(page)
		}
	}

	if p.metrics != nil && page.RowsInPage > 0 {
		p.metrics.rowsAdmitted.WithLabelValues(string(page.Source)).Add(float64(page.RowsInPage))
	}

	p.checkCompletion(page.Source, counter, remaining)
	return nil
}

// checkCompletion evaluates the per-source and global completion rules.
// remaining may be negative (reordering); completion is only ever declared
// once it hits exactly zero with the counter no longer Uninitialized.
func (p *PageIntake) checkCompletion(source SourceID, counter *SourceCounter, remaining int64) {
	if remaining != 0 || counter.State() == StateUninitialized {
		return
	}

	counter.SetState(StateFinished)
	level.Debug(p.logger).Log("msg", "source finished", "source", source)

	if !p.allSourcesFinished() {
		return
	}
	if p.lastEmitted.CompareAndSwap(false, true) {
		level.Info(p.logger).Log("msg", "all sources finished, emitting terminal sentinel")
		p.sink.enqueue(ResultPage{IsLast: true})
	}
}

func (p *PageIntake) allSourcesFinished() bool {
	for _, c := range p.sources {
		if c.State() != StateFinished {
			return false
		}
	}
	return true
}

// Fail unblocks every cursor waiting on any source by enqueuing one isFail
// sentinel per registered source, each re-raising cause.
func (p *PageIntake) Fail(cause error) {
	level.Error(p.logger).Log("msg", "failing all sources", "err", cause)
	for id := range p.sources {
		p.enqueueFail(id, cause)
	}
}

// FailSource enqueues a single isFail sentinel for source, treated by the
// consumer as a hard stop for the whole stream (per spec, partial failure
// of one source fails the whole index).
func (p *PageIntake) FailSource(source SourceID, cause error) {
	level.Error(p.logger).Log("msg", "failing source", "source", source, "err", cause)
	p.enqueueFail(source, cause)
}

func (p *PageIntake) enqueueFail(source SourceID, cause error) {
	p.sink.enqueue(ResultPage{
		Source: source,
		IsFail: true,
		Err:    cause,
		FetchNext: func(context.Context) error {
			return cause
		},
	})
}

// FetchNextPage asks the transport for the next page from page.Source, but
// only if that source's counter is non-zero — this suppresses spurious
// requests to sources that have already drained. remaining is compared with
// != 0, not > 0: it may be transiently negative under reordering, and that
// still means more pages are expected.
func (p *PageIntake) FetchNextPage(ctx context.Context, page ResultPage) error {
	counter, ok := p.sources[page.Source]
	if !ok || counter.Get() == 0 {
		if p.metrics != nil {
			p.metrics.fetchNextSuppressed.WithLabelValues(string(page.Source)).Inc()
		}
		return nil
	}
	if page.FetchNext == nil {
		return nil
	}
	return page.FetchNext(ctx)
}

func errInvariantf(format string, args ...interface{}) error {
	return errorsWrapf(ErrInvariantViolation, format, args...)
}
