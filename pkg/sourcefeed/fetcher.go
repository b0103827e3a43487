// SPDX-License-Identifier: AGPL-3.0-only

// Package sourcefeed is the demand-driven transport that pulls result pages
// for a registered source and hands them to a merge index. It adapts the
// teacher's concurrentFetchers (pkg/storage/ingest/fetcher.go): one
// in-flight fetch per source, backoff-on-error, atomic buffered counters,
// leveled logging — generalized from Kafka offset ranges to SQL result-page
// sequence numbers, and from the franz-go Kafka client to a single injected
// PageFetcher the embedding SQL engine supplies.
package sourcefeed

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/atomic"

	"github.com/grafana/mergeidx/pkg/mergeindex"
)

// PageFetcher is the transport's real next-page call: fetch the page for
// source that starts after afterSeq rows have already been delivered.
type PageFetcher interface {
	FetchPage(ctx context.Context, source mergeindex.SourceID, afterSeq int64) (mergeindex.ResultPage, error)
}

// retryConfig mirrors the teacher's errBackoff in concurrentFetchers.run:
// short initial backoff, capped ceiling, bounded retries so a genuinely
// dead source eventually surfaces as isFail instead of retrying forever.
var retryConfig = backoff.Config{
	MinBackoff: 250 * time.Millisecond,
	MaxBackoff: 2 * time.Second,
	MaxRetries: 5,
}

// Feed pulls pages for a fixed set of sources from a PageFetcher and
// delivers them, in per-source order, on the channel returned by Pages.
// Each delivered page carries a FetchNext thunk that re-enters Feed for the
// next page from the same source — the pull is demand-driven: Feed only
// fetches a source's first page eagerly; every later page is fetched only
// when something (a StreamCursor draining a page) calls FetchNext.
type Feed struct {
	fetcher PageFetcher
	logger  log.Logger
	metrics *Metrics

	out       chan mergeindex.ResultPage
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	bufferedPages atomic.Int64
	bufferedRows  atomic.Int64
}

// NewFeed returns a Feed pulling from fetcher; the sources it serves are
// given to Start. metrics may be nil, in which case a private registry is
// used.
func NewFeed(fetcher PageFetcher, logger log.Logger, metrics *Metrics) *Feed {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Feed{
		fetcher: fetcher,
		logger:  logger,
		metrics: metrics,
		out:     make(chan mergeindex.ResultPage),
		closed:  make(chan struct{}),
	}
}

// Pages returns the channel a caller wires directly into
// mergeindex.Index.AddPage, one page at a time.
func (f *Feed) Pages() <-chan mergeindex.ResultPage {
	return f.out
}

// Start issues the first fetch for every source in sources, each on its own
// goroutine. Later pages for a source are fetched only on demand, via the
// FetchNext thunk attached to each delivered page.
func (f *Feed) Start(ctx context.Context, sources []mergeindex.SourceID) {
	for _, source := range sources {
		source := source
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			_ = f.fetchAndDeliver(ctx, source, 0)
		}()
	}
}

// BufferedPages returns the number of pages fetched but not yet drained by
// a consumer of Pages().
func (f *Feed) BufferedPages() int64 {
	return f.bufferedPages.Load()
}

// BufferedRows returns the number of rows fetched but not yet drained.
func (f *Feed) BufferedRows() int64 {
	return f.bufferedRows.Load()
}

// fetchAndDeliver retries FetchPage with backoff until it succeeds, the
// retry budget is exhausted, or ctx is done, then delivers either the
// fetched page or an isFail sentinel carrying the last error.
func (f *Feed) fetchAndDeliver(ctx context.Context, source mergeindex.SourceID, afterSeq int64) error {
	boff := backoff.New(ctx, retryConfig)
	var lastErr error

	for boff.Ongoing() {
		span, spanCtx := opentracing.StartSpanFromContext(ctx, "sourcefeed.fetchPage")
		span.SetTag("source", string(source))
		span.SetTag("after_seq", afterSeq)

		page, err := f.fetcher.FetchPage(spanCtx, source, afterSeq)
		span.Finish()

		if err == nil {
			f.metrics.pagesFetched.WithLabelValues(string(source)).Inc()
			f.deliver(source, page, afterSeq)
			return nil
		}

		lastErr = err
		f.metrics.fetchErrors.WithLabelValues(string(source)).Inc()
		level.Warn(f.logger).Log("msg", "fetch page failed, retrying", "source", source, "after_seq", afterSeq, "err", err)
		boff.Wait()
	}

	level.Error(f.logger).Log("msg", "fetch page failed permanently", "source", source, "after_seq", afterSeq, "err", lastErr)
	f.deliver(source, mergeindex.ResultPage{Source: source, IsFail: true, Err: lastErr}, afterSeq)
	return lastErr
}

func (f *Feed) deliver(source mergeindex.SourceID, page mergeindex.ResultPage, afterSeq int64) {
	rows := int64(page.RowsInPage)
	if !page.IsFail {
		nextAfterSeq := afterSeq + int64(page.RowsInPage)
		page.FetchNext = func(ctx context.Context) error {
			return f.fetchAndDeliver(ctx, source, nextAfterSeq)
		}
		f.bufferedPages.Inc()
		f.bufferedRows.Add(rows)
		f.metrics.bufferedPages.Set(float64(f.bufferedPages.Load()))
		f.metrics.bufferedRows.Set(float64(f.bufferedRows.Load()))
	}

	select {
	case f.out <- page:
		// Drained by the consumer: this page is no longer buffered.
		if !page.IsFail {
			f.bufferedPages.Dec()
			f.bufferedRows.Sub(rows)
			f.metrics.bufferedPages.Set(float64(f.bufferedPages.Load()))
			f.metrics.bufferedRows.Set(float64(f.bufferedRows.Load()))
		}
	case <-f.closed:
	}
}

// Close stops accepting deliveries and waits for the initial per-source
// fetch goroutines to return. Pages already in flight via a FetchNext
// thunk invoked by a caller after Close may still be dropped silently —
// callers should stop invoking FetchNext once they've closed their own
// consumer side.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		close(f.closed)
	})
	f.wg.Wait()
}
