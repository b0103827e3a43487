// SPDX-License-Identifier: AGPL-3.0-only

package sourcefeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/mergeidx/pkg/mergeindex"
)

type fakeFetcher struct {
	mu    sync.Mutex
	total int64
	fail  bool
}

func (f *fakeFetcher) FetchPage(_ context.Context, source mergeindex.SourceID, afterSeq int64) (mergeindex.ResultPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return mergeindex.ResultPage{}, assert.AnError
	}

	remaining := f.total - afterSeq
	if remaining <= 0 {
		return mergeindex.ResultPage{Source: source, RowsInPage: 0}, nil
	}
	n := remaining
	if n > 2 {
		n = 2
	}
	rows := make([]mergeindex.Row, n)
	for i := range rows {
		rows[i] = mergeindex.Row{int(afterSeq) + i}
	}
	page := mergeindex.ResultPage{Source: source, RowsInPage: int(n), Rows: rows}
	if afterSeq == 0 {
		total := int(f.total)
		page.AllRows = &total
	}
	return page, nil
}

func TestFeed_DeliversPagesOnDemand(t *testing.T) {
	fetcher := &fakeFetcher{total: 4}
	feed := NewFeed(fetcher, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Start(ctx, []mergeindex.SourceID{"s1"})
	defer feed.Close()

	page := mustReceive(t, feed)
	require.Equal(t, 2, page.RowsInPage)
	require.NotNil(t, page.AllRows)
	assert.Equal(t, 4, *page.AllRows)

	// FetchNext blocks until its page is handed off on Pages(), so it runs
	// beside the receive rather than before it.
	fetchErr := make(chan error, 1)
	go func() { fetchErr <- page.FetchNext(ctx) }()
	page2 := mustReceive(t, feed)
	require.NoError(t, <-fetchErr)
	assert.Equal(t, 2, page2.RowsInPage)
	assert.Nil(t, page2.AllRows)
}

func TestFeed_DeliversFailSentinelOnPermanentError(t *testing.T) {
	fetcher := &fakeFetcher{fail: true}
	feed := NewFeed(fetcher, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Start(ctx, []mergeindex.SourceID{"s1"})
	defer feed.Close()

	// The retry budget (5 attempts, up to 2s backoff each) must fully
	// exhaust before the fail sentinel is delivered.
	select {
	case page := <-feed.Pages():
		assert.True(t, page.IsFail)
		assert.Error(t, page.Err)
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for fail sentinel")
	}
}

func mustReceive(t *testing.T, feed *Feed) mergeindex.ResultPage {
	t.Helper()
	select {
	case p := <-feed.Pages():
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for page")
		return mergeindex.ResultPage{}
	}
}
