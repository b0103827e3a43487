// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainAll(t *testing.T, cur Cursor) []Row {
	t.Helper()
	var got []Row
	for {
		row, ok, err := cur.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return got
		}
		got = append(got, row)
	}
}

func TestIndex_FindBeforeDrainReturnsFetchingCursor(t *testing.T) {
	idx := NewIndex([]SourceID{"s1"}, nil, DefaultMergeTableMaxSize, nil, nil, nil)
	defer idx.Close()

	require.NoError(t, idx.AddPage(ResultPage{
		Source: "s1", RowsInPage: 2, AllRows: intOf(2), Rows: []Row{{1}, {2}},
	}))

	cur, err := idx.Find(nil, nil)
	require.NoError(t, err)

	got := drainAll(t, cur)
	assert.Equal(t, []Row{{1}, {2}}, got)
	assert.Equal(t, int64(2), idx.RowCount())
}

func TestIndex_FindAfterFullDrainReturnsCacheCursor(t *testing.T) {
	idx := NewIndex([]SourceID{"s1"}, nil, DefaultMergeTableMaxSize, nil, nil, nil)
	defer idx.Close()

	require.NoError(t, idx.AddPage(ResultPage{
		Source: "s1", RowsInPage: 2, AllRows: intOf(2), Rows: []Row{{1}, {2}},
	}))

	cur, err := idx.Find(nil, nil)
	require.NoError(t, err)
	drainAll(t, cur)

	cur2, err := idx.Find(nil, nil)
	require.NoError(t, err)
	got := drainAll(t, cur2)
	assert.Equal(t, []Row{{1}, {2}}, got)
}

func TestIndex_FindFailsAfterCacheDiscarded(t *testing.T) {
	idx := NewIndex([]SourceID{"s1"}, nil, 1, nil, nil, nil)
	defer idx.Close()

	require.NoError(t, idx.AddPage(ResultPage{
		Source: "s1", RowsInPage: 2, AllRows: intOf(2), Rows: []Row{{1}, {2}},
	}))

	cur, err := idx.Find(nil, nil)
	require.NoError(t, err)
	drainAll(t, cur)

	_, err = idx.Find(nil, nil)
	assert.ErrorIs(t, err, ErrFetchedTooLarge)
}

func TestIndex_UnsupportedMutationsFail(t *testing.T) {
	idx := NewIndex([]SourceID{"s1"}, nil, DefaultMergeTableMaxSize, nil, nil, nil)
	defer idx.Close()

	assert.ErrorIs(t, idx.Add(Row{1}), ErrOperationUnsupported)
	assert.ErrorIs(t, idx.Remove(nil, nil), ErrOperationUnsupported)
	assert.ErrorIs(t, idx.Truncate(), ErrOperationUnsupported)
	assert.ErrorIs(t, idx.Rename("x"), ErrOperationUnsupported)
	_, err := idx.FindFirstOrLast(true)
	assert.ErrorIs(t, err, ErrOperationUnsupported)
}

func TestIndex_CostIsRowCountPlusOffset(t *testing.T) {
	idx := NewIndex([]SourceID{"s1"}, nil, DefaultMergeTableMaxSize, nil, nil, nil)
	defer idx.Close()

	require.NoError(t, idx.AddPage(ResultPage{Source: "s1", RowsInPage: 0, AllRows: intOf(7)}))
	assert.Equal(t, int64(7)+costOffset, idx.Cost(nil, nil))
}

func TestIndex_SourceFailureSurfacesThroughCursor(t *testing.T) {
	idx := NewIndex([]SourceID{"s1"}, nil, DefaultMergeTableMaxSize, nil, nil, nil)
	defer idx.Close()

	// A first page that leaves the source still expecting more rows forces
	// Find's FetchingCursor branch instead of the fully-cached one.
	require.NoError(t, idx.AddPage(ResultPage{Source: "s1", RowsInPage: 0, AllRows: intOf(5)}))

	cur, err := idx.Find(nil, nil)
	require.NoError(t, err)

	idx.FailSource("s1", assert.AnError)

	_, ok, err := cur.Next(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSourceFailure)
}
