// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	mu   sync.Mutex
	dead map[SourceID]bool
}

func (f *fakeChecker) IsAlive(_ context.Context, source SourceID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead[source], nil
}

func TestCheckSourceNodesAlive_AllAliveIsNoOp(t *testing.T) {
	idx := NewIndex([]SourceID{"s1", "s2"}, nil, DefaultMergeTableMaxSize, nil, nil, nil)
	defer idx.Close()

	checker := &fakeChecker{dead: map[SourceID]bool{}}
	require.NoError(t, idx.checkSourceNodesAlive(context.Background(), checker))

	assert.Equal(t, StateUninitialized, idx.sources["s1"].State())
}

func TestCheckSourceNodesAlive_DeadSourceTriggersFail(t *testing.T) {
	idx := NewIndex([]SourceID{"s1", "s2"}, nil, DefaultMergeTableMaxSize, nil, nil, nil)
	defer idx.Close()

	require.NoError(t, idx.AddPage(ResultPage{Source: "s1", RowsInPage: 0, AllRows: intOf(5)}))

	cur, err := idx.Find(nil, nil)
	require.NoError(t, err)

	checker := &fakeChecker{dead: map[SourceID]bool{"s1": true}}
	require.NoError(t, idx.checkSourceNodesAlive(context.Background(), checker))

	_, ok, err := cur.Next(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSourceFailure)
}
