// SPDX-License-Identifier: AGPL-3.0-only

package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/mergeidx/pkg/mergeindex"
)

func TestStatic_AliveUntilMarkedDead(t *testing.T) {
	s := NewStatic()
	alive, err := s.IsAlive(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, alive)

	s.MarkDead("s1")
	alive, err = s.IsAlive(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, alive)
}

type countingChecker struct {
	calls int
}

func (c *countingChecker) IsAlive(_ context.Context, _ mergeindex.SourceID) (bool, error) {
	c.calls++
	return true, nil
}

func TestPolling_CachesWithinTTL(t *testing.T) {
	inner := &countingChecker{}
	p := NewPolling(inner, time.Hour)

	for i := 0; i < 5; i++ {
		alive, err := p.IsAlive(context.Background(), "s1")
		require.NoError(t, err)
		assert.True(t, alive)
	}
	assert.Equal(t, 1, inner.calls)
}

func TestPolling_RefetchesAfterTTL(t *testing.T) {
	inner := &countingChecker{}
	p := NewPolling(inner, time.Nanosecond)

	_, err := p.IsAlive(context.Background(), "s1")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = p.IsAlive(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}
