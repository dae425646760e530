// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	pool := NewDefault()
	require.True(t, pool.IsEnabled())
	require.False(t, pool.IsUnlimited())
	require.Equal(t, runtime.NumCPU(), pool.MaxParallelism())
}

func TestPool_StartIfAvailable(t *testing.T) {
	pool := New(1)
	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.StartIfAvailable(func() {
		close(started)
		<-release
	}))
	<-started
	require.False(t, pool.StartIfAvailable(func() {}), "the only worker is busy")
	close(release)

	// Disabled pool never starts tasks.
	require.False(t, New(0).StartIfAvailable(func() {}))

	// Unlimited pool always does.
	done := make(chan struct{})
	require.True(t, New(-1).StartIfAvailable(func() { close(done) }))
	<-done
}

func TestPool_ForEachChunk(t *testing.T) {
	for _, parallelism := range []int{0, 1, 4, -1} {
		pool := New(parallelism)
		const n = 1003
		counts := make([]int32, n)
		var numCalls atomic.Int32
		pool.ForEachChunk(n, 100, func(start, end int) {
			numCalls.Add(1)
			assert.LessOrEqual(t, end-start, 100)
			for ii := start; ii < end; ii++ {
				counts[ii]++
			}
		})
		for ii, count := range counts {
			require.Equalf(t, int32(1), count, "parallelism=%d: element %d visited %d times", parallelism, ii, count)
		}
		assert.Equal(t, int32(11), numCalls.Load())
	}

	var called bool
	New(4).ForEachChunk(0, 10, func(_, _ int) { called = true })
	assert.False(t, called)
}
