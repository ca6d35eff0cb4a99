// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool_ParallelFor(t *testing.T) {
	const n = 100
	for _, parallelism := range []int{-1, 0, 1, 4} {
		pool := New().SetMaxParallelism(parallelism)
		var running, maxRunning atomic.Int32
		visited := make([]int32, n)
		pool.ParallelFor(n, func(i int) {
			current := running.Add(1)
			for {
				previous := maxRunning.Load()
				if current <= previous || maxRunning.CompareAndSwap(previous, current) {
					break
				}
			}
			runtime.Gosched()
			atomic.AddInt32(&visited[i], 1)
			running.Add(-1)
		})
		for i, count := range visited {
			assert.Equal(t, int32(1), count, "parallelism=%d: index %d visited %d times", parallelism, i, count)
		}
		if parallelism > 0 {
			assert.LessOrEqual(t, int(maxRunning.Load()), parallelism)
		}
		if parallelism == 0 {
			assert.Equal(t, int32(1), maxRunning.Load())
		}
	}
}

func TestPool_Sequential(t *testing.T) {
	pool := New().SetMaxParallelism(0)
	assert.False(t, pool.IsEnabled())
	var order []int
	pool.ParallelFor(5, func(i int) { order = append(order, i) })
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPool_Defaults(t *testing.T) {
	pool := New()
	assert.Equal(t, runtime.NumCPU(), pool.MaxParallelism())
	assert.True(t, pool.IsEnabled())
	assert.False(t, pool.IsUnlimited())
	assert.True(t, pool.SetMaxParallelism(-1).IsUnlimited())
}
