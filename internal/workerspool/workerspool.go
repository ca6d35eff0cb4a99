// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool bounds the number of goroutines used to process independent rows of work,
// e.g. the examples of a batch.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers with a soft limit on parallelism. It can be shared by concurrent users.
type Pool struct {
	// maxParallelism is a limit on the number of tasks running concurrently.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
}

// New return a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{maxParallelism: runtime.NumCPU()}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the limit of tasks running concurrently.
// If 0 parallelism is disabled, and if -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism. It returns the pool itself.
//
// Only change the parallelism before any tasks start running: if changed during the execution
// the behavior is undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) *Pool {
	w.maxParallelism = maxParallelism
	return w
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available to run the task, and starts it in a goroutine.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return
	} else if w.maxParallelism == 0 {
		task()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.lockedRunTaskInGoroutine(task)
}

// lockedRunTaskInGoroutine and keep tabs on w.numRunning.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}

// ParallelFor calls fn(i) for i in [0, n), with up to MaxParallelism calls running concurrently,
// and returns when all calls returned.
//
// The order of the calls is not defined, except if parallelism is disabled, in which case they are
// executed sequentially in the calling goroutine.
func (w *Pool) ParallelFor(n int, fn func(i int)) {
	if n <= 1 || !w.IsEnabled() {
		for ii := range n {
			fn(ii)
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for ii := range n {
		w.WaitToStart(func() {
			defer wg.Done()
			fn(ii)
		})
	}
	wg.Wait()
}
