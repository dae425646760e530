// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements a soft-bounded pool of goroutines used to parallelize the
// evaluation of reductions.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool limits the number of tasks running in parallel.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	// 0 disables parallelism and negative values make it unlimited.
	maxParallelism int
	mu             sync.Mutex
	numRunning     int
}

// New returns a new Pool with the given parallelism. If maxParallelism is 0 tasks run inline,
// and if it is negative parallelism is unlimited.
func New(maxParallelism int) *Pool {
	return &Pool{maxParallelism: maxParallelism}
}

// NewDefault returns a new Pool with parallelism runtime.NumCPU().
func NewDefault() *Pool {
	return New(runtime.NumCPU())
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the configured parallelism. See New.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// lockedRunTaskInGoroutine runs the task and keeps tabs on w.numRunning.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.mu.Unlock()
		}()
		task()
	}()
}

// StartIfAvailable runs the task in a separate goroutine, if there are workers left.
// It returns true if it started the task, false otherwise.
//
// It's up to the caller to synchronize the end of the task.
func (w *Pool) StartIfAvailable(task func()) bool {
	if w.IsUnlimited() {
		go task()
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.lockedRunTaskInGoroutine(task)
	return true
}

// ForEachChunk splits [0, n) in consecutive chunks of at most chunkSize elements, and calls
// fn(start, end) once for each of them, in parallel when workers are available. Chunks for
// which no worker is available run in the calling goroutine. It returns when all chunks are
// done.
func (w *Pool) ForEachChunk(n, chunkSize int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if chunkSize <= 0 {
		chunkSize = n
	}
	if !w.IsEnabled() || n <= chunkSize {
		for start := 0; start < n; start += chunkSize {
			fn(start, min(start+chunkSize, n))
		}
		return
	}
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		task := func() {
			defer wg.Done()
			fn(start, end)
		}
		if !w.StartIfAvailable(task) {
			task()
		}
	}
	wg.Wait()
}
