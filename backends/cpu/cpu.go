// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpu implements the CPU executor of reductions, and registers it on initialization.
//
// Output rows are independent: they are split in chunks, evaluated in parallel by a pool of
// workers, each with its own formula evaluator, and written to disjoint parts of the output.
// The result doesn't depend on the parallelism.
//
// The parallelism is configured with the environment variable KREDUCE_CPU_PARALLELISM: 0
// disables parallelism, a negative value makes it unlimited, and the default is runtime.NumCPU().
package cpu

import (
	"os"
	"runtime"
	"strconv"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kreduce/backends"
	"github.com/gomlx/kreduce/formula"
	"github.com/gomlx/kreduce/internal/workerspool"
	"github.com/gomlx/kreduce/reduction"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Name of the executor.
const Name = "cpu"

// KREDUCE_CPU_PARALLELISM is the environment variable that configures the parallelism of the
// registered CPU executor.
const KREDUCE_CPU_PARALLELISM = "KREDUCE_CPU_PARALLELISM"

// minPairsPerChunk is the minimum number of (row, reduced point) pairs evaluated by one task.
const minPairsPerChunk = 4096

func init() {
	backends.RegisterCPU(NewFromEnv())
}

// Executor implements backends.Executor for the CPU.
type Executor struct {
	workers *workerspool.Pool
}

var _ backends.Executor = (*Executor)(nil)

// New returns a CPU executor with the given parallelism: 0 disables it, and negative values make
// it unlimited.
func New(parallelism int) *Executor {
	return &Executor{workers: workerspool.New(parallelism)}
}

// NewFromEnv returns a CPU executor configured by the environment variable KREDUCE_CPU_PARALLELISM.
func NewFromEnv() *Executor {
	parallelism, err := ParallelismFromEnv()
	if err != nil {
		klog.Warningf("%v: using the default parallelism %d", err, runtime.NumCPU())
		return &Executor{workers: workerspool.NewDefault()}
	}
	return New(parallelism)
}

// ParallelismFromEnv returns the parallelism configured by KREDUCE_CPU_PARALLELISM, or
// runtime.NumCPU() if it is not set.
func ParallelismFromEnv() (int, error) {
	value, found := os.LookupEnv(KREDUCE_CPU_PARALLELISM)
	if !found || value == "" {
		return runtime.NumCPU(), nil
	}
	parallelism, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid value %q for $%s", value, KREDUCE_CPU_PARALLELISM)
	}
	return parallelism, nil
}

// Name implements backends.Executor.
func (e *Executor) Name() string { return Name }

// Parallelism returns the configured parallelism.
func (e *Executor) Parallelism() int { return e.workers.MaxParallelism() }

// Execute implements backends.Executor.
func (e *Executor) Execute(job *backends.Job) error {
	switch dtype := job.Reduction.Precision(); dtype {
	case dtypes.Float32:
		execute[float32](e, job)
	case dtypes.Float64:
		execute[float64](e, job)
	default:
		return errors.Wrapf(backends.ErrPrecision, "cpu executor doesn't support %s", dtype)
	}
	return nil
}

// rowsPerChunk returns the number of output rows evaluated by each task.
func rowsPerChunk(job *backends.Job) int {
	return max(1, minPairsPerChunk/max(1, job.NReduced()))
}

func execute[T formula.Float](e *Executor, job *backends.Job) {
	args, output := backends.JobBuffers[T](job)
	r := job.Reduction
	dimOut := job.DimOut
	chunk := rowsPerChunk(job)
	klog.V(2).Infof("%s: %d rows per task, parallelism %d", job, chunk, e.workers.MaxParallelism())
	e.workers.ForEachChunk(job.NOut, chunk, func(start, end int) {
		kernel := backends.NewKernel(job, args)
		inner := kernel.InnerBuffers()
		nReduced := job.NReduced()
		acc := make([]T, r.DimAccumulator())
		for row := start; row < end; row++ {
			kernel.SetOuter(row)
			reduction.Init(r, acc)
			for k := range nReduced {
				kernel.SetInner(inner, k)
				reduction.Fold(r, acc, kernel.Eval(), k)
			}
			reduction.Finalize(r, output[row*dimOut:(row+1)*dimOut], acc)
		}
		job.ReportProgress(end - start)
	})
}
