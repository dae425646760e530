// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package emulator implements an accelerator executor that runs on the host the same schedules a
// GPU executor uses: the output rows are split in blocks, and the reduced points are streamed in
// tiles that each block copies into its own local ("shared memory") buffers before use.
//
//   - Tiling1D: one task per block of output rows, which streams over all the reduced points.
//   - Tiling2D: one task per pair (block of output rows, tile of reduced points), each producing
//     partial accumulators, followed by a pass merging the partial accumulators of each row in
//     tile order.
//
// Blocks run concurrently. Arguments must be host resident: device residency is reported as
// unsupported.
//
// It is useful to exercise and test the accelerator code paths on machines without a GPU. It
// is registered as the accelerator by package github.com/gomlx/kreduce/backends/default when
// built with the tag "kreduce_gpuemu".
package emulator

import (
	"runtime"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kreduce/backends"
	"github.com/gomlx/kreduce/formula"
	"github.com/gomlx/kreduce/reduction"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Name of the accelerator.
const Name = "emulator"

// DefaultBlockSize is the number of output rows per block, and of reduced points per tile,
// used when none is given.
const DefaultBlockSize = 64

// Accelerator implements backends.Accelerator by emulating the GPU schedules on the host.
type Accelerator struct {
	blockSize   int
	parallelism int
}

var _ backends.Accelerator = (*Accelerator)(nil)

// New returns an emulated accelerator with the given block size (DefaultBlockSize if <= 0).
func New(blockSize int) *Accelerator {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Accelerator{blockSize: blockSize, parallelism: runtime.NumCPU()}
}

// Name implements backends.Executor.
func (a *Accelerator) Name() string { return Name }

// BlockSize returns the number of output rows per block and of reduced points per tile.
func (a *Accelerator) BlockSize() int { return a.blockSize }

// SupportsDeviceResidency implements backends.Accelerator: only host resident arguments are supported.
func (a *Accelerator) SupportsDeviceResidency() bool { return false }

// Execute implements backends.Executor.
func (a *Accelerator) Execute(job *backends.Job) error {
	if job.Tags.Residency == backends.DeviceResident {
		return errors.Wrapf(backends.ErrDeviceResidencyUnsupported, "%s accelerator", Name)
	}
	klog.V(2).Infof("%s: %s tiling, blocks of %d", job, job.Tags.Tiling, a.blockSize)
	switch dtype := job.Reduction.Precision(); dtype {
	case dtypes.Float32:
		return execute[float32](a, job)
	case dtypes.Float64:
		return execute[float64](a, job)
	default:
		return errors.Wrapf(backends.ErrPrecision, "%s accelerator doesn't support %s", Name, dtype)
	}
}

func execute[T formula.Float](a *Accelerator, job *backends.Job) error {
	args, output := backends.JobBuffers[T](job)
	switch job.Tags.Tiling {
	case backends.Tiling1D:
		return execute1D(a, job, args, output)
	case backends.Tiling2D:
		return execute2D(a, job, args, output)
	}
	return errors.Wrapf(backends.ErrInvalidInput, "%s accelerator: unknown tiling %s", Name, job.Tags.Tiling)
}

// numBlocks returns the number of blocks of size blockSize needed to cover n.
func numBlocks(n, blockSize int) int {
	return (n + blockSize - 1) / blockSize
}

// tile holds the values of the variables of the reduced side for a range of reduced points,
// copied from the job arguments: the equivalent of shared memory of a GPU block.
type tile[T formula.Float] struct {
	buffers    [][]T
	dims       []int
	start, end int
}

func newTile[T formula.Float](kernel *backends.Kernel[T], size int) *tile[T] {
	t := &tile[T]{dims: kernel.InnerDims()}
	t.buffers = make([][]T, len(t.dims))
	for ii, dim := range t.dims {
		t.buffers[ii] = make([]T, size*dim)
	}
	return t
}

// load copies the reduced points [start, end) from the argument buffers.
func (t *tile[T]) load(args [][]T, start, end int) {
	t.start, t.end = start, end
	for ii, dim := range t.dims {
		copy(t.buffers[ii], args[ii][start*dim:end*dim])
	}
}

// foldTile folds the reduced points of the tile into the accumulator of the output row
// currently loaded in the kernel.
func foldTile[T formula.Float](r *reduction.Reduction, kernel *backends.Kernel[T], t *tile[T], acc []T) {
	for k := t.start; k < t.end; k++ {
		kernel.SetInner(t.buffers, k-t.start)
		reduction.Fold(r, acc, kernel.Eval(), k)
	}
}

// runBlocks runs task for each of the n blocks, concurrently, converting panics to errors.
func (a *Accelerator) runBlocks(n int, task func(block int)) error {
	var g errgroup.Group
	g.SetLimit(a.parallelism)
	for block := range n {
		g.Go(func() error {
			return exceptions.TryCatch[error](func() { task(block) })
		})
	}
	return g.Wait()
}

// execute1D runs one task per block of output rows. Each task streams over the reduced points one
// tile at a time, keeping the accumulators of all its rows.
func execute1D[T formula.Float](a *Accelerator, job *backends.Job, args [][]T, output []T) error {
	r := job.Reduction
	blockSize := a.blockSize
	dimAcc, dimOut := r.DimAccumulator(), job.DimOut
	nReduced := job.NReduced()
	return a.runBlocks(numBlocks(job.NOut, blockSize), func(block int) {
		start := block * blockSize
		end := min(start+blockSize, job.NOut)
		kernel := backends.NewKernel(job, args)
		t := newTile(kernel, blockSize)
		accs := make([]T, (end-start)*dimAcc)
		for row := start; row < end; row++ {
			reduction.Init(r, accs[(row-start)*dimAcc:(row-start+1)*dimAcc])
		}
		for tileStart := 0; tileStart < nReduced; tileStart += blockSize {
			t.load(kernel.InnerBuffers(), tileStart, min(tileStart+blockSize, nReduced))
			for row := start; row < end; row++ {
				kernel.SetOuter(row)
				foldTile(r, kernel, t, accs[(row-start)*dimAcc:(row-start+1)*dimAcc])
			}
		}
		for row := start; row < end; row++ {
			reduction.Finalize(r, output[row*dimOut:(row+1)*dimOut], accs[(row-start)*dimAcc:(row-start+1)*dimAcc])
		}
		job.ReportProgress(end - start)
	})
}

// execute2D runs one task per pair (block of output rows, tile of reduced points), each writing
// the partial accumulators of its rows. A second pass merges, for each row, the partial
// accumulators in tile order, and finalizes the output.
func execute2D[T formula.Float](a *Accelerator, job *backends.Job, args [][]T, output []T) error {
	r := job.Reduction
	blockSize := a.blockSize
	dimAcc, dimOut := r.DimAccumulator(), job.DimOut
	nOut, nReduced := job.NOut, job.NReduced()
	nRowBlocks, nTiles := numBlocks(nOut, blockSize), numBlocks(nReduced, blockSize)

	// partials[tile][row] holds the accumulator of row for the reduced points of tile.
	partials := make([]T, nTiles*nOut*dimAcc)
	partialOf := func(tileIdx, row int) []T {
		offset := (tileIdx*nOut + row) * dimAcc
		return partials[offset : offset+dimAcc]
	}
	err := a.runBlocks(nRowBlocks*nTiles, func(task int) {
		rowBlock, tileIdx := task/nTiles, task%nTiles
		start := rowBlock * blockSize
		end := min(start+blockSize, nOut)
		kernel := backends.NewKernel(job, args)
		t := newTile(kernel, blockSize)
		t.load(kernel.InnerBuffers(), tileIdx*blockSize, min((tileIdx+1)*blockSize, nReduced))
		for row := start; row < end; row++ {
			acc := partialOf(tileIdx, row)
			reduction.Init(r, acc)
			kernel.SetOuter(row)
			foldTile(r, kernel, t, acc)
		}
	})
	if err != nil {
		return err
	}
	klog.V(2).Infof("%s: merging %d tiles of partial results", job, nTiles)
	return a.runBlocks(nRowBlocks, func(rowBlock int) {
		start := rowBlock * blockSize
		end := min(start+blockSize, nOut)
		acc := make([]T, dimAcc)
		for row := start; row < end; row++ {
			reduction.Init(r, acc)
			for tileIdx := range nTiles {
				reduction.Merge(r, acc, partialOf(tileIdx, row))
			}
			reduction.Finalize(r, output[row*dimOut:(row+1)*dimOut], acc)
		}
		job.ReportProgress(end - start)
	})
}
