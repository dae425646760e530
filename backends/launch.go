// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kreduce/formula"
	"github.com/gomlx/kreduce/reduction"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Output is the result of a reduction job: NOut rows of dimension DimOut, row-major.
// It is owned by the caller.
type Output[T formula.Float] struct {
	JobID     uuid.UUID
	Rows, Dim int
	Data      []T

	// Executor is the name of the executor that computed the output.
	Executor string
	Elapsed  time.Duration
}

// Row returns the view of the i-th output row.
func (o *Output[T]) Row(i int) []T {
	return o.Data[i*o.Dim : (i+1)*o.Dim]
}

// LaunchOption configures optional parameters of Launch.
type LaunchOption func(*launchConfig)

type launchConfig struct {
	progress func(done, total int)
}

// WithProgress sets a function called as output rows are completed, with the number of rows done
// so far and the total. Calls are serialized, but may happen from different goroutines.
func WithProgress(fn func(done, total int)) LaunchOption {
	return func(c *launchConfig) { c.progress = fn }
}

// DTypeOf returns the dtype of the precision T.
func DTypeOf[T formula.Float]() dtypes.DType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return dtypes.Float32
	default:
		return dtypes.Float64
	}
}

// Launch runs the reduction r on the executor selected by tags, and returns the newly
// allocated output of shape (nOut, dimOut).
//
// nx and ny are the sizes of the two point sets. nOut must be the number of output rows (nx
// when reducing over j, ny when reducing over i) and dimOut must be r.DimOut(). args has one
// flat buffer per variable index (see Job), with r.NArgs() entries.
//
// Errors wrap ErrInvalidInput, ErrPrecision, ErrNoExecutor, ErrNoAccelerator or
// ErrDeviceResidencyUnsupported, or are returned by the executor. It never falls back to a
// different executor than the one requested.
func Launch[T formula.Float](r *reduction.Reduction, tags Tags, nx, ny, nOut, dimOut int, args [][]T,
	opts ...LaunchOption) (*Output[T], error) {
	if r == nil {
		return nil, errors.Wrap(ErrInvalidInput, "nil reduction")
	}
	var config launchConfig
	for _, opt := range opts {
		opt(&config)
	}
	if err := validateLaunch(r, nx, ny, nOut, dimOut, args); err != nil {
		return nil, errors.WithMessagef(err, "launching reduction %q", r.Name())
	}
	executor, err := SelectExecutor(tags)
	if err != nil {
		return nil, errors.WithMessagef(err, "launching reduction %q", r.Name())
	}

	job := &Job{
		ID:        uuid.New(),
		Reduction: r,
		Tags:      tags,
		NX:        nx,
		NY:        ny,
		NOut:      nOut,
		DimOut:    dimOut,
		Args:      make([]any, len(args)),
	}
	for ii, arg := range args {
		if r.Arg(ii) != nil {
			job.Args[ii] = arg
		}
	}
	data := make([]T, nOut*dimOut)
	job.Output = data
	if config.progress != nil {
		var mu sync.Mutex
		var done int
		job.progress = func(rows int) {
			mu.Lock()
			defer mu.Unlock()
			done += rows
			config.progress(done, nOut)
		}
	}

	klog.V(1).Infof("%s: executing on %q, %s pairs", job, executor.Name(), humanize.Comma(int64(nx)*int64(ny)))
	start := time.Now()
	if err := executor.Execute(job); err != nil {
		return nil, errors.WithMessagef(err, "executor %q failed to run %s", executor.Name(), job)
	}
	elapsed := time.Since(start)
	klog.V(2).Infof("%s: done in %s", job, elapsed)
	return &Output[T]{
		JobID:    job.ID,
		Rows:     nOut,
		Dim:      dimOut,
		Data:     data,
		Executor: executor.Name(),
		Elapsed:  elapsed,
	}, nil
}

func validateLaunch[T formula.Float](r *reduction.Reduction, nx, ny, nOut, dimOut int, args [][]T) error {
	if dtype := DTypeOf[T](); dtype != r.Precision() {
		return errors.Wrapf(ErrPrecision, "reduction %q has precision %s, but buffers are %s", r.Name(), r.Precision(), dtype)
	}
	if nx < 0 || ny < 0 {
		return errors.Wrapf(ErrInvalidInput, "point set sizes must be non-negative, got nx=%d and ny=%d", nx, ny)
	}
	wantOut := nx
	if r.Axis() == reduction.OverI {
		wantOut = ny
	}
	if nOut != wantOut {
		return errors.Wrapf(ErrInvalidInput, "reduction %s has %d output rows, got nOut=%d", r.Axis(), wantOut, nOut)
	}
	if dimOut != r.DimOut() {
		return errors.Wrapf(ErrInvalidInput, "reduction output dimension is %d, got dimOut=%d", r.DimOut(), dimOut)
	}
	if len(args) != r.NArgs() {
		return errors.Wrapf(ErrInvalidInput, "reduction takes %d arguments, got %d", r.NArgs(), len(args))
	}
	for ii, v := range r.Args() {
		if v == nil {
			continue
		}
		rows := nx
		switch v.VarCategory() {
		case formula.IndexedByJ:
			rows = ny
		case formula.Parameter:
			rows = 1
		}
		if want := rows * v.Dim(); len(args[ii]) != want {
			return errors.Wrapf(ErrInvalidInput, "argument #%d (%s) should have %d values (%d rows of dimension %d), got %d",
				ii, v, want, rows, v.Dim(), len(args[ii]))
		}
	}
	if nOut > 0 && (nx == 0 || ny == 0) {
		klog.Warningf("reduction %q: reducing over an empty point set (nx=%d, ny=%d), the output is the %s of nothing",
			r.Name(), nx, ny, r.Op())
	}
	return nil
}
