// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kreduce/formula"
	"github.com/gomlx/kreduce/reduction"
	"github.com/google/uuid"
)

// Job is one invocation of a reduction, consumed exactly once by an executor.
//
// Arguments are flat row-major buffers, one per variable index: (NX, dim) for variables indexed
// by i, (NY, dim) for variables indexed by j and (dim) for parameters. Entries of indices not
// used by the formula are nil. Args and Output are all []float32 or all []float64, matching the
// reduction precision (see JobBuffers).
type Job struct {
	ID        uuid.UUID
	Reduction *reduction.Reduction
	Tags      Tags

	// NX and NY are the number of points of the first and second point sets.
	NX, NY int

	// NOut is the number of output rows, and DimOut the dimension of each row.
	NOut, DimOut int

	Args   []any
	Output any

	// progress, if set, is called with the number of output rows completed since the last call.
	progress func(rows int)
}

// NReduced is the number of points reduced over: NY when reducing over j, NX otherwise.
func (j *Job) NReduced() int {
	if j.Reduction.Axis() == reduction.OverI {
		return j.NX
	}
	return j.NY
}

// ReportProgress is called by executors when rows output rows have been completed. It is safe
// for concurrent use.
func (j *Job) ReportProgress(rows int) {
	if j.progress != nil && rows > 0 {
		j.progress(rows)
	}
}

// RowsOf returns the number of rows of the buffer of a variable with the given category.
func (j *Job) RowsOf(category formula.Category) int {
	switch category {
	case formula.IndexedByI:
		return j.NX
	case formula.IndexedByJ:
		return j.NY
	}
	return 1
}

// String implements fmt.Stringer.
func (j *Job) String() string {
	return fmt.Sprintf("job %s (%s, backend %s, nx=%d, ny=%d, output %dx%d)",
		j.ID, j.Reduction.Name(), j.Tags, j.NX, j.NY, j.NOut, j.DimOut)
}

// JobBuffers returns the typed views of the arguments and output of the job. It panics if T
// doesn't match the buffers type, which Launch guarantees not to happen.
func JobBuffers[T formula.Float](job *Job) (args [][]T, output []T) {
	args = make([][]T, len(job.Args))
	for ii, arg := range job.Args {
		if arg == nil {
			continue
		}
		typed, ok := arg.([]T)
		if !ok {
			exceptions.Panicf("%s: argument #%d is a %T, not a %T", job, ii, arg, typed)
		}
		args[ii] = typed
	}
	output, ok := job.Output.([]T)
	if !ok {
		exceptions.Panicf("%s: output is a %T, not a %T", job, job.Output, output)
	}
	return
}
