// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"os"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kreduce/formula"
	"github.com/gomlx/kreduce/reduction"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor fills the output with its id and records the jobs it received.
type fakeExecutor struct {
	name            string
	deviceResidency bool
	jobs            []*Job
	err             error
}

func (e *fakeExecutor) Name() string { return e.name }

func (e *fakeExecutor) SupportsDeviceResidency() bool { return e.deviceResidency }

func (e *fakeExecutor) Execute(job *Job) error {
	e.jobs = append(e.jobs, job)
	if e.err != nil {
		return e.err
	}
	_, output := JobBuffers[float64](job)
	for ii := range output {
		output[ii] = float64(len(e.name))
	}
	job.ReportProgress(job.NOut)
	return nil
}

// withExecutors registers the given executors for the duration of the test.
func withExecutors(t *testing.T, cpu Executor, acc Accelerator) {
	previousCPU, previousAcc := CPUExecutor(), CurrentAccelerator()
	muRegistry.Lock()
	cpuExecutor, accelerator = cpu, acc
	muRegistry.Unlock()
	t.Cleanup(func() {
		muRegistry.Lock()
		cpuExecutor, accelerator = previousCPU, previousAcc
		muRegistry.Unlock()
	})
}

func testReduction(t *testing.T, precision dtypes.DType) *reduction.Reduction {
	b := formula.NewBuilder(t.Name())
	x := formula.Vi(b, 0, 3)
	y := formula.Vj(b, 1, 3)
	p := formula.Pm(b, 3, 1)
	f := formula.GaussKernel(p, x, y, formula.Concat(x, formula.Elem(y, 0)))
	return reduction.New("gauss", f, reduction.Sum, reduction.OverJ, precision)
}

func TestParseTags(t *testing.T) {
	for _, tc := range []struct {
		config string
		want   Tags
	}{
		{"cpu", Tags{Device: CPU}},
		{" CPU ", Tags{Device: CPU}},
		{"gpu", Tags{Device: GPU}},
		{"gpu:2d", Tags{Device: GPU, Tiling: Tiling2D}},
		{"gpu:device", Tags{Device: GPU, Residency: DeviceResident}},
		{"gpu:host:2d", Tags{Device: GPU, Tiling: Tiling2D}},
		{"gpu:1d:device", Tags{Device: GPU, Residency: DeviceResident}},
	} {
		got, err := ParseTags(tc.config)
		require.NoErrorf(t, err, "ParseTags(%q)", tc.config)
		assert.Equalf(t, tc.want, got, "ParseTags(%q)", tc.config)
		roundTrip, err := ParseTags(got.String())
		require.NoError(t, err)
		assert.Equal(t, got, roundTrip)
	}
	for _, config := range []string{"", "tpu", "cpu:2d", "gpu:3d", "gpu:1d:2d", "gpu:host:device", "gpu::"} {
		_, err := ParseTags(config)
		assert.Errorf(t, err, "ParseTags(%q) should have failed", config)
	}
	assert.Equal(t, "gpu:2d:device", Tags{Device: GPU, Tiling: Tiling2D, Residency: DeviceResident}.String())
	assert.Error(t, Tags{Device: Device(7)}.Validate())
}

func TestDefaultTags(t *testing.T) {
	previous := DefaultConfig
	defer func() { DefaultConfig = previous }()

	t.Setenv(KREDUCE_BACKEND, "gpu:2d")
	tags, err := DefaultTags()
	require.NoError(t, err)
	require.Equal(t, Tags{Device: GPU, Tiling: Tiling2D}, tags)

	require.NoError(t, os.Unsetenv(KREDUCE_BACKEND))
	DefaultConfig = "gpu:device"
	tags, err = DefaultTags()
	require.NoError(t, err)
	require.Equal(t, Tags{Device: GPU, Residency: DeviceResident}, tags)

	DefaultConfig = ""
	tags, err = DefaultTags()
	require.NoError(t, err)
	require.Equal(t, Tags{Device: CPU}, tags)

	DefaultConfig = "fpga"
	_, err = DefaultTags()
	require.Error(t, err)
}

func TestLaunchRouting(t *testing.T) {
	r := testReduction(t, dtypes.Float64)
	const nx, ny = 5, 7
	args := [][]float64{make([]float64, nx*3), make([]float64, ny*3), nil, {1}}

	// No executors at all.
	withExecutors(t, nil, nil)
	_, err := Launch(r, Tags{Device: CPU}, nx, ny, nx, 4, args)
	require.ErrorIs(t, err, ErrNoExecutor)

	// CPU only: GPU requests fail, never fall back to the CPU.
	cpu := &fakeExecutor{name: "c"}
	withExecutors(t, cpu, nil)
	out, err := Launch(r, Tags{Device: CPU}, nx, ny, nx, 4, args)
	require.NoError(t, err)
	require.Equal(t, "c", out.Executor)
	require.Equal(t, nx, out.Rows)
	require.Equal(t, 4, out.Dim)
	require.Len(t, out.Data, nx*4)
	require.Equal(t, []float64{1, 1, 1, 1}, out.Row(2))
	require.Len(t, cpu.jobs, 1)
	require.Equal(t, out.JobID, cpu.jobs[0].ID)
	require.Nil(t, cpu.jobs[0].Args[2], "unused argument indices are not passed to executors")

	_, err = Launch(r, Tags{Device: GPU}, nx, ny, nx, 4, args)
	require.ErrorIs(t, err, ErrNoAccelerator)
	_, err = Launch(r, Tags{Device: GPU, Tiling: Tiling2D, Residency: DeviceResident}, nx, ny, nx, 4, args)
	require.ErrorIs(t, err, ErrNoAccelerator)
	require.Len(t, cpu.jobs, 1, "GPU requests must not reach the CPU executor")

	// Host-only accelerator.
	acc := &fakeExecutor{name: "accel"}
	withExecutors(t, cpu, acc)
	out, err = Launch(r, Tags{Device: GPU, Tiling: Tiling2D}, nx, ny, nx, 4, args)
	require.NoError(t, err)
	require.Equal(t, "accel", out.Executor)
	require.Equal(t, Tiling2D, acc.jobs[0].Tags.Tiling)
	require.Equal(t, []float64{5, 5, 5, 5}, out.Row(0))
	_, err = Launch(r, Tags{Device: GPU, Residency: DeviceResident}, nx, ny, nx, 4, args)
	require.ErrorIs(t, err, ErrDeviceResidencyUnsupported)
	require.Len(t, acc.jobs, 1)

	// Accelerator with device residency support.
	acc.deviceResidency = true
	_, err = Launch(r, Tags{Device: GPU, Residency: DeviceResident}, nx, ny, nx, 4, args)
	require.NoError(t, err)
	require.Len(t, acc.jobs, 2)

	// Executor errors are returned.
	acc.err = errors.New("out of memory")
	_, err = Launch(r, Tags{Device: GPU}, nx, ny, nx, 4, args)
	require.ErrorContains(t, err, "out of memory")

	require.Same(t, acc, UnregisterAccelerator())
	require.False(t, HasAccelerator())
}

func TestLaunchValidation(t *testing.T) {
	cpu := &fakeExecutor{name: "c"}
	withExecutors(t, cpu, nil)
	r := testReduction(t, dtypes.Float64)
	require.Equal(t, 4, r.NArgs())
	const nx, ny = 5, 7
	args := [][]float64{make([]float64, nx*3), make([]float64, ny*3), nil, {1}}
	cpuTags := Tags{Device: CPU}

	_, err := Launch(r, cpuTags, nx, ny, nx, 4, args)
	require.NoError(t, err)

	for _, tc := range []struct {
		name         string
		nx, ny, nOut int
		dimOut       int
		args         [][]float64
	}{
		{"negative size", -1, ny, -1, 4, args},
		{"wrong nOut", nx, ny, ny, 4, args},
		{"wrong dimOut", nx, ny, nx, 3, args},
		{"missing argument", nx, ny, nx, 4, args[:3]},
		{"short Vi buffer", nx, ny, nx, 4, [][]float64{make([]float64, nx*3-1), args[1], nil, args[3]}},
		{"long Vj buffer", nx, ny, nx, 4, [][]float64{args[0], make([]float64, ny*3+3), nil, args[3]}},
		{"parameter buffer", nx, ny, nx, 4, [][]float64{args[0], args[1], nil, {1, 2}}},
	} {
		_, err := Launch(r, cpuTags, tc.nx, tc.ny, tc.nOut, tc.dimOut, tc.args)
		assert.ErrorIsf(t, err, ErrInvalidInput, "test case %q", tc.name)
	}

	_, err = Launch(r, Tags{Device: CPU, Tiling: Tiling(3)}, nx, ny, nx, 4, args)
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = Launch[float64](nil, cpuTags, nx, ny, nx, 4, args)
	require.ErrorIs(t, err, ErrInvalidInput)

	// Precision of the buffers must match the reduction.
	args32 := [][]float32{make([]float32, nx*3), make([]float32, ny*3), nil, {1}}
	_, err = Launch(r, cpuTags, nx, ny, nx, 4, args32)
	require.ErrorIs(t, err, ErrPrecision)
	require.Len(t, cpu.jobs, 1, "invalid launches must not reach the executor")
}

func TestLaunchProgress(t *testing.T) {
	withExecutors(t, &fakeExecutor{name: "c"}, nil)
	r := testReduction(t, dtypes.Float64)
	const nx, ny = 3, 2
	args := [][]float64{make([]float64, nx*3), make([]float64, ny*3), nil, {1}}
	var calls [][2]int
	_, err := Launch(r, Tags{}, nx, ny, nx, 4, args, WithProgress(func(done, total int) {
		calls = append(calls, [2]int{done, total})
	}))
	require.NoError(t, err)
	require.Equal(t, [][2]int{{3, 3}}, calls)
}

func TestDTypeOf(t *testing.T) {
	require.Equal(t, dtypes.Float32, DTypeOf[float32]())
	require.Equal(t, dtypes.Float64, DTypeOf[float64]())
}
