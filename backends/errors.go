// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "github.com/pkg/errors"

// Errors returned by Launch, wrapped with the details of the failure: test for them with errors.Is.
var (
	// ErrNoAccelerator is returned when GPU execution is requested but no accelerator is registered.
	ErrNoAccelerator = errors.New("GPU execution requested, but no accelerator support is available: " +
		"register one with backends.RegisterAccelerator (e.g. build with -tags kreduce_gpuemu and import " +
		"github.com/gomlx/kreduce/backends/default)")

	// ErrDeviceResidencyUnsupported is returned when device resident arguments are given to an
	// accelerator that only supports host resident arguments.
	ErrDeviceResidencyUnsupported = errors.New("GPU computations with device resident arguments are not " +
		"supported by the registered accelerator, computations are performed from host data")

	// ErrNoExecutor is returned when CPU execution is requested and no CPU executor is registered.
	ErrNoExecutor = errors.New("no CPU executor registered, maybe import " +
		"_ \"github.com/gomlx/kreduce/backends/default\"?")

	// ErrInvalidInput is returned for inputs inconsistent with the reduction: sizes, number of
	// arguments, buffer lengths or tags.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPrecision is returned when the buffers precision doesn't match the reduction precision.
	ErrPrecision = errors.New("precision mismatch")
)
