// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends dispatches reduction jobs to the executors that run them.
//
// An executor is selected by three independent tags (see Tags): the device (CPU or GPU), the
// tiling strategy used by an accelerator, and where the argument buffers reside. Executors
// register themselves during package initialization: the CPU executor in package
// github.com/gomlx/kreduce/backends/cpu and an accelerator with RegisterAccelerator. To get
// the default ones simply include:
//
//	import _ "github.com/gomlx/kreduce/backends/default"
//
// Requests that can't be served are reported as errors (see ErrNoAccelerator and
// ErrDeviceResidencyUnsupported): there is never a silent fallback to a different executor.
package backends

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Executor runs reduction jobs.
type Executor interface {
	// Name returns the short name of the executor, used for logging.
	Name() string

	// Execute fills job.Output. It is called once per job, and returns only when the output
	// is fully written. It must not retain the job after returning.
	Execute(job *Job) error
}

// Accelerator is an Executor for the GPU device tag. It chooses the schedule from job.Tags.Tiling.
type Accelerator interface {
	Executor

	// SupportsDeviceResidency returns whether the accelerator accepts arguments already resident
	// in device memory.
	SupportsDeviceResidency() bool
}

var (
	muRegistry  sync.RWMutex
	cpuExecutor Executor
	accelerator Accelerator
)

// RegisterCPU registers the executor used for the CPU device tag, replacing any previous one.
//
// To be safe, call it during initialization of a package.
func RegisterCPU(executor Executor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if cpuExecutor != nil {
		klog.V(1).Infof("replacing CPU executor %q with %q", cpuExecutor.Name(), executor.Name())
	}
	cpuExecutor = executor
}

// RegisterAccelerator registers the executor used for the GPU device tag, replacing any previous one.
func RegisterAccelerator(acc Accelerator) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if accelerator != nil {
		klog.V(1).Infof("replacing accelerator %q with %q", accelerator.Name(), acc.Name())
	}
	accelerator = acc
}

// UnregisterAccelerator removes the registered accelerator, if any, and returns it.
func UnregisterAccelerator() Accelerator {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	previous := accelerator
	accelerator = nil
	return previous
}

// CPUExecutor returns the registered CPU executor, or nil.
func CPUExecutor() Executor {
	muRegistry.RLock()
	defer muRegistry.RUnlock()
	return cpuExecutor
}

// CurrentAccelerator returns the registered accelerator, or nil.
func CurrentAccelerator() Accelerator {
	muRegistry.RLock()
	defer muRegistry.RUnlock()
	return accelerator
}

// HasAccelerator returns whether GPU execution is available.
func HasAccelerator() bool { return CurrentAccelerator() != nil }

// SelectExecutor returns the executor for the given tags, or an error identifying the unmet
// requirement.
func SelectExecutor(tags Tags) (Executor, error) {
	if err := tags.Validate(); err != nil {
		return nil, err
	}
	muRegistry.RLock()
	defer muRegistry.RUnlock()
	if tags.Device == CPU {
		if cpuExecutor == nil {
			return nil, ErrNoExecutor
		}
		return cpuExecutor, nil
	}
	if accelerator == nil {
		return nil, errors.Wrapf(ErrNoAccelerator, "backend %s", tags)
	}
	if tags.Residency == DeviceResident && !accelerator.SupportsDeviceResidency() {
		return nil, errors.Wrapf(ErrDeviceResidencyUnsupported, "backend %s, accelerator %q", tags, accelerator.Name())
	}
	return accelerator, nil
}

// DefaultConfig is the backend configuration used by DefaultTags if the environment variable
// KREDUCE_BACKEND is not set. If empty, "cpu" is used.
var DefaultConfig string

// KREDUCE_BACKEND is the name of the environment variable that overrides the default backend
// configuration. See ParseTags for the format.
const KREDUCE_BACKEND = "KREDUCE_BACKEND"

// DefaultTags returns the tags configured by the environment variable KREDUCE_BACKEND, or by
// DefaultConfig if the variable is not set, or "cpu".
func DefaultTags() (Tags, error) {
	config, found := os.LookupEnv(KREDUCE_BACKEND)
	if !found {
		config = DefaultConfig
	}
	if config == "" {
		config = "cpu"
	}
	tags, err := ParseTags(config)
	if err != nil {
		return Tags{}, errors.WithMessagef(err, "default backend (set with $%s)", KREDUCE_BACKEND)
	}
	return tags, nil
}
