// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Tiling selects how an accelerator splits the work of a reduction.
type Tiling int

const (
	// Tiling1D assigns a block of output rows to each task, which streams over all the
	// reduced points.
	Tiling1D Tiling = iota

	// Tiling2D also splits the reduced points in blocks: each task produces a partial
	// accumulator for a block of output rows and a block of reduced points, and the partial
	// results are merged.
	Tiling2D
)

// String implements fmt.Stringer.
func (t Tiling) String() string {
	switch t {
	case Tiling1D:
		return "1d"
	case Tiling2D:
		return "2d"
	}
	return fmt.Sprintf("Tiling(%d)", int(t))
}

// Device selects where a reduction is executed.
type Device int

const (
	// CPU executes on the host.
	CPU Device = iota

	// GPU executes on the registered accelerator.
	GPU
)

// String implements fmt.Stringer.
func (d Device) String() string {
	switch d {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	}
	return fmt.Sprintf("Device(%d)", int(d))
}

// Residency tells where the argument buffers live. It is only meaningful for GPU.
type Residency int

const (
	// HostResident arguments are in host memory, and are transferred to the accelerator for
	// the duration of the job.
	HostResident Residency = iota

	// DeviceResident arguments already live in accelerator memory.
	DeviceResident
)

// String implements fmt.Stringer.
func (r Residency) String() string {
	switch r {
	case HostResident:
		return "host"
	case DeviceResident:
		return "device"
	}
	return fmt.Sprintf("Residency(%d)", int(r))
}

// Tags are the three independent choices that select an executor.
type Tags struct {
	Tiling    Tiling
	Device    Device
	Residency Residency
}

// String returns the tags in the format accepted by ParseTags.
func (t Tags) String() string {
	if t.Device == CPU {
		return t.Device.String()
	}
	return fmt.Sprintf("%s:%s:%s", t.Device, t.Tiling, t.Residency)
}

// Validate returns an error if any of the tags has an unknown value.
func (t Tags) Validate() error {
	if t.Tiling != Tiling1D && t.Tiling != Tiling2D {
		return errors.Wrapf(ErrInvalidInput, "invalid tiling %s", t.Tiling)
	}
	if t.Device != CPU && t.Device != GPU {
		return errors.Wrapf(ErrInvalidInput, "invalid device %s", t.Device)
	}
	if t.Residency != HostResident && t.Residency != DeviceResident {
		return errors.Wrapf(ErrInvalidInput, "invalid residency %s", t.Residency)
	}
	return nil
}

// ParseTags parses a backend configuration: "cpu" or "gpu" optionally followed by ":1d" or ":2d"
// and ":host" or ":device", in any order. GPU defaults to 1d tiling and host residency.
func ParseTags(config string) (Tags, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(config)), ":")
	var tags Tags
	switch parts[0] {
	case "cpu":
		tags.Device = CPU
		if len(parts) > 1 {
			return Tags{}, errors.Errorf("backend configuration %q: the cpu backend takes no options", config)
		}
		return tags, nil
	case "gpu":
		tags.Device = GPU
	default:
		return Tags{}, errors.Errorf("backend configuration %q: unknown device %q, valid values are \"cpu\" and \"gpu\"",
			config, parts[0])
	}

	var tilingSet, residencySet bool
	for _, part := range parts[1:] {
		switch part {
		case "1d", "2d":
			if tilingSet {
				return Tags{}, errors.Errorf("backend configuration %q: tiling given more than once", config)
			}
			tilingSet = true
			if part == "2d" {
				tags.Tiling = Tiling2D
			}
		case "host", "device":
			if residencySet {
				return Tags{}, errors.Errorf("backend configuration %q: residency given more than once", config)
			}
			residencySet = true
			if part == "device" {
				tags.Residency = DeviceResident
			}
		default:
			return Tags{}, errors.Errorf("backend configuration %q: unknown option %q, valid options are 1d, 2d, host and device",
				config, part)
		}
	}
	return tags, nil
}
