// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default executors, namely the CPU executor and, when built with
// the tag `kreduce_gpuemu`, the emulated accelerator.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/kreduce/backends/default"
package _default

import (
	_ "github.com/gomlx/kreduce/backends/cpu"
)
